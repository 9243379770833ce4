package s3engine_test

import (
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dogmatiq/storekit/driver/aws/internal/s3x"
	. "github.com/dogmatiq/storekit/driver/aws/s3engine"
	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/x/xtesting"
)

func TestEngine(t *testing.T) {
	client, bucket := setup(t)
	engine.RunTests(t, New(client, bucket))
}

func BenchmarkEngine(b *testing.B) {
	client, bucket := setup(b)
	engine.RunBenchmarks(b, New(client, bucket))
}

func setup(t testing.TB) (*s3.Client, string) {
	client := s3x.NewTestClient(t)
	bucket := strings.ToLower(xtesting.UniqueName("storekit"))

	t.Cleanup(func() {
		ctx := xtesting.ContextForCleanup(t)

		if err := s3x.DeleteBucketIfExists(ctx, client, bucket, nil); err != nil {
			t.Error(err)
		}
	})

	return client, bucket
}
