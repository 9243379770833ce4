package dynamoengine_test

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	. "github.com/dogmatiq/storekit/driver/aws/dynamoengine"
	"github.com/dogmatiq/storekit/driver/aws/internal/dynamox"
	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/x/xtesting"
)

func TestEngine(t *testing.T) {
	client, table := setup(t)
	engine.RunTests(t, New(client, table))
}

func BenchmarkEngine(b *testing.B) {
	client, table := setup(b)
	engine.RunBenchmarks(b, New(client, table))
}

func setup(t testing.TB) (*dynamodb.Client, string) {
	client := dynamox.NewTestClient(t)
	table := xtesting.UniqueName("storekit")

	t.Cleanup(func() {
		ctx := xtesting.ContextForCleanup(t)

		if err := dynamox.DeleteTableIfExists(ctx, client, table, nil); err != nil {
			t.Error(err)
		}
	})

	return client, table
}
