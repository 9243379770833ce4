package engine_test

import (
	"testing"

	"github.com/dogmatiq/storekit/driver/memory/memoryengine"
	. "github.com/dogmatiq/storekit/engine"
	nooplog "go.opentelemetry.io/otel/log/noop"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

func TestWithTelemetry(t *testing.T) {
	RunTests(
		t,
		WithTelemetry(
			&memoryengine.Engine{},
			nooptrace.NewTracerProvider(),
			noopmetric.NewMeterProvider(),
			nooplog.NewLoggerProvider(),
		),
	)
}
