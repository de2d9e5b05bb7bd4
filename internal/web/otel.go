package web

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/precland/precland/internal/web"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
