package listener

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/illmade-knight/go-markerflow/pkg/listener"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
