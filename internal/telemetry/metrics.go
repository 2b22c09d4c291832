// Package telemetry installs the process-wide OpenTelemetry meter provider.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ShutdownFunc flushes pending metrics and stops the provider.
type ShutdownFunc func(context.Context) error

// SetupMetrics makes the global meter provider export to w as JSON. Metrics
// are written when the returned function is called, so a short-lived command
// reports everything it recorded on exit.
func SetupMetrics(w io.Writer) (ShutdownFunc, error) {
	exporter, err := stdoutmetric.New(
		stdoutmetric.WithWriter(w),
		stdoutmetric.WithoutTimestamps(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
