package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/cochaviz/runqemu/internal/cache"
)

func TestSetupMetricsWritesOnShutdown(t *testing.T) {
	var out bytes.Buffer
	shutdown, err := SetupMetrics(&out)
	if err != nil {
		t.Fatalf("SetupMetrics() error = %v", err)
	}

	metrics, err := cache.NewMetrics(otel.Meter("telemetry-test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	metrics.RecordLookup(context.Background(), "f34", cache.ResultMiss, 2048, time.Second)

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
	for _, want := range []string{"runqemu_image_cache_lookups_total", "runqemu_image_cache_downloaded_bytes_total", "f34"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("exported metrics missing %q:\n%s", want, out.String())
		}
	}
}
