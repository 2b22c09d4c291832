package cache

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFetchRecordsLookups(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(provider.Meter("cache-test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	srv := newImageServer(t, "Mon, 02 Jan 2023 15:04:05 GMT", "12345")
	fetcher := newTestFetcher(newMemStore())
	fetcher.Metrics = metrics
	cacheDir := t.TempDir()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := fetcher.Fetch(ctx, srv.URL+"/f34.qcow2", cacheDir, "f34"); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	lookups := map[string]int64{}
	var downloaded int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch m.Name {
				case "runqemu_image_cache_lookups_total":
					result, _ := dp.Attributes.Value(attribute.Key("result"))
					lookups[result.AsString()] += dp.Value
				case "runqemu_image_cache_downloaded_bytes_total":
					downloaded += dp.Value
				}
			}
		}
	}

	if lookups[ResultMiss] != 1 || lookups[ResultHit] != 2 {
		t.Fatalf("unexpected lookups %v", lookups)
	}
	if downloaded != 5 {
		t.Fatalf("downloaded bytes = %d, want 5", downloaded)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.RecordLookup(context.Background(), "f34", ResultHit, 0, 0)
}
