package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Fetch outcomes recorded as the "result" attribute.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// Metrics counts image cache lookups and downloaded bytes.
type Metrics struct {
	lookups  metric.Int64Counter
	bytes    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics registers the cache instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	lookups, err := meter.Int64Counter(
		"runqemu_image_cache_lookups_total",
		metric.WithDescription("Image cache lookups by result"),
	)
	if err != nil {
		return nil, err
	}

	bytes, err := meter.Int64Counter(
		"runqemu_image_cache_downloaded_bytes_total",
		metric.WithDescription("Bytes downloaded into the image cache"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"runqemu_image_cache_fetch_duration_seconds",
		metric.WithDescription("Duration of image cache lookups including downloads"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{lookups: lookups, bytes: bytes, duration: duration}, nil
}

// RecordLookup records one Fetch call. A nil receiver records nothing.
func (m *Metrics) RecordLookup(ctx context.Context, label, result string, downloaded int64, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("label", label),
		attribute.String("result", result),
	)
	m.lookups.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)
	if downloaded > 0 {
		m.bytes.Add(ctx, downloaded, metric.WithAttributes(attribute.String("label", label)))
	}
}
