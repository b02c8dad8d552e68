package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/tokenrelay/token-relay/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Store with metrics and span attributes.
type Instrumented struct {
	wrapped   Store
	cacheType string
}

// NewInstrumented creates an instrumented store wrapper.
func NewInstrumented(store Store, cacheType string) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped:   store,
		cacheType: cacheType,
	}
}

func (i *Instrumented) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()

	value, found, err := i.wrapped.Get(ctx, key)

	status := "miss"
	if err != nil {
		status = "error"
	} else if found {
		status = "hit"
	}
	i.record(ctx, "get", status, time.Since(start))

	return value, found, err
}

func (i *Instrumented) SetWithExpiry(ctx context.Context, key string, token string, ttl time.Duration) error {
	start := time.Now()

	err := i.wrapped.SetWithExpiry(ctx, key, token, ttl)

	status := "success"
	if err != nil {
		status = "error"
	} else if ttl <= 0 {
		status = "skipped"
	}
	i.record(ctx, "set", status, time.Since(start))

	return err
}

func (i *Instrumented) Ping(ctx context.Context) error {
	start := time.Now()

	err := i.wrapped.Ping(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.record(ctx, "ping", status, time.Since(start))

	return err
}

func (i *Instrumented) Close() error {
	return i.wrapped.Close()
}

func (i *Instrumented) record(ctx context.Context, operation, status string, duration time.Duration) {
	if cacheOperations != nil {
		cacheOperations.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("cache.type", i.cacheType),
				attribute.String("cache.operation", operation),
				attribute.String("cache.status", status),
			),
		)
	}

	if cacheDuration != nil {
		cacheDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("cache.type", i.cacheType),
				attribute.String("cache.operation", operation),
			),
		)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}
