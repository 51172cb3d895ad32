package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes stay low-cardinality: URLs, fingerprints and file paths go
// to logs, never to attributes that feed metrics.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// FetchFunc performs a fetch and reports its outcome.
type FetchFunc func(ctx context.Context) (outcome string, err error)

// InstrumentOperation wraps fn in a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments config store operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(ctx, operation, status, time.Since(start))

	return err
}

// InstrumentFetch instruments one fetch-or-reuse of an element file.
func (t *Telemetry) InstrumentFetch(ctx context.Context, fn FetchFunc) error {
	if t == nil {
		_, err := fn(ctx)

		return err
	}

	start := time.Now()

	if t.fetchesActive != nil {
		t.fetchesActive.Add(ctx, 1)
		defer t.fetchesActive.Add(ctx, -1)
	}

	outcome := OutcomeError

	err := t.InstrumentOperation(ctx, "tle_fetch", "tlecache", func(ctx context.Context) error {
		var err error

		outcome, err = fn(ctx)
		if err != nil {
			outcome = OutcomeError
		}

		return err
	})

	t.RecordFetch(ctx, outcome, time.Since(start))

	return err
}
