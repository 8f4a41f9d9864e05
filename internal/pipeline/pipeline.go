package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lsm/streamview/internal/commit"
	"github.com/lsm/streamview/internal/dlq"
	"github.com/lsm/streamview/internal/materialize/table"
	"github.com/lsm/streamview/internal/observability"
	"github.com/lsm/streamview/internal/source"
	"github.com/lsm/streamview/internal/tracing"
)

// RawView is the write side of the raw key/value view.
type RawView interface {
	Put(ctx context.Context, key string, value []byte, offset int64) error
	Close() error
}

// TableView is the write side of the decoded table view.
type TableView interface {
	Apply(ctx context.Context, key string, value []byte, offset int64) error
	Close() error
}

// MissingKeyError reports a record that carries no key and therefore cannot
// be materialized.
type MissingKeyError struct {
	Topic     string
	Partition int32
	Offset    int64
	Value     []byte
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("record %s/%d@%d has no key", e.Topic, e.Partition, e.Offset)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDeadLetter publishes records that fail on a missing key or a decode
// error through h.
func WithDeadLetter(h *dlq.Handler) Option {
	return func(p *Pipeline) { p.dlq = h }
}

// WithMetrics records ingestion metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = observability.NewTraceLogger(l) }
}

// WithTracer sets the tracer for materialize spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// Pipeline routes every record of the source to the raw and table views and
// reports its offset to the commit coordinator. A failure in one view does
// not affect the other view or commit progress.
type Pipeline struct {
	source      source.Source
	raw         RawView
	table       TableView
	coordinator *commit.Coordinator
	dlq         *dlq.Handler
	metrics     *observability.Metrics
	logger      *observability.TraceLogger
	tracer      trace.Tracer
}

// New creates a new Pipeline.
func New(src source.Source, raw RawView, tbl TableView, coord *commit.Coordinator, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:      src,
		raw:         raw,
		table:       tbl,
		coordinator: coord,
		logger:      observability.NewTraceLogger(slog.Default()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consumes until ctx is cancelled. The records already fetched are
// still materialized; call Shutdown afterwards to flush offsets.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Logger().Info("starting pipeline", "commit_mode", p.coordinator.Mode())

	if r, ok := p.source.(source.Rebalancer); ok {
		r.OnRevoke(p.coordinator.Revoke)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return p.coordinator.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		err := p.source.Start(gctx, p.handle)
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		return err
	})
	return g.Wait()
}

func (p *Pipeline) handle(ctx context.Context, rec source.Record) {
	if rec.Key == nil {
		p.missingKey(ctx, rec)
		return
	}

	key := string(rec.Key)
	p.apply(ctx, observability.ViewRaw, rec, key, func(ctx context.Context) error {
		return p.raw.Put(ctx, key, rec.Value, rec.Offset)
	})
	p.apply(ctx, observability.ViewTable, rec, key, func(ctx context.Context) error {
		return p.table.Apply(ctx, key, rec.Value, rec.Offset)
	})

	p.coordinator.Processed(ctx, rec.Partition, rec.Offset)
}

func (p *Pipeline) missingKey(ctx context.Context, rec source.Record) {
	err := &MissingKeyError{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Value:     rec.Value,
	}
	p.logger.Warn(ctx, "record without key skipped",
		"topic", rec.Topic,
		"partition", rec.Partition,
		"offset", rec.Offset,
		"correlation_id", rec.CorrelationID,
		"value", string(rec.Value),
		"error", err,
	)
	if p.metrics != nil {
		p.metrics.MissingKeyTotal.Inc()
	}
	p.deadLetter(ctx, rec, dlq.CodeMissingKey, err)
	p.coordinator.Skipped(ctx, rec.Partition, rec.Offset)
}

func (p *Pipeline) apply(ctx context.Context, view string, rec source.Record, key string, fn func(context.Context) error) {
	ctx, span := tracing.StartSpan(ctx, p.tracer, tracing.SpanMaterialize,
		trace.WithAttributes(
			tracing.ViewAttr(view),
			tracing.RecordKeyAttr(key),
			tracing.KafkaOffsetAttr(rec.Offset),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if p.metrics != nil {
		p.metrics.ApplyDuration.WithLabelValues(view).Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return
	}

	tracing.SetSpanError(span, err)
	if p.metrics != nil {
		p.metrics.MaterializeErrors.WithLabelValues(view).Inc()
	}

	var decodeErr *table.DecodeError
	if errors.As(err, &decodeErr) {
		span.SetAttributes(tracing.ErrorTypeAttr("decode"))
		if p.metrics != nil {
			p.metrics.DecodeErrors.Inc()
		}
		p.logger.Warn(ctx, "record value could not be decoded",
			"view", view,
			"topic", rec.Topic,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"key", key,
			"correlation_id", rec.CorrelationID,
			"error", err,
		)
		p.deadLetter(ctx, rec, dlq.CodeDecodeFailed, err)
		return
	}

	p.logger.Error(ctx, "materialize failed",
		"view", view,
		"topic", rec.Topic,
		"partition", rec.Partition,
		"offset", rec.Offset,
		"key", key,
		"correlation_id", rec.CorrelationID,
		"error", err,
	)
}

func (p *Pipeline) deadLetter(ctx context.Context, rec source.Record, code string, cause error) {
	if p.dlq == nil {
		return
	}
	ctx, span := tracing.StartSpan(ctx, p.tracer, tracing.SpanDeadLetter)
	defer span.End()

	info := dlq.FailureInfo{
		OriginalTopic: rec.Topic,
		Partition:     rec.Partition,
		Offset:        rec.Offset,
		ErrorCode:     code,
		ErrorMessage:  cause.Error(),
		CorrelationID: rec.CorrelationID,
	}
	if err := p.dlq.Send(ctx, rec.Key, rec.Value, info); err != nil {
		tracing.SetSpanError(span, err)
		p.logger.Error(ctx, "failed to send to DLQ",
			"topic", rec.Topic,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err,
		)
		return
	}
	if p.metrics != nil {
		p.metrics.DLQTotal.Inc()
	}
}

// Shutdown flushes pending offsets, then closes the source, both views and
// the dead-letter handler in order. Returns all errors joined.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.logger.Logger().Info("shutting down pipeline")

	var errs []error

	if err := p.coordinator.Flush(ctx); err != nil {
		p.logger.Logger().Error("final commit failed", "error", err)
		errs = append(errs, fmt.Errorf("final commit: %w", err))
	}
	if err := p.source.Close(); err != nil {
		p.logger.Logger().Error("source close error", "error", err)
		errs = append(errs, fmt.Errorf("source close: %w", err))
	}
	if err := p.raw.Close(); err != nil {
		p.logger.Logger().Error("raw view close error", "error", err)
		errs = append(errs, fmt.Errorf("raw view close: %w", err))
	}
	if err := p.table.Close(); err != nil {
		p.logger.Logger().Error("table view close error", "error", err)
		errs = append(errs, fmt.Errorf("table view close: %w", err))
	}
	if p.dlq != nil {
		if err := p.dlq.Close(); err != nil {
			p.logger.Logger().Error("dlq close error", "error", err)
			errs = append(errs, fmt.Errorf("dlq close: %w", err))
		}
	}

	p.logger.Logger().Info("pipeline shutdown complete", "cursor", p.coordinator.Cursor())
	return errors.Join(errs...)
}
