// Package commit decides when consumed offsets are acknowledged to the log.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/lsm/streamview/internal/observability"
	"github.com/lsm/streamview/internal/retry"
	"github.com/lsm/streamview/internal/source"
	"github.com/lsm/streamview/internal/tracing"
)

// Mode names the strategy that acknowledges offsets.
type Mode string

const (
	// ModeBatch commits every CommitEveryNBatch batches of BatchSize records.
	ModeBatch Mode = "batch"
	// ModeAuto commits on a fixed interval.
	ModeAuto Mode = "auto"
	// ModeDrain commits only when the pipeline drains or partitions are revoked.
	ModeDrain Mode = "drain"

	modeRevoke Mode = "revoke"
)

// Policy configures the commit strategy.
type Policy struct {
	BatchSize          int
	CommitEveryNBatch  int
	CommitSync         bool
	NoBatchCommits     bool
	AutoCommit         bool
	AutoCommitInterval time.Duration
}

func (p Policy) batchEnabled() bool {
	return !p.NoBatchCommits && p.CommitEveryNBatch > 0 && p.BatchSize > 0
}

// Mode resolves the authoritative strategy. Batch commits take precedence
// over auto-commit.
func (p Policy) Mode() Mode {
	switch {
	case p.batchEnabled():
		return ModeBatch
	case p.AutoCommit && p.AutoCommitInterval > 0:
		return ModeAuto
	default:
		return ModeDrain
	}
}

// Conflicting reports whether both batch and auto commits are configured.
func (p Policy) Conflicting() bool {
	return p.batchEnabled() && p.AutoCommit
}

// Validate checks the policy for errors.
func (p Policy) Validate() error {
	var errs []error
	if p.BatchSize < 0 {
		errs = append(errs, errors.New("batch size must not be negative"))
	}
	if p.CommitEveryNBatch < 0 {
		errs = append(errs, errors.New("commit every n batch must not be negative"))
	}
	if p.AutoCommit && p.AutoCommitInterval <= 0 {
		errs = append(errs, errors.New("auto commit interval must be positive"))
	}
	return errors.Join(errs...)
}

// Error is returned when offsets could not be acknowledged. The offsets are
// retried on the next commit.
type Error struct {
	Mode    Mode
	Offsets map[int32]int64
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("commit (%s) of %d partition(s): %v", e.Mode, len(e.Offsets), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Coordinator tracks consumed offsets per partition and acknowledges them to
// a source.Committer according to a Policy. It is safe for concurrent use by
// the partition workers of one pipeline.
type Coordinator struct {
	committer source.Committer
	policy    Policy
	mode      Mode
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	drain     retry.Policy

	mu       sync.Mutex
	received map[int32]int64
	pending  map[int32]int64
	cursor   map[int32]int64
	inBatch  int
	batches  int
	inflight bool
	wg       sync.WaitGroup

	// commitMu serializes commits so the log never sees an older snapshot
	// after a newer one.
	commitMu sync.Mutex
}

// New creates a Coordinator. metrics may be nil.
func New(committer source.Committer, policy Policy, logger *slog.Logger, metrics *observability.Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		committer: committer,
		policy:    policy,
		mode:      policy.Mode(),
		logger:    logger,
		metrics:   metrics,
		drain:     retry.DefaultPolicy(),
		received:  make(map[int32]int64),
		pending:   make(map[int32]int64),
		cursor:    make(map[int32]int64),
	}
	if policy.Conflicting() {
		logger.Warn("batch and auto commit both configured, batch commits take precedence",
			"batch_size", policy.BatchSize,
			"commit_every_n_batch", policy.CommitEveryNBatch,
		)
	}
	return c
}

// SetTracer sets the tracer used for commit spans.
func (c *Coordinator) SetTracer(tracer trace.Tracer) {
	c.tracer = tracer
}

// SetDrainRetry sets how often Flush retries a failed commit.
func (c *Coordinator) SetDrainRetry(p retry.Policy) {
	c.drain = p
}

// Mode returns the resolved commit strategy.
func (c *Coordinator) Mode() Mode {
	return c.mode
}

// Processed records that the record at offset was handed to the views.
func (c *Coordinator) Processed(ctx context.Context, partition int32, offset int64) {
	c.track(ctx, partition, offset, observability.StatusProcessed)
}

// Skipped records that the record at offset was consumed without being
// materialized. It counts toward commit progress like a processed record.
func (c *Coordinator) Skipped(ctx context.Context, partition int32, offset int64) {
	c.track(ctx, partition, offset, observability.StatusSkipped)
}

func (c *Coordinator) track(ctx context.Context, partition int32, offset int64, status string) {
	if c.metrics != nil {
		c.metrics.RecordsTotal.WithLabelValues(status).Inc()
	}

	c.mu.Lock()
	if last, ok := c.received[partition]; !ok || offset > last {
		c.received[partition] = offset
		c.pending[partition] = offset
	}
	due := false
	if c.mode == ModeBatch {
		c.inBatch++
		if c.inBatch >= c.policy.BatchSize {
			c.inBatch = 0
			c.batches++
		}
		if c.batches >= c.policy.CommitEveryNBatch {
			c.batches = 0
			due = true
		}
	}
	c.mu.Unlock()

	if !due {
		return
	}
	if c.policy.CommitSync {
		if err := c.commit(ctx, ModeBatch); err != nil {
			c.logger.Error("batch commit failed", "error", err)
		}
		return
	}
	c.commitAsync(ctx)
}

// commitAsync starts a commit unless one is already running; pending offsets
// then wait for the next cycle.
func (c *Coordinator) commitAsync(ctx context.Context) {
	c.mu.Lock()
	if c.inflight {
		c.mu.Unlock()
		return
	}
	c.inflight = true
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := c.commit(context.WithoutCancel(ctx), ModeBatch); err != nil {
			c.logger.Error("batch commit failed", "error", err)
		}
		c.mu.Lock()
		c.inflight = false
		c.mu.Unlock()
	}()
}

func (c *Coordinator) takePending() map[int32]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	offsets := c.pending
	c.pending = make(map[int32]int64, len(offsets))
	return offsets
}

func (c *Coordinator) commit(ctx context.Context, mode Mode) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	offsets := c.takePending()
	if offsets == nil {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, c.tracer, tracing.SpanCommit)
	defer span.End()

	err := c.committer.Commit(ctx, offsets)

	c.mu.Lock()
	if err != nil {
		// Give the offsets back unless newer ones arrived, the partition
		// was revoked, or a higher offset is already acknowledged.
		for p, o := range offsets {
			if _, owned := c.received[p]; !owned {
				continue
			}
			if acked, ok := c.cursor[p]; ok && o <= acked {
				continue
			}
			if cur, ok := c.pending[p]; !ok || o > cur {
				c.pending[p] = o
			}
		}
	} else {
		for p, o := range offsets {
			if _, owned := c.received[p]; !owned {
				continue
			}
			if cur, ok := c.cursor[p]; !ok || o > cur {
				c.cursor[p] = o
				if c.metrics != nil {
					c.metrics.CommitCursor.WithLabelValues(strconv.Itoa(int(p))).Set(float64(o))
				}
			}
		}
	}
	c.mu.Unlock()

	result := "ok"
	if err != nil {
		result = "error"
		err = &Error{Mode: mode, Offsets: offsets, Err: err}
		tracing.SetSpanError(span, err)
	} else {
		c.logger.Debug("offsets committed", "mode", mode, "offsets", offsets)
	}
	if c.metrics != nil {
		c.metrics.CommitsTotal.WithLabelValues(string(mode), result).Inc()
	}
	return err
}

// Run drives interval commits in auto mode and returns when ctx is done.
// In the other modes it only waits for ctx.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.mode != ModeAuto {
		<-ctx.Done()
		return nil
	}

	c.logger.Info("auto commit started", "interval", c.policy.AutoCommitInterval)
	ticker := time.NewTicker(c.policy.AutoCommitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.commit(ctx, ModeAuto); err != nil {
				c.logger.Error("auto commit failed", "error", err)
			}
		}
	}
}

// Flush waits for a running asynchronous commit, then synchronously
// acknowledges everything pending. There is no later cycle to pick up a
// failed drain, so the commit is retried per the drain policy.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.wg.Wait()
	return retry.Do(ctx, c.drain, func() error {
		err := c.commit(ctx, ModeDrain)
		if err != nil {
			c.logger.Warn("drain commit failed", "error", err)
		}
		return err
	})
}

// Revoke flushes pending offsets before partitions are handed to another
// consumer and forgets their state. Lost partitions can no longer be
// committed, so their offsets are dropped.
func (c *Coordinator) Revoke(ctx context.Context, partitions []int32, lost bool) {
	c.wg.Wait()
	if !lost {
		if err := c.commit(ctx, modeRevoke); err != nil {
			c.logger.Error("commit on revoke failed", "partitions", partitions, "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range partitions {
		delete(c.received, p)
		delete(c.pending, p)
		delete(c.cursor, p)
		if c.metrics != nil {
			c.metrics.CommitCursor.DeleteLabelValues(strconv.Itoa(int(p)))
		}
	}
}

// Cursor returns a snapshot of the highest acknowledged offset per partition.
func (c *Coordinator) Cursor() map[int32]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.cursor)
}

// Pending returns a snapshot of the offsets not yet acknowledged.
func (c *Coordinator) Pending() map[int32]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.pending)
}
