package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/lsm/streamview/internal/correlation"
	"github.com/lsm/streamview/internal/kafka"
	"github.com/lsm/streamview/internal/source"
	"github.com/lsm/streamview/internal/tracing"
)

// Config holds Kafka source configuration.
type Config struct {
	Cluster       *kafka.ClusterConfig // required
	Topic         string
	ConsumerGroup string
	Tuning        kafka.Tuning

	// Concurrency is the number of partitions of one fetch processed in
	// parallel. Records of a single partition are always sequential.
	Concurrency int

	// MaxPollRecords caps the records taken per poll; 0 takes everything buffered.
	MaxPollRecords int
}

// consumer abstracts the kafka client methods used by Source for testing.
type consumer interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	CommitOffsetsSync(ctx context.Context, offsets map[string]map[int32]kgo.EpochOffset,
		onDone func(*kgo.Client, *kmsg.OffsetCommitRequest, *kmsg.OffsetCommitResponse, error))
	AllowRebalance()
	Close()
}

// Source consumes records from one Kafka topic as part of a consumer group.
// Offsets are never committed automatically: Commit is driven by the caller.
type Source struct {
	client       consumer
	topic        string
	concurrency  int
	maxPoll      int
	errorBackoff time.Duration
	logger       *slog.Logger
	tracer       trace.Tracer

	mu       sync.RWMutex
	onRevoke source.RevokeFunc
}

var (
	_ source.Source     = (*Source)(nil)
	_ source.Rebalancer = (*Source)(nil)
)

// NewSource creates a new Kafka source.
func NewSource(cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.Cluster == nil {
		return nil, fmt.Errorf("cluster config is required")
	}
	if err := cfg.Cluster.Validate(); err != nil {
		return nil, fmt.Errorf("cluster config: %w", err)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	errorBackoff, _, err := cfg.Tuning.Millis(kafka.OptFetchErrorBackoff)
	if err != nil {
		return nil, err
	}

	opts, err := kafka.ClientOptions(cfg.Cluster)
	if err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}
	tuned, err := cfg.Tuning.ConsumerOptions()
	if err != nil {
		return nil, fmt.Errorf("consumer options: %w", err)
	}

	s := &Source{
		topic:        cfg.Topic,
		concurrency:  cfg.Concurrency,
		maxPoll:      cfg.MaxPollRecords,
		errorBackoff: errorBackoff,
		logger:       logger,
		tracer:       noop.NewTracerProvider().Tracer("kafka-source"),
	}

	opts = append(opts, tuned...)
	opts = append(opts,
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.OnPartitionsRevoked(func(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
			s.revoked(ctx, revoked[s.topic], false)
		}),
		kgo.OnPartitionsLost(func(ctx context.Context, _ *kgo.Client, lost map[string][]int32) {
			s.revoked(ctx, lost[s.topic], true)
		}),
	)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	s.client = client

	if unused := cfg.Tuning.Unused(); len(unused) > 0 {
		logger.Info("kafka options accepted without a client equivalent", "options", unused)
	}
	return s, nil
}

// SetTracer sets the tracer for the source.
func (s *Source) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

// OnRevoke registers fn to be called when partitions are revoked or lost.
func (s *Source) OnRevoke(fn source.RevokeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRevoke = fn
}

func (s *Source) revoked(ctx context.Context, partitions []int32, lost bool) {
	if len(partitions) == 0 {
		return
	}
	s.logger.Info("partitions revoked", "topic", s.topic, "partitions", partitions, "lost", lost)
	s.mu.RLock()
	fn := s.onRevoke
	s.mu.RUnlock()
	if fn != nil {
		fn(ctx, partitions, lost)
	}
}

// Start consumes until ctx is cancelled. Every record of a fetch is handed
// to handler, even if ctx is cancelled meanwhile; rebalances wait until the
// fetch is fully handled.
func (s *Source) Start(ctx context.Context, handler source.Handler) error {
	s.logger.Info("starting kafka consumer", "topic", s.topic, "concurrency", s.concurrency)

	for {
		fetches := s.client.PollRecords(ctx, s.maxPoll)
		if fetches.IsClientClosed() {
			s.logger.Info("kafka client closed", "topic", s.topic)
			return nil
		}

		var fetchErr bool
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			fetchErr = true
			s.logger.Error("fetch error", "topic", topic, "partition", partition, "error", err)
		})

		s.process(context.WithoutCancel(ctx), fetches, handler)
		s.client.AllowRebalance()

		// Check for cancellation after processing the batch, ensuring
		// all records from the last fetch are fully drained before exit.
		if ctx.Err() != nil {
			s.logger.Info("kafka source draining complete", "topic", s.topic)
			return ctx.Err()
		}

		if fetchErr && s.errorBackoff > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.errorBackoff):
			}
		}
	}
}

func (s *Source) process(ctx context.Context, fetches kgo.Fetches, handler source.Handler) {
	var partitions [][]*kgo.Record
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		if len(p.Records) > 0 {
			partitions = append(partitions, p.Records)
		}
	})

	if len(partitions) == 1 || s.concurrency == 1 {
		for _, records := range partitions {
			s.processPartition(ctx, records, handler)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, records := range partitions {
		g.Go(func() error {
			s.processPartition(ctx, records, handler)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Source) processPartition(ctx context.Context, records []*kgo.Record, handler source.Handler) {
	for _, record := range records {
		rec := source.Record{
			Topic:     record.Topic,
			Partition: record.Partition,
			Offset:    record.Offset,
			Key:       record.Key,
			Value:     record.Value,
			Headers:   make(map[string]string, len(record.Headers)),
		}
		for _, h := range record.Headers {
			rec.Headers[h.Key] = string(h.Value)
		}

		corrID := correlation.ExtractOrGenerate(rec.Headers)
		rec.CorrelationID = corrID.Value
		recordCtx := correlation.ExtractTraceContext(ctx, rec.Headers)

		spanCtx, span := tracing.StartSpan(recordCtx, s.tracer, tracing.SpanKafkaConsume,
			trace.WithAttributes(
				tracing.KafkaTopicAttr(record.Topic),
				tracing.KafkaPartitionAttr(record.Partition),
				tracing.KafkaOffsetAttr(record.Offset),
				tracing.CorrelationAttr(corrID.Value),
			),
		)

		s.logger.Debug("record received",
			"correlation_id", corrID.Value,
			"correlation_source", corrID.Source,
			"topic", record.Topic,
			"partition", record.Partition,
			"offset", record.Offset,
		)

		handler(spanCtx, rec)
		span.End()
	}
}

// Commit synchronously acknowledges offsets, a map of partition to the
// highest processed record offset. Kafka stores the next offset to read,
// so each is committed as offset+1.
func (s *Source) Commit(ctx context.Context, offsets map[int32]int64) error {
	if len(offsets) == 0 {
		return nil
	}
	toCommit := make(map[int32]kgo.EpochOffset, len(offsets))
	for p, o := range offsets {
		toCommit[p] = kgo.EpochOffset{Epoch: -1, Offset: o + 1}
	}

	var errs []error
	s.client.CommitOffsetsSync(ctx, map[string]map[int32]kgo.EpochOffset{s.topic: toCommit},
		func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, resp *kmsg.OffsetCommitResponse, err error) {
			if err != nil {
				errs = append(errs, err)
				return
			}
			for _, t := range resp.Topics {
				for _, p := range t.Partitions {
					if perr := kerr.ErrorForCode(p.ErrorCode); perr != nil {
						errs = append(errs, fmt.Errorf("partition %d: %w", p.Partition, perr))
					}
				}
			}
		})
	return errors.Join(errs...)
}

// Close performs graceful shutdown of the Kafka client.
func (s *Source) Close() error {
	s.client.Close()
	return nil
}
