package dlq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lsm/streamview/internal/correlation"
	"github.com/lsm/streamview/internal/retry"
)

// Error codes attached to dead-lettered records.
const (
	CodeMissingKey   = "MISSING_KEY"
	CodeDecodeFailed = "DECODE_FAILED"
)

// Header names set on dead-lettered records.
const (
	HeaderOriginalTopic     = "streamview-original-topic"
	HeaderOriginalPartition = "streamview-original-partition"
	HeaderOriginalOffset    = "streamview-original-offset"
	HeaderErrorCode         = "streamview-error-code"
	HeaderErrorMessage      = "streamview-error-message"
	HeaderFailedAt          = "streamview-failed-at"
	HeaderCorrelationID     = "streamview-correlation-id"
)

// Publisher is the interface for publishing messages to a broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

// FailureInfo contains metadata about why a record could not be materialized.
type FailureInfo struct {
	OriginalTopic string
	Partition     int32
	Offset        int64
	ErrorCode     string
	ErrorMessage  string
	CorrelationID string
}

// Handler publishes failed records to a dead-letter topic.
type Handler struct {
	publisher Publisher
	topicFn   func(originalTopic string) string
	retry     retry.Policy
	now       func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithTopic sends every failed record to topic.
func WithTopic(topic string) Option {
	return WithTopicFunc(func(string) string { return topic })
}

// WithTopicFunc overrides the default dead-letter topic naming function.
func WithTopicFunc(fn func(originalTopic string) string) Option {
	return func(h *Handler) {
		h.topicFn = fn
	}
}

// WithRetry retries failed publishes per p. By default a publish is
// attempted once.
func WithRetry(p retry.Policy) Option {
	return func(h *Handler) {
		h.retry = p
	}
}

// NewHandler creates a new dead-letter handler. By default records from
// topic T go to "T.dlq".
func NewHandler(pub Publisher, opts ...Option) *Handler {
	h := &Handler{
		publisher: pub,
		topicFn:   func(originalTopic string) string { return originalTopic + ".dlq" },
		retry:     retry.Once(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send publishes a failed record to the dead-letter topic.
func (h *Handler) Send(ctx context.Context, key, value []byte, info FailureInfo) error {
	topic := h.topicFn(info.OriginalTopic)

	headers := map[string]string{
		HeaderOriginalTopic:     info.OriginalTopic,
		HeaderOriginalPartition: strconv.Itoa(int(info.Partition)),
		HeaderOriginalOffset:    strconv.FormatInt(info.Offset, 10),
		HeaderErrorCode:         info.ErrorCode,
		HeaderErrorMessage:      info.ErrorMessage,
		HeaderFailedAt:          h.now().UTC().Format(time.RFC3339),
	}
	if info.CorrelationID != "" {
		headers[HeaderCorrelationID] = info.CorrelationID
	}
	headers = correlation.InjectTraceContext(ctx, headers)

	err := retry.Do(ctx, h.retry, func() error {
		return h.publisher.Publish(ctx, topic, key, value, headers)
	})
	if err != nil {
		return fmt.Errorf("dlq publish to %s: %w", topic, err)
	}
	return nil
}

// Close releases resources held by the handler.
func (h *Handler) Close() error {
	return h.publisher.Close()
}
