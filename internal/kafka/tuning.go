package kafka

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Client option names, as used by librdkafka-based clients.
const (
	OptBrokerList          = "metadata.broker.list"
	OptGroupID             = "group.id"
	OptClientID            = "client.id"
	OptEventCB             = "event_cb"
	OptCompressionCodec    = "compression.codec"
	OptAPIVersionRequest   = "api.version.request"
	OptSocketKeepalive     = "socket.keepalive.enable"
	OptSocketBlockingMaxMs = "socket.blocking.max.ms"
	OptEnableAutoCommit    = "enable.auto.commit"
	OptAutoCommitInterval  = "auto.commit.interval.ms"
	OptHeartbeatInterval   = "heartbeat.interval.ms"
	OptRetryBackoff        = "retry.backoff.ms"
	OptFetchMinBytes       = "fetch.min.bytes"
	OptFetchMaxBytes       = "fetch.message.max.bytes"
	OptQueuedMinMessages   = "queued.min.messages"
	OptFetchErrorBackoff   = "fetch.error.backoff.ms"
	OptQueuedMaxKBytes     = "queued.max.messages.kbytes"
	OptFetchWaitMax        = "fetch.wait.max.ms"
	OptQueueBufferingMax   = "queue.buffering.max.ms"
	OptBatchNumMessages    = "batch.num.messages"
	OptAutoOffsetReset     = "auto.offset.reset"
	OptRequiredAcks        = "request.required.acks"
)

// Options read outside of ConsumerOptions/ProducerOptions: cluster identity,
// the commit coordinator and the source poll loop.
var handledElsewhere = []string{
	OptBrokerList, OptGroupID, OptClientID, OptSocketKeepalive,
	OptEnableAutoCommit, OptAutoCommitInterval, OptFetchErrorBackoff,
}

var consumerKeys = []string{
	OptHeartbeatInterval, OptRetryBackoff, OptFetchMinBytes,
	OptFetchMaxBytes, OptFetchWaitMax, OptAutoOffsetReset,
}

var producerKeys = []string{
	OptCompressionCodec, OptRequiredAcks, OptQueueBufferingMax,
	OptBatchNumMessages, OptRetryBackoff,
}

// Tuning carries client options keyed by name, exactly as configured.
// Options franz-go has an equivalent for are translated to kgo options;
// the rest are listed by Unused. An empty value means unset.
type Tuning map[string]string

// Bool reports whether key holds any non-empty value.
func (t Tuning) Bool(key string) bool {
	return t[key] != ""
}

// Int parses key as an integer. ok is false when the key is unset.
func (t Tuning) Int(key string) (n int, ok bool, err error) {
	v := strings.TrimSpace(t[key])
	if v == "" {
		return 0, false, nil
	}
	n, err = strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// Millis parses key as a millisecond duration.
func (t Tuning) Millis(key string) (time.Duration, bool, error) {
	n, ok, err := t.Int(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if n < 0 {
		return 0, false, fmt.Errorf("%s: must not be negative", key)
	}
	return time.Duration(n) * time.Millisecond, true, nil
}

// StartOffset translates auto.offset.reset. Defaults to the earliest offset.
func (t Tuning) StartOffset() (kgo.Offset, error) {
	switch strings.ToLower(strings.TrimSpace(t[OptAutoOffsetReset])) {
	case "", "earliest", "smallest", "beginning":
		return kgo.NewOffset().AtStart(), nil
	case "latest", "largest", "end":
		return kgo.NewOffset().AtEnd(), nil
	default:
		return kgo.Offset{}, fmt.Errorf("%s: unsupported value %q", OptAutoOffsetReset, t[OptAutoOffsetReset])
	}
}

// ConsumerOptions translates the consumer-side tuning options.
func (t Tuning) ConsumerOptions() ([]kgo.Opt, error) {
	var opts []kgo.Opt
	var errs []error

	if d, ok, err := t.Millis(OptHeartbeatInterval); err != nil {
		errs = append(errs, err)
	} else if ok {
		opts = append(opts, kgo.HeartbeatInterval(d))
	}
	if d, ok, err := t.Millis(OptRetryBackoff); err != nil {
		errs = append(errs, err)
	} else if ok {
		opts = append(opts, kgo.RetryBackoffFn(func(int) time.Duration { return d }))
	}
	if n, ok, err := t.Int(OptFetchMinBytes); err != nil {
		errs = append(errs, err)
	} else if ok {
		opts = append(opts, kgo.FetchMinBytes(int32(n)))
	}
	if n, ok, err := t.Int(OptFetchMaxBytes); err != nil {
		errs = append(errs, err)
	} else if ok {
		opts = append(opts, kgo.FetchMaxPartitionBytes(int32(n)))
	}
	if d, ok, err := t.Millis(OptFetchWaitMax); err != nil {
		errs = append(errs, err)
	} else if ok {
		opts = append(opts, kgo.FetchMaxWait(d))
	}
	if offset, err := t.StartOffset(); err != nil {
		errs = append(errs, err)
	} else {
		opts = append(opts, kgo.ConsumeResetOffset(offset))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return opts, nil
}

// ProducerOptions translates the producer-side tuning options.
func (t Tuning) ProducerOptions() ([]kgo.Opt, error) {
	var opts []kgo.Opt
	var errs []error

	if codec := strings.ToLower(strings.TrimSpace(t[OptCompressionCodec])); codec != "" {
		c, err := compressionCodec(codec)
		if err != nil {
			errs = append(errs, err)
		} else {
			opts = append(opts, kgo.ProducerBatchCompression(c))
		}
	}
	if n, ok, err := t.Int(OptRequiredAcks); err != nil {
		errs = append(errs, err)
	} else if ok {
		switch n {
		case 0:
			opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
		case 1:
			opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
		case -1:
			opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
		default:
			errs = append(errs, fmt.Errorf("%s: unsupported value %d (must be 0, 1 or -1)", OptRequiredAcks, n))
		}
	}
	if d, ok, err := t.Millis(OptQueueBufferingMax); err != nil {
		errs = append(errs, err)
	} else if ok {
		opts = append(opts, kgo.ProducerLinger(d))
	}
	if n, ok, err := t.Int(OptBatchNumMessages); err != nil {
		errs = append(errs, err)
	} else if ok && n > 0 {
		opts = append(opts, kgo.MaxBufferedRecords(n))
	}
	if d, ok, err := t.Millis(OptRetryBackoff); err != nil {
		errs = append(errs, err)
	} else if ok {
		opts = append(opts, kgo.RetryBackoffFn(func(int) time.Duration { return d }))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return opts, nil
}

// Unused returns the set options that have no franz-go equivalent, sorted.
func (t Tuning) Unused() []string {
	var out []string
	for k, v := range t {
		if v == "" {
			continue
		}
		if slices.Contains(handledElsewhere, k) || slices.Contains(consumerKeys, k) || slices.Contains(producerKeys, k) {
			continue
		}
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func compressionCodec(name string) (kgo.CompressionCodec, error) {
	switch name {
	case "none":
		return kgo.NoCompression(), nil
	case "gzip":
		return kgo.GzipCompression(), nil
	case "snappy":
		return kgo.SnappyCompression(), nil
	case "lz4":
		return kgo.Lz4Compression(), nil
	case "zstd":
		return kgo.ZstdCompression(), nil
	default:
		return kgo.CompressionCodec{}, fmt.Errorf("%s: unsupported codec %q", OptCompressionCodec, name)
	}
}
