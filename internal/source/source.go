// Package source defines the log source the ingestion loop consumes from.
package source

import "context"

// Record is one entry of a partitioned log. A nil Key means the record has
// no key.
type Record struct {
	Topic         string
	Partition     int32
	Offset        int64
	Key           []byte
	Value         []byte
	Headers       map[string]string
	CorrelationID string
}

// Handler processes one record. Records of a partition are handed over one
// at a time in log order; records of different partitions may be handled
// concurrently.
type Handler func(ctx context.Context, rec Record)

// Committer acknowledges consumed positions back to the log.
// offsets maps partition to the highest processed record offset.
type Committer interface {
	Commit(ctx context.Context, offsets map[int32]int64) error
}

// Source consumes records from an external log.
type Source interface {
	Committer

	// Start begins consuming. Blocks until ctx is cancelled, finishing the
	// records already fetched before returning.
	Start(ctx context.Context, handler Handler) error

	// Close performs graceful shutdown.
	Close() error
}

// RevokeFunc is called when partitions are taken away from this consumer,
// before the rebalance completes. lost is true when the partitions were
// lost (session expiry) and can no longer be committed.
type RevokeFunc func(ctx context.Context, partitions []int32, lost bool)

// Rebalancer is implemented by sources whose partitions can be reassigned.
type Rebalancer interface {
	OnRevoke(fn RevokeFunc)
}
