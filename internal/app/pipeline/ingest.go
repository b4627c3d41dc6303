package pipeline

import (
	"context"
	"time"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// truncateEvery is the number of committed patches between WAL compactions.
const truncateEvery = 1024

// RunIngest moves queued patches into the store until ctx is done. A batch
// that fails to write is retried after pol.IdleSleep; the WAL is committed
// only once the store accepted the batch.
func RunIngest(ctx context.Context, wal ports.WAL, q ports.PatchQueue, sink ports.Sink, pol ports.Policy, obs ports.Observability) error {
	sleep := idleSleep(pol)
	sinceTruncate := 0

	for {
		if ctx.Err() != nil {
			return nil
		}
		batch := q.DequeueBatch(pol.MaxBatchSize)
		if len(batch) == 0 {
			if !pause(ctx, sleep) {
				return nil
			}
			continue
		}

		var (
			out   = make([]*domain.Patch, 0, len(batch))
			maxID ports.WALEntryID
		)
		for _, item := range batch {
			out = append(out, item.Patch)
			if item.ID > maxID {
				maxID = item.ID
			}
		}

		for attempt := 1; ; attempt++ {
			start := time.Now()
			err := sink.WriteBatch(out)
			if err == nil {
				obs.ObserveLatency(ports.MetricStoreLatency, time.Since(start).Seconds())
				break
			}
			obs.LogError("store_write_failed", err,
				ports.Field{Key: "sink", Value: sink.Name()},
				ports.Field{Key: "patches", Value: len(out)},
				ports.Field{Key: "attempt", Value: attempt})
			if !pause(ctx, sleep) {
				// still in the WAL, replayed on next start
				return nil
			}
		}
		obs.IncCounter(ports.MetricPatchesWritten, float64(len(out)))

		if err := wal.Commit(maxID); err != nil {
			obs.LogError("wal_commit_failed", err)
			continue
		}
		sinceTruncate += len(out)
		if sinceTruncate >= truncateEvery {
			sinceTruncate = 0
			if err := wal.TruncateCommitted(); err != nil {
				obs.LogError("wal_truncate_failed", err)
			}
		}
	}
}

// pause sleeps for d and reports false when ctx ended first.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
