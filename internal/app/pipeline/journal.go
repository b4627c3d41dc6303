package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// ErrJournalFull is returned by Submit when the WAL or queue policy rejects a patch.
var ErrJournalFull = errors.New("journal: full")

// Journal makes patches durable before they reach the store: every patch is
// appended to the WAL and then queued for the ingest loop.
type Journal struct {
	wal ports.WAL
	q   ports.PatchQueue
	pol ports.Policy
	obs ports.Observability
}

func NewJournal(wal ports.WAL, q ports.PatchQueue, pol ports.Policy, obs ports.Observability) *Journal {
	return &Journal{wal: wal, q: q, pol: pol, obs: obs}
}

// Submit validates p, journals it and queues it. It is safe for concurrent use.
func (j *Journal) Submit(p *domain.Patch) error {
	if err := p.Validate(); err != nil {
		j.obs.RecordDLQ(0, p, err)
		return err
	}
	if !waitForWALCapacity(j.wal, j.pol, j.obs) {
		j.obs.IncCounter(ports.MetricJournalDropped, 1)
		return ErrJournalFull
	}

	id, err := j.wal.Append(p)
	if err != nil {
		j.obs.LogCritical("wal_append_failed", err, ports.Field{Key: "event_id", Value: p.EventID})
		return fmt.Errorf("journal %s: %w", p.EventID, err)
	}

	if !enqueueWithPolicy(j.q, id, p, j.pol, j.obs) {
		j.obs.IncCounter(ports.MetricJournalDropped, 1)
		return ErrJournalFull
	}
	return nil
}

// Replay queues every uncommitted WAL entry. It runs once at startup, before
// the ingest loop and any producer.
func (j *Journal) Replay() (int, error) {
	n := 0
	from := j.wal.Stats().OldestUncommitted
	err := j.wal.Iterate(from, func(id ports.WALEntryID, p *domain.Patch) error {
		if !enqueueWithPolicy(j.q, id, p, j.pol, j.obs) {
			return ErrJournalFull
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("wal replay: %w", err)
	}
	if n > 0 {
		j.obs.LogInfo("wal_replayed", ports.Field{Key: "patches", Value: n}, ports.Field{Key: "from", Value: uint64(from)})
	}
	return n, nil
}

// SampleGauges publishes the WAL size and queue depth.
func (j *Journal) SampleGauges() {
	j.obs.SetGauge(ports.MetricWALSize, float64(j.wal.Stats().SizeBytes))
	j.obs.SetGauge(ports.MetricJournalQueueLen, float64(j.q.Len()))
}

func idleSleep(pol ports.Policy) time.Duration {
	if pol.IdleSleep <= 0 {
		return 5 * time.Millisecond
	}
	return pol.IdleSleep
}

func waitForWALCapacity(wal ports.WAL, pol ports.Policy, obs ports.Observability) bool {
	if pol.MaxWALSizeBytes <= 0 {
		return true
	}
	sleep := idleSleep(pol)

	for {
		stats := wal.Stats()
		if stats.SizeBytes < pol.MaxWALSizeBytes {
			return true
		}

		switch pol.OnWALFull {
		case "block":
			time.Sleep(sleep)
		case "reject", "drop":
			obs.LogError("wal_full_reject", fmt.Errorf("size=%d limit=%d", stats.SizeBytes, pol.MaxWALSizeBytes))
			return false
		default:
			obs.LogError("wal_policy_invalid", fmt.Errorf("policy=%s", pol.OnWALFull))
			return false
		}
	}
}

func enqueueWithPolicy(q ports.PatchQueue, id ports.WALEntryID, p *domain.Patch, pol ports.Policy, obs ports.Observability) bool {
	sleep := idleSleep(pol)

	for {
		if ok := q.Enqueue(id, p); ok {
			return true
		}

		switch pol.OnQueueFull {
		case "block":
			time.Sleep(sleep)
		case "drop", "reject":
			obs.LogError("queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen),
				ports.Field{Key: "event_id", Value: p.EventID})
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}
