package railflow

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/RailFlow/internal/adapters/queue"
	"github.com/ghalamif/RailFlow/internal/adapters/wal"
	"github.com/ghalamif/RailFlow/internal/app/pipeline"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// ErrJournalFull indicates the WAL or queue rejected a patch according to policy.
var ErrJournalFull = pipeline.ErrJournalFull

// PublisherConfig configures the WAL-backed patch publisher.
type PublisherConfig struct {
	Policy Policy
	WAL    WALConfig
}

// applyDefaults fills in sane thresholds so callers only override what they need.
func (c *PublisherConfig) applyDefaults() {
	if c.Policy.MaxWALSizeBytes == 0 {
		c.Policy.MaxWALSizeBytes = 1 << 30
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 10_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 200
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}
	if c.Policy.OnWALFull == "" {
		c.Policy.OnWALFull = "block"
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/railflow-publisher-wal"
	}
}

func (c *PublisherConfig) validate() error {
	if c.Policy.MaxQueueLen <= 0 {
		return fmt.Errorf("policy.max_queue_len must be > 0")
	}
	if c.Policy.MaxBatchSize <= 0 {
		return fmt.Errorf("policy.max_batch_size must be > 0")
	}
	return nil
}

// PatchPublisher lets processes other than the runtime (a remote station
// writer, a backfill job) push patches into a completion store with the
// same durability and backpressure as the runtime's own journal.
type PatchPublisher struct {
	journal *pipeline.Journal
	wal     *wal.FileWAL
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPatchPublisher opens the WAL, replays anything left uncommitted and
// starts moving patches into store.
func NewPatchPublisher(cfg *PublisherConfig, store Sink, obs Observability) (*PatchPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = defaultObservability("info")
	}

	w, err := wal.NewFileWAL(cfg.WAL.Dir)
	if err != nil {
		return nil, err
	}
	q := queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	j := pipeline.NewJournal(w, q, cfg.Policy, obs)
	if _, err := j.Replay(); err != nil {
		_ = w.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PatchPublisher{journal: j, wal: w, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		_ = pipeline.RunIngest(ctx, w, q, store, cfg.Policy, obs)
	}()
	return p, nil
}

// Publish appends the patch to the WAL and enqueues it according to policy.
func (p *PatchPublisher) Publish(patch *Patch) error {
	return p.journal.Submit(patch)
}

// Stats reports the WAL position of the publisher.
func (p *PatchPublisher) Stats() ports.WALStats { return p.wal.Stats() }

// Close stops the ingest loop and closes the WAL. Patches not yet written
// stay in the WAL for the next publisher on the same directory.
func (p *PatchPublisher) Close(ctx context.Context) error {
	p.cancel()
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.wal.Close()
}
