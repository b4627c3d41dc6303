package ports

import (
	"context"
	"time"

	"github.com/ghalamif/RailFlow/internal/domain"
)

// Sink receives batches of patches from the journal.
type Sink interface {
	WriteBatch(patches []*domain.Patch) error
	Name() string
}

// FinalizeCutoffs holds, per flag category, the creation time before which an
// unset flag is forced with its sentinel. A zero time disables the category.
type FinalizeCutoffs struct {
	CarNo   time.Time
	Zone1   time.Time
	Zone2   time.Time
	WheelWS time.Time
	WheelDS time.Time
}

// Store is the completion store: patch upserts, forced finalization and
// read-and-mark polling of display-ready records.
type Store interface {
	Sink
	PollReady(ctx context.Context, limit int) ([]domain.EventRecord, error)
	Finalize(ctx context.Context, cutoffs FinalizeCutoffs) (int64, error)
	LastSeqNo(ctx context.Context) (int64, error)
}

// Journal durably accepts patches on their way to the store.
type Journal interface {
	Submit(p *domain.Patch) error
}
