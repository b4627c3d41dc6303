package ports

import "github.com/ghalamif/RailFlow/internal/domain"

type WALEntryID uint64

type WAL interface {
	Append(p *domain.Patch) (WALEntryID, error)
	Iterate(from WALEntryID, fn func(id WALEntryID, p *domain.Patch) error) error
	Commit(upto WALEntryID) error
	TruncateCommitted() error
	Stats() WALStats
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}
