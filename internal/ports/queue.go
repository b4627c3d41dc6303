package ports

import "github.com/ghalamif/RailFlow/internal/domain"

type QueuedPatch struct {
	ID    WALEntryID
	Patch *domain.Patch
}

type PatchQueue interface {
	Enqueue(id WALEntryID, p *domain.Patch) bool
	DequeueBatch(max int) []QueuedPatch
	Len() int
}
