package queue

import (
	"testing"

	"github.com/ghalamif/RailFlow/internal/domain"
)

func TestMemQueueKeepsJournalOrder(t *testing.T) {
	q := NewMemQueue(4)

	start := domain.NewPatch("car-1").Mark(domain.FlagStart)
	carNo := domain.NewPatch("car-1").SetText(domain.ColCarNo, "123").Mark(domain.FlagCarNo)

	if !q.Enqueue(1, start) || !q.Enqueue(2, carNo) {
		t.Fatalf("expected successful enqueue")
	}

	batch := q.DequeueBatch(1)
	if len(batch) != 1 || batch[0].ID != 1 || batch[0].Patch.Flags != domain.FlagStart {
		t.Fatalf("unexpected first batch: %+v", batch)
	}

	remaining := q.DequeueBatch(10)
	if len(remaining) != 1 || remaining[0].ID != 2 || remaining[0].Patch.Text[domain.ColCarNo] != "123" {
		t.Fatalf("unexpected second batch: %+v", remaining)
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
}

func TestMemQueueCapacity(t *testing.T) {
	q := NewMemQueue(2)

	p := domain.NewPatch("car-cap")

	if !q.Enqueue(1, p) || !q.Enqueue(2, p) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(3, p) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}

	q.DequeueBatch(1)
	if !q.Enqueue(4, p) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
	if got := q.DequeueBatch(0); len(got) != 2 {
		t.Fatalf("non-positive max should drain, got %d", len(got))
	}
}
