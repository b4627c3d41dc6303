package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/RailFlow/internal/adapters/queue"
	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

type flakySink struct {
	mu       sync.Mutex
	failures int
	attempts int
	written  []*domain.Patch
}

func (s *flakySink) Name() string { return "flaky" }

func (s *flakySink) WriteBatch(p []*domain.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return errors.New("db down")
	}
	s.written = append(s.written, p...)
	return nil
}

func (s *flakySink) count() (attempts, written int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts, len(s.written)
}

func TestRunIngestRetriesUntilStored(t *testing.T) {
	w := &mockWAL{sizes: []int64{0}}
	q := queue.NewMemQueue(8)
	q.Enqueue(7, domain.NewPatch("car-1").Mark(domain.FlagStart))
	q.Enqueue(9, domain.NewPatch("car-1").SetText(domain.ColCarNo, "042").Mark(domain.FlagCarNo))

	sink := &flakySink{failures: 2}
	obs := &mockObs{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunIngest(ctx, w, q, sink, ports.Policy{MaxBatchSize: 10, IdleSleep: time.Millisecond}, obs)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, written := sink.count(); written == 2 && w.lastCommit() == 9 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch never stored, commit=%d", w.lastCommit())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	attempts, _ := sink.count()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(obs.errors) != 2 {
		t.Fatalf("expected 2 logged failures, got %d", len(obs.errors))
	}
	if obs.counter(ports.MetricPatchesWritten) != 2 {
		t.Fatalf("expected 2 patches counted, got %v", obs.counter(ports.MetricPatchesWritten))
	}
}

func TestRunIngestStopsWhileRetrying(t *testing.T) {
	w := &mockWAL{sizes: []int64{0}}
	q := queue.NewMemQueue(8)
	q.Enqueue(1, domain.NewPatch("car-1"))

	sink := &flakySink{failures: 1 << 30}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunIngest(ctx, w, q, sink, ports.Policy{IdleSleep: time.Millisecond}, &mockObs{})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("ingest did not stop")
	}
	if w.lastCommit() != 0 {
		t.Fatalf("failed batch must stay uncommitted, got %d", w.lastCommit())
	}
}
