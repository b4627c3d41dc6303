package railflow

import (
	"context"
	"testing"
	"time"

	"github.com/ghalamif/RailFlow/internal/adapters/store"
	"github.com/ghalamif/RailFlow/internal/adapters/wal"
	"github.com/ghalamif/RailFlow/internal/domain"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WAL.Dir = t.TempDir()
	cfg.Metrics.Addr = ""
	cfg.Policy.IdleSleep = time.Millisecond
	cfg.Poller.Interval = 10 * time.Millisecond
	cfg.Finalizer.Interval = 10 * time.Millisecond
	return cfg
}

func TestNewRuntimeWithCustomAdapters(t *testing.T) {
	cfg := testConfig(t)

	queueStub := &stubQueue{}
	collectorStub := &stubCollector{}
	storeStub := store.NewMemStore()
	walStub := &stubWAL{}
	obsStub := &stubObservability{}
	feedStub := NewCallbackFeed("stub", func(Message) {})

	rt, err := NewRuntime(
		cfg,
		WithCollector(collectorStub),
		WithStore(storeStub),
		WithFeed(feedStub),
		WithWAL(walStub),
		WithQueue(queueStub),
		WithObservability(obsStub),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}

	if rt.collector != collectorStub {
		t.Fatalf("expected custom collector to be used")
	}
	if rt.store != storeStub {
		t.Fatalf("expected custom store to be used")
	}
	if rt.feed != feedStub {
		t.Fatalf("expected a single feed to be used directly")
	}
	if rt.wal != walStub {
		t.Fatalf("expected custom WAL to be used")
	}
	if rt.queue != queueStub {
		t.Fatalf("expected custom queue to be used")
	}
	if rt.obs != obsStub {
		t.Fatalf("expected custom observability to be used")
	}
	if rt.db != nil || rt.walCloser != nil {
		t.Fatalf("expected no owned db or wal with custom adapters")
	}
}

func TestNewRuntimeDefaultsToMemoryStore(t *testing.T) {
	rt, err := NewRuntime(testConfig(t), WithObservability(&stubObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	defer rt.close()

	if rt.Store().Name() != "memory" {
		t.Fatalf("expected memory store, got %s", rt.Store().Name())
	}
	if rt.feed.Name() != "discard" {
		t.Fatalf("expected discard feed without feeds, got %s", rt.feed.Name())
	}
	if rt.collector != nil || len(rt.watchers) != 0 {
		t.Fatalf("expected no external inputs by default")
	}
}

func TestRuntimeCompletesWagon(t *testing.T) {
	cfg := testConfig(t)
	cfg.Zones.DelayCount = 1

	fd, msgs, closeFeed := NewChannelFeed("test", 64)
	defer closeFeed()

	rt, err := NewRuntime(cfg, WithFeed(fd), WithObservability(&stubObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rt.Run(ctx) }()

	for _, d := range []Detection{
		{HasDigit: true, FrameCode: "12F"},
		{HasDigit: true, FrameCode: "123"},
		{HasDigit: true, FrameCode: "FFF"},
		{HasDigit: false},
		{HasDigit: false},
	} {
		if err := rt.Detect(ctx, d); err != nil {
			t.Fatalf("Detect returned error: %v", err)
		}
	}
	for _, st := range []Station{StationWS, StationDS} {
		for axle := 1; axle <= 2; axle++ {
			rt.WheelReport(WheelReport{
				Station:  st,
				Axle:     axle,
				CarNo:    "123",
				Rotation: domain.WheelNormal,
				Position: domain.WheelNormal,
			})
		}
	}

	var update Message
	deadline := time.After(5 * time.Second)
	for update.Kind != domain.KindCarUpdate {
		select {
		case update = <-msgs:
		case <-deadline:
			t.Fatal("timed out waiting for car_update")
		}
	}

	if update.CarNo != "123" {
		t.Fatalf("expected car 123, got %q", update.CarNo)
	}
	if update.Verdict != domain.StatusNormal {
		t.Fatalf("expected NORMAL verdict, got %q", update.Verdict)
	}
	if update.Record == nil || !update.Record.Flags.Has(domain.ReadyMask) {
		t.Fatalf("expected a complete record, got %+v", update.Record)
	}
	if update.SeqNo != 1 {
		t.Fatalf("expected first seq_no, got %d", update.SeqNo)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRuntimeReplaysWALOnStart(t *testing.T) {
	cfg := testConfig(t)

	w, err := wal.NewFileWAL(cfg.WAL.Dir)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	if _, err := w.Append(domain.NewPatch("car-replayed").Mark(domain.FlagStart)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}

	st := store.NewMemStore()
	rt, err := NewRuntime(cfg, WithStore(st), WithObservability(&stubObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- rt.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if rec, ok := st.Get("car-replayed"); ok {
			if !rec.Flags.Has(domain.FlagStart) {
				t.Fatalf("expected start flag on replayed record")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("replayed patch never reached the store")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRuntimeSeedsSeqNoFromStore(t *testing.T) {
	st := store.NewMemStore()
	p := domain.NewPatch("car-old").Mark(domain.FlagStart)
	p.SeqNo = 41
	if err := st.WriteBatch([]*Patch{p}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	fd, msgs, closeFeed := NewChannelFeed("test", 8)
	defer closeFeed()

	rt, err := NewRuntime(testConfig(t), WithStore(st), WithFeed(fd), WithObservability(&stubObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	defer rt.close()

	rt.tracker.OnDetection(Detection{HasDigit: true, FrameCode: "777"})
	select {
	case m := <-msgs:
		if m.Kind != domain.KindCarEvent || m.Event != domain.EventStart || m.SeqNo != 42 {
			t.Fatalf("expected START with seq_no 42, got %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("no START message")
	}
	if snap := rt.Snapshot(); snap.EventID == "" || snap.QueueLen == 0 {
		t.Fatalf("expected an active event with a queued patch, got %+v", snap)
	}
}

func TestRuntimeLevelRejectsUnknownZone(t *testing.T) {
	rt, err := NewRuntime(testConfig(t), WithObservability(&stubObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	defer rt.close()

	if err := rt.Level(context.Background(), Level{Zone: "roof", Value: 80}); err == nil {
		t.Fatalf("expected unknown zone to be rejected")
	}
	if err := rt.Level(context.Background(), Level{Zone: domain.ZoneWS1, Value: 80}); err != nil {
		t.Fatalf("Level returned error: %v", err)
	}
}

type stubCollector struct{}

func (s *stubCollector) Start(out chan<- domain.Level) error { return nil }
func (s *stubCollector) Stop() error                         { return nil }

type stubQueue struct{}

func (s *stubQueue) Enqueue(id WALEntryID, p *Patch) bool { return true }
func (s *stubQueue) DequeueBatch(max int) []QueuedPatch   { return nil }
func (s *stubQueue) Len() int                             { return 0 }

type stubWAL struct{}

func (s *stubWAL) Append(p *Patch) (WALEntryID, error) { return 0, nil }
func (s *stubWAL) Iterate(from WALEntryID, fn func(id WALEntryID, p *Patch) error) error {
	return nil
}
func (s *stubWAL) Commit(upto WALEntryID) error { return nil }
func (s *stubWAL) TruncateCommitted() error     { return nil }
func (s *stubWAL) Stats() WALStats              { return WALStats{} }

type stubObservability struct{}

func (s *stubObservability) LogInfo(string, ...Field)            {}
func (s *stubObservability) LogError(string, error, ...Field)    {}
func (s *stubObservability) LogCritical(string, error, ...Field) {}
func (s *stubObservability) IncCounter(string, float64)          {}
func (s *stubObservability) ObserveLatency(string, float64)      {}
func (s *stubObservability) SetGauge(string, float64)            {}
func (s *stubObservability) RecordDLQ(WALEntryID, *Patch, error) {}
