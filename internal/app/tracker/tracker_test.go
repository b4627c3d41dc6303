package tracker

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/RailFlow/internal/app/bus"
	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

type memJournal struct {
	mu      sync.Mutex
	patches []*domain.Patch
}

func (j *memJournal) Submit(p *domain.Patch) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.patches = append(j.patches, p)
	return nil
}

// merged folds every patch into per-event records, the way the store does.
func (j *memJournal) merged() map[string]*domain.EventRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]*domain.EventRecord)
	for _, p := range j.patches {
		r, ok := out[p.EventID]
		if !ok {
			r = domain.NewEventRecord(p.EventID, time.Now())
			out[p.EventID] = r
		}
		r.Apply(p)
	}
	return out
}

func (j *memJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.patches)
}

type memFeed struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (f *memFeed) Publish(m domain.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return true
}
func (f *memFeed) Name() string { return "mem" }

func (f *memFeed) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.msgs {
		k := string(m.Kind)
		if m.Event != "" {
			k += ":" + m.Event
		}
		out = append(out, k)
	}
	return out
}

type staticFrames map[string][]byte

func (s staticFrames) Latest(camera string) ([]byte, bool) {
	b, ok := s[camera]
	return b, ok
}

type memImages struct {
	mu   sync.Mutex
	keys []string
}

func (m *memImages) Save(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return "/img/" + key, nil
}

type stubMailbox struct {
	name  string
	fail  bool
	wrote []string
}

func (s *stubMailbox) Name() string { return s.name }
func (s *stubMailbox) WriteCarNo(carNo string, block bool, timeout time.Duration) (bool, error) {
	if s.fail {
		return false, errors.New("slot busy")
	}
	s.wrote = append(s.wrote, carNo)
	return true, nil
}

type countingObs struct {
	mu       sync.Mutex
	counters map[string]float64
	errors   []string
}

func newCountingObs() *countingObs { return &countingObs{counters: make(map[string]float64)} }

func (o *countingObs) LogInfo(string, ...ports.Field) {}
func (o *countingObs) LogError(msg string, _ error, _ ...ports.Field) {
	o.mu.Lock()
	o.errors = append(o.errors, msg)
	o.mu.Unlock()
}
func (o *countingObs) LogCritical(string, error, ...ports.Field) {}
func (o *countingObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	o.counters[name] += v
	o.mu.Unlock()
}
func (o *countingObs) ObserveLatency(string, float64)                   {}
func (o *countingObs) SetGauge(string, float64)                         {}
func (o *countingObs) RecordDLQ(ports.WALEntryID, *domain.Patch, error) {}

type fixture struct {
	tracker *Tracker
	bus     *bus.EventCorrelationBus
	journal *memJournal
	feed    *memFeed
	images  *memImages
	ws, ds  *stubMailbox
	obs     *countingObs
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		journal: &memJournal{},
		feed:    &memFeed{},
		images:  &memImages{},
		ws:      &stubMailbox{name: "wheel_status_ws"},
		ds:      &stubMailbox{name: "wheel_status_ds"},
		obs:     newCountingObs(),
	}
	f.bus = bus.New(bus.Config{}, f.journal, f.feed, f.obs)
	frames := staticFrames{
		domain.CameraCar: []byte("car"),
		domain.ZoneWS1:   []byte("ws1"),
		domain.ZoneWS2:   []byte("ws2"),
	}
	f.tracker = New(cfg, Deps{
		Journal:   f.journal,
		Feed:      f.feed,
		Resolver:  f.bus,
		Frames:    frames,
		Images:    f.images,
		Mailboxes: []CarNoMailbox{f.ws, f.ds},
		Obs:       f.obs,
	})
	return f
}

func (f *fixture) pass(code string, levels ...domain.Level) {
	f.tracker.OnDetection(digit(code))
	for _, l := range levels {
		f.tracker.OnLevel(l)
	}
	f.tracker.OnDetection(blank)
	f.tracker.OnDetection(blank)
}

func (f *fixture) eventIDs() []string {
	f.feed.mu.Lock()
	defer f.feed.mu.Unlock()
	var ids []string
	for _, m := range f.feed.msgs {
		if m.Kind == domain.KindCarEvent && m.Event == domain.EventStart {
			ids = append(ids, m.EventID)
		}
	}
	return ids
}

func TestTrackerSessionProducesStartAndEndPatches(t *testing.T) {
	f := newFixture(Config{NoDigitEndFrames: 2, DelayCount: 2})

	f.pass("108", domain.Level{Zone: domain.ZoneWS1, Value: 4.2}, domain.Level{Zone: domain.ZoneWS1, Value: 3.9})

	ids := f.eventIDs()
	if len(ids) != 1 {
		t.Fatalf("expected 1 session, got %d", len(ids))
	}
	rec := f.journal.merged()[ids[0]]
	if rec == nil {
		t.Fatalf("no record for %s", ids[0])
	}

	if !rec.Flags.Has(domain.FlagStart|domain.FlagCarNo|domain.FlagZone1) || rec.Flags.Has(domain.FlagZone2) {
		t.Fatalf("unexpected flags %b", rec.Flags)
	}
	if rec.SeqNo != 1 || rec.CarNo() != "108" {
		t.Fatalf("unexpected seq/car: %d/%s", rec.SeqNo, rec.CarNo())
	}
	if rec.Levels[domain.ColWS1dB] != 4.2 || rec.Levels[domain.ColDS1dB] != 0 {
		t.Fatalf("zone1 levels: %v", rec.Levels)
	}
	if img := rec.Text[domain.ColImgCar]; !strings.HasPrefix(img, "/img/") || !strings.Contains(img, "/car_"+ids[0]+"_") {
		t.Fatalf("car image path: %q", img)
	}
	if img := rec.Text[domain.ColImgWS1]; !strings.Contains(img, "/ws1_peak_"+ids[0]+"_") {
		t.Fatalf("ws1 image path: %q", img)
	}
	if rec.Text[domain.ColImgDS1] != "" || rec.Text[domain.ColImgWheelWS] != "" {
		t.Fatalf("paths saved for cameras without frames: %v", rec.Text)
	}

	if got := f.feed.kinds(); !slices.Equal(got, []string{"car_event:START", "car_no", "car_event:END"}) {
		t.Fatalf("feed kinds: %v", got)
	}
	if !slices.Equal(f.ws.wrote, []string{"108"}) || !slices.Equal(f.ds.wrote, []string{"108"}) {
		t.Fatalf("mailbox writes: ws=%v ds=%v", f.ws.wrote, f.ds.wrote)
	}
	if f.obs.counters[ports.MetricSessions] != 1 {
		t.Fatalf("sessions counter: %v", f.obs.counters[ports.MetricSessions])
	}
}

func TestTrackerWheelReportAfterCloseUsesSessionEvent(t *testing.T) {
	f := newFixture(Config{NoDigitEndFrames: 2, DelayCount: 2})
	f.pass("108", domain.Level{Zone: domain.ZoneWS1, Value: 4.2})
	id := f.eventIDs()[0]

	f.bus.OnWheelStatus(domain.WheelReport{Station: domain.StationWS, Axle: 1, CarNo: "108", Rotation: 1, Position: 1})
	f.bus.OnWheelStatus(domain.WheelReport{Station: domain.StationWS, Axle: 2, CarNo: "108", Rotation: 1, Position: 2})

	rec := f.journal.merged()[id]
	if rec.Text[domain.ColWSWheel1Status] != domain.StatusNormal || rec.Text[domain.ColWSWheel2Status] != domain.StatusAbnormal {
		t.Fatalf("ws wheels: %v", rec.Text)
	}
	if !rec.Flags.Has(domain.FlagWheelWS) || rec.Flags.Has(domain.FlagWheelDS) {
		t.Fatalf("unexpected wheel flags %b", rec.Flags)
	}
}

func TestTrackerPendingWheelReportDrainsAtClose(t *testing.T) {
	f := newFixture(Config{NoDigitEndFrames: 1, DelayCount: 1})
	f.bus.OnWheelStatus(domain.WheelReport{Station: domain.StationDS, Axle: 1, CarNo: "321", Rotation: 1, Position: 1})
	if f.bus.Pending() != 1 {
		t.Fatalf("expected the report to wait for its car number")
	}

	f.tracker.OnDetection(digit("321"))
	f.tracker.OnDetection(blank)

	if f.bus.Pending() != 0 {
		t.Fatalf("pending not drained at close")
	}
	rec := f.journal.merged()[f.eventIDs()[0]]
	if rec.Text[domain.ColDSWheel1Status] != domain.StatusNormal {
		t.Fatalf("drained report not applied: %v", rec.Text)
	}
}

func TestTrackerZone2GoesToDelayedWagon(t *testing.T) {
	f := newFixture(Config{NoDigitEndFrames: 2, DelayCount: 2})

	f.pass("101")
	f.pass("102", domain.Level{Zone: domain.ZoneWS2, Value: 6.5}, domain.Level{Zone: domain.ZoneDS2, Value: 2.5})
	f.pass("103")

	ids := f.eventIDs()
	if len(ids) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(ids))
	}
	recs := f.journal.merged()

	first := recs[ids[0]]
	if !first.Flags.Has(domain.FlagZone2) || first.Levels[domain.ColWS2dB] != 6.5 || first.Levels[domain.ColDS2dB] != 2.5 {
		t.Fatalf("first wagon zone2: flags=%b levels=%v", first.Flags, first.Levels)
	}
	if img := first.Text[domain.ColImgWS2]; !strings.Contains(img, "/ws2_peak_"+ids[0]+"_") {
		t.Fatalf("ws2 image path: %q", img)
	}

	second := recs[ids[1]]
	if !second.Flags.Has(domain.FlagZone2) || second.Levels[domain.ColWS2dB] != 0 {
		t.Fatalf("second wagon zone2: flags=%b levels=%v", second.Flags, second.Levels)
	}

	if recs[ids[2]].Flags.Has(domain.FlagZone2) {
		t.Fatalf("third wagon resolved too early")
	}
	if _, _, _, pending := f.tracker.Snapshot(); !slices.Equal(pending, []string{ids[2]}) {
		t.Fatalf("pending zone2: %v", pending)
	}
}

func TestTrackerMailboxFailureIsNotFatal(t *testing.T) {
	f := newFixture(Config{NoDigitEndFrames: 1, DelayCount: 1})
	f.ws.fail = true

	f.tracker.OnDetection(digit("555"))
	f.tracker.OnDetection(blank)

	if f.obs.counters[ports.MetricMailboxWriteFail] != 1 {
		t.Fatalf("mailbox failure not counted")
	}
	if !slices.Equal(f.ds.wrote, []string{"555"}) {
		t.Fatalf("other station not written: %v", f.ds.wrote)
	}
	if !slices.Contains(f.obs.errors, "car_no_mailbox_write_failed") {
		t.Fatalf("failure not logged: %v", f.obs.errors)
	}
	if car := f.journal.merged()[f.eventIDs()[0]].CarNo(); car != "555" {
		t.Fatalf("car number not journaled: %q", car)
	}
}

func TestTrackerRunLoopsStopOnCancel(t *testing.T) {
	f := newFixture(Config{NoDigitEndFrames: 1, DelayCount: 1})
	dets := make(chan domain.Detection)
	levels := make(chan domain.Level)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = f.tracker.RunDetections(ctx, dets) }()
	go func() { defer wg.Done(); _ = f.tracker.RunLevels(ctx, levels) }()

	dets <- digit("700")
	levels <- domain.Level{Zone: domain.ZoneDS1, Value: 1}
	dets <- blank

	deadline := time.Now().Add(time.Second)
	for f.journal.count() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 4 patches, got %d", f.journal.count())
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	wg.Wait()
}
