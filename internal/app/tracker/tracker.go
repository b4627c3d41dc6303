// Package tracker turns detection and acoustic streams into session edges
// and the patches that describe each wagon.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

type Config struct {
	NoDigitEndFrames int
	DelayCount       int
	RequireMark      bool
	LastSeqNo        int64
	MailboxTimeout   time.Duration
	ImageTimeout     time.Duration
}

func (c *Config) ApplyDefaults() {
	if c.NoDigitEndFrames <= 0 {
		c.NoDigitEndFrames = 2
	}
	if c.DelayCount <= 0 {
		c.DelayCount = 2
	}
	if c.MailboxTimeout <= 0 {
		c.MailboxTimeout = time.Second
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = 2 * time.Second
	}
}

// CarNoResolver is the bus side of a closing session.
type CarNoResolver interface {
	ResolveCarNo(eventID, carNo string) int
}

// CarNoMailbox hands the finished number to a station process.
type CarNoMailbox interface {
	Name() string
	WriteCarNo(carNo string, block bool, timeout time.Duration) (bool, error)
}

type Deps struct {
	Journal   ports.Journal
	Feed      ports.Feed
	Resolver  CarNoResolver
	Frames    ports.FrameSource
	Images    ports.ImageStore
	Mailboxes []CarNoMailbox
	Obs       ports.Observability
}

// Tracker is safe for concurrent use. Detection and level streams may be fed
// from different goroutines; the state mutation happens under one mutex and
// all I/O happens after it is released.
type Tracker struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu      sync.Mutex
	session *Session
	zones   *ZoneTracker
}

func New(cfg Config, deps Deps) *Tracker {
	cfg.ApplyDefaults()
	t := &Tracker{cfg: cfg, deps: deps, now: time.Now}
	t.session = NewSession(cfg.NoDigitEndFrames, cfg.RequireMark, cfg.LastSeqNo, func() string { return NewEventID(t.now()) })
	t.zones = NewZoneTracker(cfg.DelayCount)
	return t
}

type closing struct {
	edge  Edge
	zone1 map[string]Peak
	zone2 *Zone2Result
}

// OnDetection advances the session with one detection result.
func (t *Tracker) OnDetection(d domain.Detection) {
	t.mu.Lock()
	edge := t.session.Observe(d)
	var c closing
	switch edge.Kind {
	case StartEdge:
		t.zones.StartSession()
	case EndEdge:
		c.edge = edge
		c.zone1, c.zone2 = t.zones.CloseSession(edge.EventID)
	}
	t.mu.Unlock()

	switch edge.Kind {
	case StartEdge:
		t.start(edge)
	case EndEdge:
		t.end(c)
	}
}

// OnLevel offers one acoustic level to the zone peaks.
func (t *Tracker) OnLevel(l domain.Level) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.zones.Offer(l.Zone, l.Value, t.session.State() == Active, func() []byte { return t.frame(l.Zone) })
}

// Snapshot reports the session state for diagnostics.
func (t *Tracker) Snapshot() (state State, eventID, bestCarNo string, zone2Pending []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.State(), t.session.EventID(), t.session.BestCarNo(), t.zones.Pending()
}

func (t *Tracker) frame(camera string) []byte {
	if t.deps.Frames == nil {
		return nil
	}
	b, ok := t.deps.Frames.Latest(camera)
	if !ok {
		return nil
	}
	return b
}

func (t *Tracker) saveImage(prefix, eventID string, data []byte) string {
	if t.deps.Images == nil || len(data) == 0 {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ImageTimeout)
	defer cancel()
	path, err := t.deps.Images.Save(ctx, domain.ImageKey(prefix, eventID, t.now()), data)
	if err != nil {
		t.deps.Obs.LogError("image_save_failed", err, ports.Field{Key: "event_id", Value: eventID}, ports.Field{Key: "prefix", Value: prefix})
		return ""
	}
	return path
}

var snapshotPrefix = map[string]string{
	domain.CameraCar:     "car",
	domain.ZoneWS1:       "ws1_snap",
	domain.ZoneDS1:       "ds1_snap",
	domain.ZoneWS2:       "ws2_snap",
	domain.ZoneDS2:       "ds2_snap",
	domain.CameraWheelWS: "wheel_ws",
	domain.CameraWheelDS: "wheel_ds",
}

func (t *Tracker) start(e Edge) {
	p := domain.NewPatch(e.EventID).Mark(domain.FlagStart)
	p.SeqNo = e.SeqNo
	for _, cam := range domain.Cameras {
		p.SetText(domain.CameraImageColumn[cam], t.saveImage(snapshotPrefix[cam], e.EventID, t.frame(cam)))
	}
	t.submit(p)
	t.publish(domain.Message{Kind: domain.KindCarEvent, Event: domain.EventStart, EventID: e.EventID, SeqNo: e.SeqNo})
	t.deps.Obs.LogInfo("session_start", ports.Field{Key: "event_id", Value: e.EventID}, ports.Field{Key: "seq_no", Value: e.SeqNo})
}

func (t *Tracker) end(c closing) {
	e := c.edge

	t.submit(domain.NewPatch(e.EventID).SetText(domain.ColCarNo, e.CarNo).Mark(domain.FlagCarNo))
	t.submit(t.zonePatch(e.EventID, c.zone1, domain.FlagZone1))
	if c.zone2 != nil {
		t.submit(t.zonePatch(c.zone2.EventID, c.zone2.Peaks, domain.FlagZone2))
	}

	if t.deps.Resolver != nil {
		t.deps.Resolver.ResolveCarNo(e.EventID, e.CarNo)
	}
	for _, mb := range t.deps.Mailboxes {
		ok, err := mb.WriteCarNo(e.CarNo, true, t.cfg.MailboxTimeout)
		if ok {
			continue
		}
		if err == nil {
			err = fmt.Errorf("mailbox %s refused car number", mb.Name())
		}
		t.deps.Obs.IncCounter(ports.MetricMailboxWriteFail, 1)
		t.deps.Obs.LogError("car_no_mailbox_write_failed", err, ports.Field{Key: "region", Value: mb.Name()}, ports.Field{Key: "car_no", Value: e.CarNo})
	}

	t.publish(domain.Message{Kind: domain.KindCarNo, EventID: e.EventID, SeqNo: e.SeqNo, CarNo: e.CarNo})
	t.publish(domain.Message{Kind: domain.KindCarEvent, Event: domain.EventEnd, EventID: e.EventID, SeqNo: e.SeqNo, CarNo: e.CarNo})
	t.deps.Obs.IncCounter(ports.MetricSessions, 1)
	t.deps.Obs.LogInfo("session_end", ports.Field{Key: "event_id", Value: e.EventID}, ports.Field{Key: "car_no", Value: e.CarNo})
}

func (t *Tracker) zonePatch(eventID string, peaks map[string]Peak, flag domain.Flag) *domain.Patch {
	p := domain.NewPatch(eventID).Mark(flag)
	for zone, pk := range peaks {
		p.SetLevel(domain.ZoneLevelColumn[zone], pk.Value)
		p.SetText(domain.CameraImageColumn[zone], t.saveImage(zone+"_peak", eventID, pk.Frame))
	}
	return p
}

func (t *Tracker) submit(p *domain.Patch) {
	if err := t.deps.Journal.Submit(p); err != nil {
		t.deps.Obs.LogError("patch_submit_failed", err, ports.Field{Key: "event_id", Value: p.EventID})
	}
}

func (t *Tracker) publish(m domain.Message) {
	if t.deps.Feed == nil {
		return
	}
	if !t.deps.Feed.Publish(m.Stamp(t.now())) {
		t.deps.Obs.IncCounter(ports.MetricFeedDropped, 1)
	}
}

// RunDetections consumes detections until ctx is done or in is closed.
func (t *Tracker) RunDetections(ctx context.Context, in <-chan domain.Detection) error {
	return drain(ctx, in, t.deps.Obs, "detection", t.OnDetection)
}

// RunLevels consumes acoustic levels until ctx is done or in is closed.
func (t *Tracker) RunLevels(ctx context.Context, in <-chan domain.Level) error {
	return drain(ctx, in, t.deps.Obs, "level", t.OnLevel)
}

func drain[T any](ctx context.Context, in <-chan T, obs ports.Observability, what string, fn func(T)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-in:
			if !ok {
				return nil
			}
			safeCall(obs, what, func() { fn(v) })
		}
	}
}

func safeCall(obs ports.Observability, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			obs.IncCounter(ports.MetricLoopPanics, 1)
			obs.LogError(what+"_handler_panic", fmt.Errorf("%v", r))
		}
	}()
	fn()
}
