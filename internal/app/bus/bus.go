// Package bus binds finished car numbers to session event ids and routes
// wheel reports to the right event, whichever of the two arrives first.
package bus

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

type Config struct {
	CarMapCapacity int
	PendingCap     int
	PendingExpiry  time.Duration
	SweepInterval  time.Duration
}

func (c *Config) ApplyDefaults() {
	if c.CarMapCapacity <= 0 {
		c.CarMapCapacity = 256
	}
	if c.PendingCap <= 0 {
		c.PendingCap = 8
	}
	if c.PendingExpiry <= 0 {
		c.PendingExpiry = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
}

type binding struct {
	carNo   string
	eventID string
}

type axleKey struct {
	eventID string
	station domain.Station
}

// axleState is what a station has reported so far for one event.
type axleState struct {
	mask   uint8
	status [2]string
}

// EventCorrelationBus is safe for concurrent use; a single mutex guards
// the binding map, the pending buffer and the axle masks.
type EventCorrelationBus struct {
	cfg     Config
	journal ports.Journal
	feed    ports.Feed
	obs     ports.Observability
	now     func() time.Time

	mu       sync.Mutex
	bindings map[string]*list.Element
	order    *list.List // of *binding, oldest first
	pending  map[string][]domain.WheelReport
	npending int
	axles    map[axleKey]*axleState
}

func New(cfg Config, journal ports.Journal, feed ports.Feed, obs ports.Observability) *EventCorrelationBus {
	cfg.ApplyDefaults()
	return &EventCorrelationBus{
		cfg:      cfg,
		journal:  journal,
		feed:     feed,
		obs:      obs,
		now:      time.Now,
		bindings: make(map[string]*list.Element),
		order:    list.New(),
		pending:  make(map[string][]domain.WheelReport),
		axles:    make(map[axleKey]*axleState),
	}
}

type delivery struct {
	eventID string
	report  domain.WheelReport
	done    bool
	// both axle statuses, set when done
	statuses [2]string
}

// ResolveCarNo binds carNo to eventID and forwards every report that was
// waiting for it. A later binding of the same car number replaces the
// earlier one. It returns the number of pending reports released.
func (b *EventCorrelationBus) ResolveCarNo(eventID, carNo string) int {
	if eventID == "" || carNo == "" {
		return 0
	}

	b.mu.Lock()
	if el, ok := b.bindings[carNo]; ok {
		b.dropBindingLocked(el)
	}
	b.bindings[carNo] = b.order.PushBack(&binding{carNo: carNo, eventID: eventID})
	for b.order.Len() > b.cfg.CarMapCapacity {
		oldest := b.order.Front()
		ob := oldest.Value.(*binding)
		b.obs.LogInfo("car_binding_evicted", ports.Field{Key: "car_no", Value: ob.carNo}, ports.Field{Key: "event_id", Value: ob.eventID})
		b.dropBindingLocked(oldest)
	}

	waiting := b.pending[carNo]
	delete(b.pending, carNo)
	b.npending -= len(waiting)

	out := make([]delivery, 0, len(waiting))
	for _, r := range waiting {
		if d, ok := b.deliveryLocked(eventID, r); ok {
			out = append(out, d)
		}
	}
	b.mu.Unlock()

	for _, d := range out {
		b.forward(d)
	}
	return len(out)
}

// OnWheelStatus forwards r when its car number is bound and buffers it
// otherwise. It never fails; bad reports are logged and dropped.
func (b *EventCorrelationBus) OnWheelStatus(r domain.WheelReport) {
	if r.CarNo == "" {
		return
	}
	if _, err := r.StatusColumn(); err != nil {
		b.obs.LogError("wheel_report_invalid", err, ports.Field{Key: "car_no", Value: r.CarNo})
		return
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = b.now()
	}

	b.mu.Lock()
	el, bound := b.bindings[r.CarNo]
	if bound {
		d, ok := b.deliveryLocked(el.Value.(*binding).eventID, r)
		b.mu.Unlock()
		if ok {
			b.forward(d)
		}
		return
	}

	queue := b.pending[r.CarNo]
	dropped := 0
	for len(queue) >= b.cfg.PendingCap {
		queue = queue[1:]
		dropped++
	}
	b.pending[r.CarNo] = append(queue, r)
	b.npending += 1 - dropped
	b.mu.Unlock()

	if dropped > 0 {
		b.obs.IncCounter(ports.MetricWheelDropped, float64(dropped))
		b.obs.LogInfo("wheel_pending_overflow", ports.Field{Key: "car_no", Value: r.CarNo}, ports.Field{Key: "dropped", Value: dropped})
	}
}

// SweepExpired drops pending reports received before now-PendingExpiry and
// returns how many were dropped.
func (b *EventCorrelationBus) SweepExpired(now time.Time) int {
	cutoff := now.Add(-b.cfg.PendingExpiry)

	b.mu.Lock()
	dropped := 0
	for car, queue := range b.pending {
		keep := queue[:0]
		for _, r := range queue {
			if r.ReceivedAt.Before(cutoff) {
				dropped++
				continue
			}
			keep = append(keep, r)
		}
		if len(keep) == 0 {
			delete(b.pending, car)
		} else {
			b.pending[car] = keep
		}
	}
	b.npending -= dropped
	left := b.npending
	b.mu.Unlock()

	b.obs.SetGauge(ports.MetricWheelPending, float64(left))
	if dropped > 0 {
		b.obs.IncCounter(ports.MetricWheelDropped, float64(dropped))
	}
	return dropped
}

// Run sweeps expired reports every SweepInterval until ctx is done.
func (b *EventCorrelationBus) Run(ctx context.Context) error {
	t := time.NewTicker(b.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			b.SweepExpired(now)
		}
	}
}

// Pending returns the number of buffered reports.
func (b *EventCorrelationBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.npending
}

// Lookup returns the event bound to carNo.
func (b *EventCorrelationBus) Lookup(carNo string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.bindings[carNo]
	if !ok {
		return "", false
	}
	return el.Value.(*binding).eventID, true
}

func (b *EventCorrelationBus) dropBindingLocked(el *list.Element) {
	bd := b.order.Remove(el).(*binding)
	delete(b.bindings, bd.carNo)
	for _, st := range domain.Stations {
		delete(b.axles, axleKey{eventID: bd.eventID, station: st})
	}
}

// deliveryLocked records the axle against the event and reports whether
// this report completes its station. The completing delivery carries both
// axle statuses so the done flag never lands without them, whatever order
// the patches reach the journal in.
func (b *EventCorrelationBus) deliveryLocked(eventID string, r domain.WheelReport) (delivery, bool) {
	if r.Axle != 1 && r.Axle != 2 {
		return delivery{}, false
	}
	key := axleKey{eventID: eventID, station: r.Station}
	st := b.axles[key]
	if st == nil {
		st = &axleState{}
		b.axles[key] = st
	}
	st.mask |= 1 << (r.Axle - 1)
	st.status[r.Axle-1] = r.Status()
	d := delivery{eventID: eventID, report: r}
	if st.mask == 0b11 {
		d.done, d.statuses = true, st.status
		delete(b.axles, key)
	}
	return d, true
}

func (b *EventCorrelationBus) forward(d delivery) {
	r := d.report
	col, _ := r.StatusColumn()
	status := r.Status()

	p := domain.NewPatch(d.eventID).SetText(col, status)
	if d.done {
		for i, s := range d.statuses {
			c, _ := domain.WheelStatusColumn(r.Station, i+1)
			p.SetText(c, s)
		}
		p.Mark(r.Station.DoneFlag())
	}
	if err := b.journal.Submit(p); err != nil {
		b.obs.LogError("wheel_patch_submit_failed", fmt.Errorf("event %s: %w", d.eventID, err))
	}

	msg := domain.Message{
		Kind:    domain.KindWheelStatus,
		EventID: d.eventID,
		CarNo:   r.CarNo,
		Station: r.Station,
		Axle:    r.Axle,
		Status:  status,
	}.Stamp(b.now())
	if !b.feed.Publish(msg) {
		b.obs.IncCounter(ports.MetricFeedDropped, 1)
	}
}
