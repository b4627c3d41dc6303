// Package watcher polls a station's axle mailboxes and forwards every
// report it reads.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/RailFlow/internal/adapters/shm"
	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

const DefaultPollInterval = 20 * time.Millisecond

// Mailbox is the part of a status region the watcher reads.
type Mailbox interface {
	TryRead(s shm.Slot, clear bool) ([]byte, bool)
	Layout() shm.Layout
	Stopped() bool
}

type WheelFlagWatcher struct {
	station  domain.Station
	box      Mailbox
	sink     ports.WheelSink
	obs      ports.Observability
	interval time.Duration
	now      func() time.Time
}

func New(station domain.Station, box Mailbox, sink ports.WheelSink, obs ports.Observability, interval time.Duration) *WheelFlagWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &WheelFlagWatcher{
		station:  station,
		box:      box,
		sink:     sink,
		obs:      obs,
		interval: interval,
		now:      time.Now,
	}
}

// Run polls until ctx is done.
func (w *WheelFlagWatcher) Run(ctx context.Context) error {
	w.obs.LogInfo("wheel_watcher_started", ports.Field{Key: "station", Value: w.station})
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.Tick()
		}
	}
}

// Tick reads axle 1 then axle 2 once and returns how many reports were forwarded.
func (w *WheelFlagWatcher) Tick() (n int) {
	defer func() {
		if r := recover(); r != nil {
			w.obs.IncCounter(ports.MetricLoopPanics, 1)
			w.obs.LogError("wheel_watcher_tick_panic", fmt.Errorf("%v", r), ports.Field{Key: "station", Value: w.station})
		}
	}()

	layout := w.box.Layout()
	for axle, slot := range []shm.Slot{layout.Axle1, layout.Axle2} {
		p, ok := w.box.TryRead(slot, true)
		if !ok {
			continue
		}
		car, rot, pos := shm.DecodeAxle(p)
		w.sink.OnWheelStatus(domain.WheelReport{
			Station:    w.station,
			Axle:       axle + 1,
			CarNo:      car,
			Rotation:   rot,
			Position:   pos,
			Stopped:    w.box.Stopped(),
			ReceivedAt: w.now(),
		})
		w.obs.IncCounter(ports.MetricWheelReports, 1)
		n++
	}
	return n
}
