package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

type PollerConfig struct {
	Interval time.Duration
	Limit    int
}

func (c *PollerConfig) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 200 * time.Millisecond
	}
	if c.Limit <= 0 {
		c.Limit = 50
	}
}

// Poller hands every ready record to the feed exactly once.
type Poller struct {
	cfg   PollerConfig
	store ports.Store
	feed  ports.Feed
	obs   ports.Observability
	now   func() time.Time
}

func NewPoller(cfg PollerConfig, store ports.Store, feed ports.Feed, obs ports.Observability) *Poller {
	cfg.ApplyDefaults()
	return &Poller{cfg: cfg, store: store, feed: feed, obs: obs, now: time.Now}
}

// Poll marks one batch of ready records as displayed and publishes them.
func (p *Poller) Poll(ctx context.Context) int {
	recs, err := p.store.PollReady(ctx, p.cfg.Limit)
	if err != nil {
		p.obs.LogError("poll_ready_failed", err)
		return 0
	}
	for i := range recs {
		r := recs[i]
		msg := domain.Message{
			Kind:    domain.KindCarUpdate,
			EventID: r.EventID,
			SeqNo:   r.SeqNo,
			CarNo:   r.CarNo(),
			Verdict: domain.WheelVerdict(&r),
			Record:  &r,
		}.Stamp(p.now())
		if !p.feed.Publish(msg) {
			p.obs.IncCounter(ports.MetricFeedDropped, 1)
		}
	}
	p.obs.IncCounter(ports.MetricRowsEmitted, float64(len(recs)))
	return len(recs)
}

func (p *Poller) Run(ctx context.Context) error {
	return tick(ctx, p.cfg.Interval, "poller", p.obs, func() { p.Poll(ctx) })
}

// tick calls fn every interval until ctx is done. A panic in fn is logged
// and the loop keeps going.
func tick(ctx context.Context, interval time.Duration, name string, obs ports.Observability, fn func()) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			safeTick(name, obs, fn)
		}
	}
}

func safeTick(name string, obs ports.Observability, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			obs.IncCounter(ports.MetricLoopPanics, 1)
			obs.LogCritical("loop_panic", fmt.Errorf("%v", r), ports.Field{Key: "loop", Value: name})
		}
	}()
	fn()
}
