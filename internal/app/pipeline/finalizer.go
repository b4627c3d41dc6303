package pipeline

import (
	"context"
	"time"

	"github.com/ghalamif/RailFlow/internal/ports"
)

// FinalizerConfig holds the sweep interval and the per-category grace
// periods. A negative grace disables that category.
type FinalizerConfig struct {
	Interval   time.Duration
	CarNoGrace time.Duration
	Zone1Grace time.Duration
	Zone2Grace time.Duration
	WheelGrace time.Duration
}

func (c *FinalizerConfig) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.CarNoGrace == 0 {
		c.CarNoGrace = 5 * time.Second
	}
	if c.Zone1Grace == 0 {
		c.Zone1Grace = 5 * time.Second
	}
	if c.WheelGrace == 0 {
		c.WheelGrace = 5 * time.Second
	}
	if c.Zone2Grace == 0 {
		c.Zone2Grace = 120 * time.Second
	}
}

// Cutoffs converts the graces into creation-time cutoffs relative to now.
func (c FinalizerConfig) Cutoffs(now time.Time) ports.FinalizeCutoffs {
	cut := func(grace time.Duration) time.Time {
		if grace < 0 {
			return time.Time{}
		}
		return now.Add(-grace)
	}
	return ports.FinalizeCutoffs{
		CarNo:   cut(c.CarNoGrace),
		Zone1:   cut(c.Zone1Grace),
		Zone2:   cut(c.Zone2Grace),
		WheelWS: cut(c.WheelGrace),
		WheelDS: cut(c.WheelGrace),
	}
}

// Finalizer forces aged, incomplete rows to completion so every row
// eventually becomes ready.
type Finalizer struct {
	cfg   FinalizerConfig
	store ports.Store
	obs   ports.Observability
	now   func() time.Time
}

func NewFinalizer(cfg FinalizerConfig, store ports.Store, obs ports.Observability) *Finalizer {
	cfg.ApplyDefaults()
	return &Finalizer{cfg: cfg, store: store, obs: obs, now: time.Now}
}

// Sweep runs one finalization pass and returns the number of forced flags.
func (f *Finalizer) Sweep(ctx context.Context) int64 {
	n, err := f.store.Finalize(ctx, f.cfg.Cutoffs(f.now()))
	if err != nil {
		f.obs.LogError("finalize_failed", err)
	}
	if n > 0 {
		f.obs.IncCounter(ports.MetricRowsFinalized, float64(n))
		f.obs.LogInfo("rows_finalized", ports.Field{Key: "flags", Value: n})
	}
	return n
}

func (f *Finalizer) Run(ctx context.Context) error {
	return tick(ctx, f.cfg.Interval, "finalizer", f.obs, func() { f.Sweep(ctx) })
}
