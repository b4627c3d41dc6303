package observability

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// PromObs implements ports.Observability with Prometheus collectors and a
// structured slog logger.
type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewLogger builds the JSON logger used across the process.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func NewPromObs(logger *slog.Logger) *PromObs {
	if logger == nil {
		logger = slog.Default()
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	counters := map[string]prometheus.Counter{
		ports.MetricPatchesWritten:   counter(ports.MetricPatchesWritten, "Patches upserted into the completion store."),
		ports.MetricPatchDLQ:         counter(ports.MetricPatchDLQ, "Patches rejected as invalid and skipped."),
		ports.MetricJournalDropped:   counter(ports.MetricJournalDropped, "Patches lost to journal backpressure."),
		ports.MetricSessions:         counter(ports.MetricSessions, "Wagon sessions closed."),
		ports.MetricWheelReports:     counter(ports.MetricWheelReports, "Wheel axle reports received."),
		ports.MetricWheelDropped:     counter(ports.MetricWheelDropped, "Pending wheel reports dropped by cap or expiry."),
		ports.MetricFeedDropped:      counter(ports.MetricFeedDropped, "Outbound feed messages dropped."),
		ports.MetricMailboxWriteFail: counter(ports.MetricMailboxWriteFail, "Car number mailbox writes that timed out."),
		ports.MetricRowsFinalized:    counter(ports.MetricRowsFinalized, "Flags forced by the finalizer."),
		ports.MetricRowsEmitted:      counter(ports.MetricRowsEmitted, "Completed records handed to the display feed."),
		ports.MetricLoopPanics:       counter(ports.MetricLoopPanics, "Panics recovered inside worker loops."),
	}
	gauges := map[string]prometheus.Gauge{
		ports.MetricWALSize:         gauge(ports.MetricWALSize, "Size of the patch journal on disk."),
		ports.MetricJournalQueueLen: gauge(ports.MetricJournalQueueLen, "Patches waiting for the store."),
		ports.MetricWheelPending:    gauge(ports.MetricWheelPending, "Wheel reports waiting for a car number."),
	}
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricStoreLatency,
		Help:    "Latency of one store batch write.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	collectors := []prometheus.Collector{latency}
	for _, c := range counters {
		collectors = append(collectors, c)
	}
	for _, g := range gauges {
		collectors = append(collectors, g)
	}
	prometheus.MustRegister(collectors...)

	return &PromObs{
		log:      logger,
		counters: counters,
		gauges:   gauges,
		histos:   map[string]prometheus.Observer{ports.MetricStoreLatency: latency},
	}
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), slog.Any("err", err))...)
}

// LogCritical is for failures that stop a worker.
func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), slog.Any("err", err), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, patch *domain.Patch, err error) {
	p.IncCounter(ports.MetricPatchDLQ, 1)
	eventID := ""
	if patch != nil {
		eventID = patch.EventID
	}
	p.log.Warn("patch_dead_lettered", slog.Uint64("wal_id", uint64(id)), slog.String("event_id", eventID), slog.Any("err", err))
}

var _ ports.Observability = (*PromObs)(nil)
