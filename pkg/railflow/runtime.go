package railflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/RailFlow/internal/adapters/feed"
	"github.com/ghalamif/RailFlow/internal/adapters/images"
	"github.com/ghalamif/RailFlow/internal/adapters/natsio"
	"github.com/ghalamif/RailFlow/internal/adapters/observability"
	"github.com/ghalamif/RailFlow/internal/adapters/opcua"
	"github.com/ghalamif/RailFlow/internal/adapters/queue"
	"github.com/ghalamif/RailFlow/internal/adapters/shm"
	"github.com/ghalamif/RailFlow/internal/adapters/store"
	"github.com/ghalamif/RailFlow/internal/adapters/wal"
	"github.com/ghalamif/RailFlow/internal/adapters/watcher"
	"github.com/ghalamif/RailFlow/internal/app/bus"
	"github.com/ghalamif/RailFlow/internal/app/pipeline"
	"github.com/ghalamif/RailFlow/internal/app/tracker"
	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

const (
	inputBuffer   = 256
	setupTimeout  = 10 * time.Second
	gaugeInterval = time.Second
)

var (
	promOnce sync.Once
	promObs  *observability.PromObs
)

// defaultObservability returns the process-wide Prometheus backend. The
// collectors register once, so the first caller picks the log level.
func defaultObservability(level string) ports.Observability {
	promOnce.Do(func() {
		promObs = observability.NewPromObs(observability.NewLogger(level))
	})
	return promObs
}

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	collector     Collector
	store         Store
	feeds         []Feed
	images        ImageStore
	frames        FrameSource
	wal           WAL
	queue         PatchQueue
	observability Observability
}

// WithCollector injects a custom level collector in place of OPC UA.
func WithCollector(col Collector) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.collector = col
	}
}

// WithStore replaces the configured completion store.
func WithStore(s Store) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.store = s
	}
}

// WithFeed adds an outbound feed. Several feeds receive every message.
func WithFeed(f Feed) RuntimeOption {
	return func(o *runtimeOverrides) {
		if f != nil {
			o.feeds = append(o.feeds, f)
		}
	}
}

// WithImageStore replaces the configured image store.
func WithImageStore(s ImageStore) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.images = s
	}
}

// WithFrameSource supplies camera frames when they do not arrive over NATS.
func WithFrameSource(f FrameSource) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.frames = f
	}
}

// WithWAL lets callers bring their own WAL implementation or reuse an existing instance.
func WithWAL(w WAL) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.wal = w
	}
}

// WithQueue injects a custom patch queue.
func WithQueue(q PatchQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// Snapshot is a point-in-time view of the runtime for diagnostics.
type Snapshot struct {
	State        string
	EventID      string
	BestCarNo    string
	Zone2Pending []string
	WheelPending int
	QueueLen     int
	WAL          WALStats
}

// Runtime wires the session tracker, correlation bus, patch journal and
// completion store together with their inputs and feeds.
type Runtime struct {
	cfg     *Config
	obs     ports.Observability
	wal     ports.WAL
	queue   ports.PatchQueue
	journal *pipeline.Journal
	store   ports.Store
	feed    ports.Feed
	mqtt    *feed.MQTTFeed
	bus     *bus.EventCorrelationBus
	tracker *tracker.Tracker

	finalizer *pipeline.Finalizer
	poller    *pipeline.Poller
	collector ports.Collector
	frames    *natsio.FrameCache
	nats      *natsio.Client
	regions   []*shm.Region
	watchers  []*watcher.WheelFlagWatcher
	db        *sql.DB
	walCloser io.Closer

	detections chan domain.Detection
	levels     chan domain.Level
}

// NewRuntime bootstraps the default adapters from cfg. Any of them can be
// replaced with a RuntimeOption.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	r := &Runtime{
		cfg:        cfg,
		detections: make(chan domain.Detection, inputBuffer),
		levels:     make(chan domain.Level, inputBuffer),
	}
	defer func() {
		if err != nil {
			_ = r.close()
		}
	}()

	r.obs = overrides.observability
	if r.obs == nil {
		r.obs = defaultObservability(cfg.Log.Level)
	}

	r.wal = overrides.wal
	if r.wal == nil {
		fw, err := wal.NewFileWAL(cfg.WAL.Dir)
		if err != nil {
			return nil, err
		}
		r.wal, r.walCloser = fw, fw
	}

	r.queue = overrides.queue
	if r.queue == nil {
		r.queue = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	r.store = overrides.store
	if r.store == nil {
		if r.store, err = r.openStore(ctx); err != nil {
			return nil, err
		}
	}

	imgs := overrides.images
	if imgs == nil {
		if imgs, err = openImages(ctx, cfg.Images); err != nil {
			return nil, err
		}
	}

	feeds := overrides.feeds
	if cfg.Feed.MQTT.Enabled {
		r.mqtt = feed.NewMQTTFeed(feed.MQTTConfig{
			Broker:      cfg.Feed.MQTT.Broker,
			ClientID:    cfg.Feed.MQTT.ClientID,
			TopicPrefix: cfg.Feed.MQTT.TopicPrefix,
			QoS:         cfg.Feed.MQTT.QoS,
			Buffer:      cfg.Feed.MQTT.Buffer,
		}, r.obs)
		feeds = append(feeds, r.mqtt)
	}
	switch len(feeds) {
	case 0:
		r.feed = feed.Discard{}
	case 1:
		r.feed = feeds[0]
	default:
		r.feed = feed.Fanout(feeds)
	}

	r.journal = pipeline.NewJournal(r.wal, r.queue, cfg.Policy, r.obs)
	r.bus = bus.New(bus.Config{
		CarMapCapacity: cfg.Bus.CarMapCapacity,
		PendingCap:     cfg.Bus.PendingCap,
		PendingExpiry:  cfg.Bus.PendingExpiry,
		SweepInterval:  cfg.Bus.SweepInterval,
	}, r.journal, r.feed, r.obs)

	mailboxes, err := r.openRegions()
	if err != nil {
		return nil, err
	}

	frames := overrides.frames
	if frames == nil && cfg.NATS.Enabled {
		r.frames = natsio.NewFrameCache()
		frames = r.frames
	}

	lastSeq, err := r.store.LastSeqNo(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last seq_no: %w", err)
	}

	r.tracker = tracker.New(tracker.Config{
		NoDigitEndFrames: cfg.Session.NoDigitEndFrames,
		DelayCount:       cfg.Zones.DelayCount,
		RequireMark:      cfg.Session.RequireMark,
		LastSeqNo:        lastSeq,
		MailboxTimeout:   cfg.Session.MailboxTimeout,
		ImageTimeout:     cfg.Session.ImageTimeout,
	}, tracker.Deps{
		Journal:   r.journal,
		Feed:      r.feed,
		Resolver:  r.bus,
		Frames:    frames,
		Images:    imgs,
		Mailboxes: mailboxes,
		Obs:       r.obs,
	})

	r.finalizer = pipeline.NewFinalizer(pipeline.FinalizerConfig{
		Interval:   cfg.Finalizer.Interval,
		CarNoGrace: cfg.Finalizer.CarNoGrace,
		Zone1Grace: cfg.Finalizer.Zone1Grace,
		Zone2Grace: cfg.Finalizer.Zone2Grace,
		WheelGrace: cfg.Finalizer.WheelGrace,
	}, r.store, r.obs)
	r.poller = pipeline.NewPoller(pipeline.PollerConfig{
		Interval: cfg.Poller.Interval,
		Limit:    cfg.Poller.Limit,
	}, r.store, r.feed, r.obs)

	r.collector = overrides.collector
	if r.collector == nil && cfg.OPCUA.Endpoint != "" {
		col, err := opcua.NewCollector(cfg.OPCUA, r.obs)
		if err != nil {
			return nil, err
		}
		r.collector = col
	}

	return r, nil
}

func (r *Runtime) openStore(ctx context.Context) (ports.Store, error) {
	sc := r.cfg.Store
	switch sc.Driver {
	case "", "memory":
		return store.NewMemStore(store.WithRetention(sc.Retention), store.WithMaxEmitted(sc.MaxEmitted)), nil
	case "postgres":
		db, err := sql.Open("postgres", sc.ConnString)
		if err != nil {
			return nil, err
		}
		r.db = db
		pg := store.NewPostgresStore(db, sc.Table)
		if sc.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

func openImages(ctx context.Context, ic ImagesConfig) (ports.ImageStore, error) {
	switch ic.Driver {
	case "", "none":
		return nil, nil
	case "file":
		return images.NewFileStore(ic.Dir)
	case "s3":
		return images.NewS3Store(ctx, images.S3Config{
			Bucket:          ic.S3.Bucket,
			Prefix:          ic.S3.Prefix,
			Region:          ic.S3.Region,
			Endpoint:        ic.S3.Endpoint,
			AccessKeyID:     ic.S3.AccessKeyID,
			SecretAccessKey: ic.S3.SecretAccessKey,
			UsePathStyle:    ic.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown image driver %q", ic.Driver)
	}
}

// openRegions maps the station status regions and builds one watcher per
// station. The returned mailboxes receive each finished car number.
func (r *Runtime) openRegions() ([]tracker.CarNoMailbox, error) {
	sc := r.cfg.SHM
	if !sc.Enabled {
		return nil, nil
	}
	if sc.Dir != "" {
		shm.ShmDir = sc.Dir
	}

	type station struct {
		st     domain.Station
		name   string
		layout shm.Layout
	}
	var plan []station
	if sc.Layout == "legacy" {
		plan = []station{
			{domain.StationWS, sc.LegacyName, shm.LegacyLayout(domain.StationWS)},
			{domain.StationDS, sc.LegacyName, shm.LegacyLayout(domain.StationDS)},
		}
	} else {
		plan = []station{
			{domain.StationWS, sc.WSName, shm.StationLayout()},
			{domain.StationDS, sc.DSName, shm.StationLayout()},
		}
	}

	var boxes []tracker.CarNoMailbox
	for i, p := range plan {
		region, err := shm.Open(p.name, p.layout)
		if err != nil {
			return nil, err
		}
		r.regions = append(r.regions, region)
		r.watchers = append(r.watchers, watcher.New(p.st, region, r.bus, r.obs, sc.PollInterval))
		// the legacy region carries a single car number slot
		if sc.Layout != "legacy" || i == 0 {
			boxes = append(boxes, region)
		}
	}
	return boxes, nil
}

// Run replays the WAL, starts every loop and blocks until ctx is cancelled
// or a loop fails. Adapters are closed before it returns.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	defer func() {
		if err := r.close(); err != nil {
			r.obs.LogError("runtime_close_failed", err)
		}
	}()

	if _, err := r.journal.Replay(); err != nil {
		return fmt.Errorf("wal replay: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := r.startInputs(gctx); err != nil {
		return err
	}
	if r.mqtt != nil {
		if err := r.mqtt.Connect(gctx); err != nil {
			return err
		}
		g.Go(func() error { return r.mqtt.Run(gctx) })
	}

	g.Go(func() error { return r.tracker.RunDetections(gctx, r.detections) })
	g.Go(func() error { return r.tracker.RunLevels(gctx, r.levels) })
	g.Go(func() error { return r.bus.Run(gctx) })
	for _, w := range r.watchers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		return pipeline.RunIngest(gctx, r.wal, r.queue, r.store, r.cfg.Policy, r.obs)
	})
	g.Go(func() error { return r.finalizer.Run(gctx) })
	g.Go(func() error { return r.poller.Run(gctx) })
	g.Go(func() error { return r.recordGauges(gctx, gaugeInterval) })

	if r.cfg.Metrics.Addr != "" {
		srv := r.metricsServer()
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	r.obs.LogInfo("runtime_started",
		ports.Field{Key: "store", Value: r.store.Name()},
		ports.Field{Key: "feed", Value: r.feed.Name()},
		ports.Field{Key: "stations", Value: len(r.watchers)})
	return g.Wait()
}

func (r *Runtime) startInputs(ctx context.Context) error {
	if r.cfg.NATS.Enabled && r.nats == nil {
		nc := r.cfg.NATS
		client, err := natsio.Connect(natsio.Config{
			URL:              nc.URL,
			Name:             nc.Name,
			DetectionSubject: nc.DetectionSubject,
			LevelSubject:     nc.LevelSubject,
			FrameSubject:     nc.FrameSubject,
			WheelSubject:     nc.WheelSubject,
		}, r.obs)
		if err != nil {
			return err
		}
		r.nats = client
		if err := client.Attach(ctx, natsio.Intake{
			Detections: r.detections,
			Levels:     r.levels,
			Frames:     r.frames,
			Wheel:      r.bus,
		}); err != nil {
			return err
		}
	}
	if r.collector != nil {
		if err := r.collector.Start(r.levels); err != nil {
			return fmt.Errorf("start collector: %w", err)
		}
	}
	return nil
}

func (r *Runtime) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (r *Runtime) recordGauges(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.journal.SampleGauges()
			r.obs.SetGauge(ports.MetricWheelPending, float64(r.bus.Pending()))
		}
	}
}

// Detect hands one detection result to the session tracker.
func (r *Runtime) Detect(ctx context.Context, d Detection) error {
	select {
	case r.detections <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Level hands one acoustic reading to the zone tracker.
func (r *Runtime) Level(ctx context.Context, l Level) error {
	if _, ok := domain.ZoneLevelColumn[l.Zone]; !ok {
		return fmt.Errorf("unknown zone %q", l.Zone)
	}
	if l.At.IsZero() {
		l.At = time.Now()
	}
	select {
	case r.levels <- l:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WheelReport routes one axle observation through the correlation bus.
func (r *Runtime) WheelReport(rep WheelReport) {
	if rep.ReceivedAt.IsZero() {
		rep.ReceivedAt = time.Now()
	}
	r.bus.OnWheelStatus(rep)
}

// Submit journals a patch directly, bypassing the tracker.
func (r *Runtime) Submit(p *Patch) error {
	return r.journal.Submit(p)
}

func (r *Runtime) Snapshot() Snapshot {
	state, eventID, best, pending := r.tracker.Snapshot()
	return Snapshot{
		State:        state.String(),
		EventID:      eventID,
		BestCarNo:    best,
		Zone2Pending: pending,
		WheelPending: r.bus.Pending(),
		QueueLen:     r.queue.Len(),
		WAL:          r.wal.Stats(),
	}
}

// Store returns the completion store the runtime writes into.
func (r *Runtime) Store() Store { return r.store }

func (r *Runtime) close() error {
	var errs []error

	if r.collector != nil {
		if err := r.collector.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.nats != nil {
		if err := r.nats.Close(); err != nil {
			errs = append(errs, err)
		}
		r.nats = nil
	}
	if r.mqtt != nil {
		if err := r.mqtt.Close(); err != nil && !errors.Is(err, feed.ErrFeedClosed) {
			errs = append(errs, err)
		}
	}
	for _, region := range r.regions {
		if err := region.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.regions = nil
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
		r.db = nil
	}
	if r.walCloser != nil {
		if err := r.walCloser.Close(); err != nil {
			errs = append(errs, err)
		}
		r.walCloser = nil
	}

	return errors.Join(errs...)
}
