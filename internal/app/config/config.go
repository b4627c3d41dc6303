package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/RailFlow/internal/adapters/opcua"
	"github.com/ghalamif/RailFlow/internal/ports"
)

type Config struct {
	Policy    ports.Policy    `yaml:"policy"`
	Session   SessionConfig   `yaml:"session"`
	Zones     ZonesConfig     `yaml:"zones"`
	SHM       SHMConfig       `yaml:"shm"`
	Bus       BusConfig       `yaml:"bus"`
	Finalizer FinalizerConfig `yaml:"finalizer"`
	Poller    PollerConfig    `yaml:"poller"`
	Store     StoreConfig     `yaml:"store"`
	Feed      FeedConfig      `yaml:"feed"`
	NATS      NATSConfig      `yaml:"nats"`
	OPCUA     opcua.Config    `yaml:"opcua"`
	Images    ImagesConfig    `yaml:"images"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	WAL       WALConfig       `yaml:"wal"`
	Log       LogConfig       `yaml:"log"`
}

type SessionConfig struct {
	NoDigitEndFrames int           `yaml:"no_digit_end_frames"`
	RequireMark      bool          `yaml:"require_mark"`
	MailboxTimeout   time.Duration `yaml:"mailbox_timeout"`
	ImageTimeout     time.Duration `yaml:"image_timeout"`
}

type ZonesConfig struct {
	DelayCount int `yaml:"delay_count"`
}

// SHMConfig selects the station mailboxes. Layout "station" opens one region
// per station; "legacy" shares a single region between both stations.
type SHMConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Dir          string        `yaml:"dir"`
	Layout       string        `yaml:"layout"`
	WSName       string        `yaml:"ws_name"`
	DSName       string        `yaml:"ds_name"`
	LegacyName   string        `yaml:"legacy_name"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type BusConfig struct {
	CarMapCapacity int           `yaml:"car_map_capacity"`
	PendingCap     int           `yaml:"pending_cap"`
	PendingExpiry  time.Duration `yaml:"pending_expiry"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// FinalizerConfig graces are measured from row creation. A negative grace
// disables forcing for that flag.
type FinalizerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	CarNoGrace time.Duration `yaml:"car_no_grace"`
	Zone1Grace time.Duration `yaml:"zone1_grace"`
	Zone2Grace time.Duration `yaml:"zone2_grace"`
	WheelGrace time.Duration `yaml:"wheel_grace"`
}

type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Limit    int           `yaml:"limit"`
}

type StoreConfig struct {
	Driver       string `yaml:"driver"`
	ConnString   string `yaml:"conn_string"`
	Table        string `yaml:"table"`
	EnsureSchema bool   `yaml:"ensure_schema"`
	// memory driver only: how long and how many displayed rows are kept
	Retention  time.Duration `yaml:"retention"`
	MaxEmitted int           `yaml:"max_emitted"`
}

type FeedConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Buffer      int    `yaml:"buffer"`
}

type NATSConfig struct {
	Enabled          bool   `yaml:"enabled"`
	URL              string `yaml:"url"`
	Name             string `yaml:"name"`
	DetectionSubject string `yaml:"detection_subject"`
	LevelSubject     string `yaml:"level_subject"`
	FrameSubject     string `yaml:"frame_subject"`
	WheelSubject     string `yaml:"wheel_subject"`
}

type ImagesConfig struct {
	Driver string   `yaml:"driver"`
	Dir    string   `yaml:"dir"`
	S3     S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`

	// Static credentials; the default AWS chain is used when empty.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type WALConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and nothing
// external enabled.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Policy.MaxWALSizeBytes == 0 {
		c.Policy.MaxWALSizeBytes = 1 << 30
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 10_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 200
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}
	if c.Policy.OnWALFull == "" {
		c.Policy.OnWALFull = "block"
	}

	if c.Session.NoDigitEndFrames == 0 {
		c.Session.NoDigitEndFrames = 2
	}
	if c.Session.MailboxTimeout == 0 {
		c.Session.MailboxTimeout = time.Second
	}
	if c.Session.ImageTimeout == 0 {
		c.Session.ImageTimeout = 2 * time.Second
	}
	if c.Zones.DelayCount == 0 {
		c.Zones.DelayCount = 2
	}

	if c.SHM.Dir == "" {
		c.SHM.Dir = "/dev/shm"
	}
	if c.SHM.Layout == "" {
		c.SHM.Layout = "station"
	}
	if c.SHM.WSName == "" {
		c.SHM.WSName = "wheel_status_ws"
	}
	if c.SHM.DSName == "" {
		c.SHM.DSName = "wheel_status_ds"
	}
	if c.SHM.LegacyName == "" {
		c.SHM.LegacyName = "wheel_status"
	}
	if c.SHM.PollInterval == 0 {
		c.SHM.PollInterval = 20 * time.Millisecond
	}

	if c.Bus.CarMapCapacity == 0 {
		c.Bus.CarMapCapacity = 256
	}
	if c.Bus.PendingCap == 0 {
		c.Bus.PendingCap = 8
	}
	if c.Bus.PendingExpiry == 0 {
		c.Bus.PendingExpiry = 30 * time.Second
	}
	if c.Bus.SweepInterval == 0 {
		c.Bus.SweepInterval = time.Second
	}

	if c.Finalizer.Interval == 0 {
		c.Finalizer.Interval = 500 * time.Millisecond
	}
	if c.Finalizer.CarNoGrace == 0 {
		c.Finalizer.CarNoGrace = 5 * time.Second
	}
	if c.Finalizer.Zone1Grace == 0 {
		c.Finalizer.Zone1Grace = 5 * time.Second
	}
	if c.Finalizer.Zone2Grace == 0 {
		c.Finalizer.Zone2Grace = 120 * time.Second
	}
	if c.Finalizer.WheelGrace == 0 {
		c.Finalizer.WheelGrace = 5 * time.Second
	}
	if c.Poller.Interval == 0 {
		c.Poller.Interval = 200 * time.Millisecond
	}
	if c.Poller.Limit == 0 {
		c.Poller.Limit = 50
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Table == "" {
		c.Store.Table = "wagon_events"
	}
	if c.Store.Retention == 0 {
		c.Store.Retention = 10 * time.Minute
	}
	if c.Store.MaxEmitted == 0 {
		c.Store.MaxEmitted = 4096
	}

	if c.Feed.MQTT.ClientID == "" {
		c.Feed.MQTT.ClientID = "railflow-edge"
	}
	if c.Feed.MQTT.TopicPrefix == "" {
		c.Feed.MQTT.TopicPrefix = "railflow/events"
	}
	if c.Feed.MQTT.Buffer == 0 {
		c.Feed.MQTT.Buffer = 256
	}

	if c.Images.Driver == "" {
		c.Images.Driver = "none"
	}
	if c.Images.Dir == "" {
		c.Images.Dir = "./data/images"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/wal"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.OPCUA.Endpoint != "" {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	if c.OPCUA.Endpoint != "" {
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	}
	if c.Zones.DelayCount < 1 {
		return fmt.Errorf("zones.delay_count must be >= 1, got %d", c.Zones.DelayCount)
	}
	if c.Session.NoDigitEndFrames < 1 {
		return fmt.Errorf("session.no_digit_end_frames must be >= 1, got %d", c.Session.NoDigitEndFrames)
	}
	if c.Policy.MaxQueueLen <= 0 {
		return fmt.Errorf("policy.max_queue_len must be > 0")
	}
	if c.Policy.MaxBatchSize <= 0 {
		return fmt.Errorf("policy.max_batch_size must be > 0")
	}
	switch c.Policy.OnWALFull {
	case "block", "reject", "drop":
	default:
		return fmt.Errorf("policy.on_wal_full %q must be block, reject or drop", c.Policy.OnWALFull)
	}
	switch c.Policy.OnQueueFull {
	case "block", "reject", "drop":
	default:
		return fmt.Errorf("policy.on_queue_full %q must be block, reject or drop", c.Policy.OnQueueFull)
	}
	switch c.SHM.Layout {
	case "station", "legacy":
	default:
		return fmt.Errorf("shm.layout %q must be station or legacy", c.SHM.Layout)
	}
	if c.Bus.CarMapCapacity < 1 || c.Bus.PendingCap < 1 {
		return fmt.Errorf("bus.car_map_capacity and bus.pending_cap must be >= 1")
	}
	if c.Poller.Limit < 1 {
		return fmt.Errorf("poller.limit must be >= 1")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.ConnString == "" {
			return fmt.Errorf("store.conn_string is required for postgres")
		}
	default:
		return fmt.Errorf("store.driver %q must be memory or postgres", c.Store.Driver)
	}
	if !tableName.MatchString(c.Store.Table) {
		return fmt.Errorf("store.table %q is not a valid identifier", c.Store.Table)
	}
	if c.Store.Retention < 0 || c.Store.MaxEmitted < 0 {
		return fmt.Errorf("store.retention and store.max_emitted must not be negative")
	}
	if c.Feed.MQTT.Enabled {
		if c.Feed.MQTT.Broker == "" {
			return fmt.Errorf("feed.mqtt.broker is required when mqtt is enabled")
		}
		if c.Feed.MQTT.QoS > 2 {
			return fmt.Errorf("feed.mqtt.qos must be 0, 1 or 2")
		}
	}
	switch c.Images.Driver {
	case "none", "file":
	case "s3":
		if c.Images.S3.Bucket == "" {
			return fmt.Errorf("images.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("images.driver %q must be none, file or s3", c.Images.Driver)
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
