package railflow

import (
	"github.com/ghalamif/RailFlow/internal/adapters/opcua"
	"github.com/ghalamif/RailFlow/internal/app/config"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls WAL/queue thresholds.
	Policy = ports.Policy
	// OPCUAConfig holds connection + node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig maps a monitored tag to a zone.
	OPCUANodeConfig = opcua.NodeConfig
	SessionConfig   = config.SessionConfig
	ZonesConfig     = config.ZonesConfig
	SHMConfig       = config.SHMConfig
	BusConfig       = config.BusConfig
	FinalizerConfig = config.FinalizerConfig
	PollerConfig    = config.PollerConfig
	StoreConfig     = config.StoreConfig
	FeedConfig      = config.FeedConfig
	MQTTConfig      = config.MQTTConfig
	NATSConfig      = config.NATSConfig
	ImagesConfig    = config.ImagesConfig
	S3Config        = config.S3Config
	MetricsConfig   = config.MetricsConfig
	WALConfig       = config.WALConfig
	LogConfig       = config.LogConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a validated configuration with every default set
// and no external input enabled.
func DefaultConfig() *Config {
	return config.Default()
}
