package railflow

import (
	"context"

	base "github.com/ghalamif/RailFlow/pkg/railflow"
)

// Re-exported errors for convenience.
var (
	ErrJournalFull = base.ErrJournalFull
	ErrFeedClosed  = base.ErrFeedClosed
)

const (
	StationWS = base.StationWS
	StationDS = base.StationDS
)

// Type aliases so consumers can import github.com/ghalamif/RailFlow directly.
type (
	Config          = base.Config
	Policy          = base.Policy
	OPCUAConfig     = base.OPCUAConfig
	OPCUANodeConfig = base.OPCUANodeConfig
	StoreConfig     = base.StoreConfig
	MetricsConfig   = base.MetricsConfig
	WALConfig       = base.WALConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	Snapshot        = base.Snapshot
	Patch           = base.Patch
	EventRecord     = base.EventRecord
	Message         = base.Message
	Detection       = base.Detection
	Level           = base.Level
	WheelReport     = base.WheelReport
	Station         = base.Station
	Collector       = base.Collector
	Store           = base.Store
	Sink            = base.Sink
	Feed            = base.Feed
	ImageStore      = base.ImageStore
	FrameSource     = base.FrameSource
	PatchQueue      = base.PatchQueue
	WAL             = base.WAL
	Observability   = base.Observability
	QueuedPatch     = base.QueuedPatch
	WALEntryID      = base.WALEntryID
	WALStats        = base.WALStats
	PatchPublisher  = base.PatchPublisher
	PublisherConfig = base.PublisherConfig
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInFrames(src FrameSource) StreamInOption {
	return base.StreamInFrames(src)
}

func StreamInQueue(q PatchQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInWAL(w WAL) StreamInOption {
	return base.StreamInWAL(w)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutStore(s Store) StreamOutOption {
	return base.StreamOutStore(s)
}

func StreamOutFeed(f Feed) StreamOutOption {
	return base.StreamOutFeed(f)
}

func StreamOutCallback(name string, fn func(Message)) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

func StreamOutImages(s ImageStore) StreamOutOption {
	return base.StreamOutImages(s)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithCollector(col Collector) RuntimeOption {
	return base.WithCollector(col)
}

func WithStore(s Store) RuntimeOption {
	return base.WithStore(s)
}

func WithFeed(f Feed) RuntimeOption {
	return base.WithFeed(f)
}

func WithImageStore(s ImageStore) RuntimeOption {
	return base.WithImageStore(s)
}

func WithFrameSource(f FrameSource) RuntimeOption {
	return base.WithFrameSource(f)
}

func WithWAL(w WAL) RuntimeOption {
	return base.WithWAL(w)
}

func WithQueue(q PatchQueue) RuntimeOption {
	return base.WithQueue(q)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

// Feed adapters.
func NewCallbackFeed(name string, fn func(Message)) Feed {
	return base.NewCallbackFeed(name, fn)
}

func NewChannelFeed(name string, buffer int) (Feed, <-chan Message, func() error) {
	return base.NewChannelFeed(name, buffer)
}

func NewFanout(feeds ...Feed) Feed {
	return base.NewFanout(feeds...)
}

// Patch publisher.
func NewPatchPublisher(cfg *PublisherConfig, store Sink, obs Observability) (*PatchPublisher, error) {
	return base.NewPatchPublisher(cfg, store, obs)
}

// Run loads path and runs a runtime with the given options until ctx is done.
func Run(ctx context.Context, path string, opts ...RuntimeOption) error {
	cfg, err := base.LoadConfig(path)
	if err != nil {
		return err
	}
	rt, err := base.NewRuntime(cfg, opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}
