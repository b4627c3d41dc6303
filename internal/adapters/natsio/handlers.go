package natsio

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ghalamif/RailFlow/internal/adapters/codec"
	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// FrameCache keeps the latest encoded frame per camera.
type FrameCache struct {
	mu     sync.RWMutex
	frames map[string][]byte
}

func NewFrameCache() *FrameCache {
	return &FrameCache{frames: make(map[string][]byte)}
}

// Put stores a copy of data as the latest frame of camera.
func (f *FrameCache) Put(camera string, data []byte) {
	if len(data) == 0 {
		return
	}
	cp := bytes.Clone(data)
	f.mu.Lock()
	f.frames[camera] = cp
	f.mu.Unlock()
}

// Latest returns the cached frame. Callers must not modify it.
func (f *FrameCache) Latest(camera string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.frames[camera]
	return b, ok
}

// Handler caches frames published on <prefix>.<camera>.
func (f *FrameCache) Handler(prefix string) nats.MsgHandler {
	return func(m *nats.Msg) {
		camera := strings.TrimPrefix(m.Subject, prefix+".")
		if camera == "" || camera == m.Subject {
			return
		}
		f.Put(camera, m.Data)
	}
}

func DetectionHandler(ctx context.Context, out chan<- domain.Detection, obs ports.Observability) nats.MsgHandler {
	return func(m *nats.Msg) {
		d, err := codec.DecodeDetection(m.Data)
		if err != nil {
			obs.LogError("detection_decode_failed", err, ports.Field{Key: "subject", Value: m.Subject})
			return
		}
		select {
		case out <- d:
		case <-ctx.Done():
		}
	}
}

func LevelHandler(ctx context.Context, out chan<- domain.Level, obs ports.Observability) nats.MsgHandler {
	return func(m *nats.Msg) {
		l, err := codec.DecodeLevel(m.Data, time.Now())
		if err != nil {
			obs.LogError("level_decode_failed", err, ports.Field{Key: "subject", Value: m.Subject})
			return
		}
		select {
		case out <- l:
		case <-ctx.Done():
		}
	}
}

// WheelHandler decodes remote wheel messages and forwards both axles.
func WheelHandler(sink ports.WheelSink, obs ports.Observability) nats.MsgHandler {
	return func(m *nats.Msg) {
		reports, err := codec.DecodeWheelMessage(m.Data, time.Now())
		if err != nil {
			obs.LogError("wheel_decode_failed", err, ports.Field{Key: "subject", Value: m.Subject})
			return
		}
		for _, r := range reports {
			obs.IncCounter(ports.MetricWheelReports, 1)
			sink.OnWheelStatus(r)
		}
	}
}

var _ ports.FrameSource = (*FrameCache)(nil)
