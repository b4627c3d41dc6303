package ports

import (
	"context"

	"github.com/ghalamif/RailFlow/internal/domain"
)

// Feed is the best-effort outbound event channel. Publish never blocks and
// reports false when the message was dropped.
type Feed interface {
	Publish(msg domain.Message) bool
	Name() string
}

// FrameSource returns the most recent encoded frame of a camera.
type FrameSource interface {
	Latest(camera string) ([]byte, bool)
}

// ImageStore persists an encoded frame and returns the path recorded in the store.
type ImageStore interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
}

// WheelSink accepts decoded wheel reports.
type WheelSink interface {
	OnWheelStatus(r domain.WheelReport)
}
