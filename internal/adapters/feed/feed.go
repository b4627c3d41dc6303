// Package feed delivers outbound messages to display and integration
// consumers. Every Publish is non-blocking and reports false on a drop.
package feed

import (
	"errors"
	"sync"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// ErrFeedClosed is returned when a feed is closed twice or used after Close.
var ErrFeedClosed = errors.New("feed: closed")

// ChannelFeed exposes messages on a buffered channel.
type ChannelFeed struct {
	name   string
	mu     sync.RWMutex
	ch     chan domain.Message
	closed bool
}

// NewChannelFeed returns the feed, the read side of its channel and a close
// function the caller should invoke during shutdown.
func NewChannelFeed(name string, buffer int) (*ChannelFeed, <-chan domain.Message, func() error) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	f := &ChannelFeed{name: name, ch: make(chan domain.Message, buffer)}
	return f, f.ch, f.Close
}

func (f *ChannelFeed) Publish(msg domain.Message) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.ch <- msg:
		return true
	default:
		return false
	}
}

func (f *ChannelFeed) Name() string { return f.name }

func (f *ChannelFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFeedClosed
	}
	f.closed = true
	close(f.ch)
	return nil
}

// CallbackFeed hands every message to fn on the publishing goroutine, so fn
// must return quickly.
type CallbackFeed struct {
	name string
	fn   func(domain.Message)
}

func NewCallbackFeed(name string, fn func(domain.Message)) *CallbackFeed {
	if name == "" {
		name = "callback"
	}
	return &CallbackFeed{name: name, fn: fn}
}

func (f *CallbackFeed) Publish(msg domain.Message) (ok bool) {
	if f.fn == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	f.fn(msg)
	return true
}

func (f *CallbackFeed) Name() string { return f.name }

// Fanout publishes to several feeds. It reports true only when every feed
// accepted the message.
type Fanout []ports.Feed

func (fo Fanout) Publish(msg domain.Message) bool {
	ok := true
	for _, f := range fo {
		if !f.Publish(msg) {
			ok = false
		}
	}
	return ok
}

func (fo Fanout) Name() string { return "fanout" }

// Discard drops every message. It stands in when no feed is configured.
type Discard struct{}

func (Discard) Publish(domain.Message) bool { return true }
func (Discard) Name() string                { return "discard" }

var (
	_ ports.Feed = (*ChannelFeed)(nil)
	_ ports.Feed = (*CallbackFeed)(nil)
	_ ports.Feed = Fanout(nil)
	_ ports.Feed = Discard{}
)
