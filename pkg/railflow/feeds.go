package railflow

import (
	"github.com/ghalamif/RailFlow/internal/adapters/feed"
)

// ErrFeedClosed is returned when a channel feed is closed twice.
var ErrFeedClosed = feed.ErrFeedClosed

// NewCallbackFeed adapts a function into a Feed. A panicking callback
// counts as a dropped message.
func NewCallbackFeed(name string, fn func(Message)) Feed {
	return feed.NewCallbackFeed(name, fn)
}

// NewChannelFeed exposes messages via a buffered channel; it returns the feed,
// the read-only channel, and a close function that the caller should invoke
// during shutdown. Messages are dropped while the buffer is full.
func NewChannelFeed(name string, buffer int) (Feed, <-chan Message, func() error) {
	return feed.NewChannelFeed(name, buffer)
}

// NewFanout delivers every message to all feeds.
func NewFanout(feeds ...Feed) Feed {
	return feed.Fanout(feeds)
}
