// Package natsio receives detections, levels, camera frames and remote
// wheel reports over NATS.
package natsio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration

	DetectionSubject string
	LevelSubject     string
	FrameSubject     string
	WheelSubject     string
}

func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "railflow-edge"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.DetectionSubject == "" {
		c.DetectionSubject = "railflow.detections"
	}
	if c.LevelSubject == "" {
		c.LevelSubject = "railflow.levels"
	}
	if c.FrameSubject == "" {
		c.FrameSubject = "railflow.frames"
	}
	if c.WheelSubject == "" {
		c.WheelSubject = "railflow.wheel"
	}
}

// Client wraps one NATS connection and the subscriptions made on it.
type Client struct {
	cfg  Config
	conn *nats.Conn
	obs  ports.Observability

	mu   sync.Mutex
	subs []*nats.Subscription
}

func Connect(cfg Config, obs ports.Observability) (*Client, error) {
	cfg.ApplyDefaults()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				obs.LogError("nats_disconnected", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			obs.LogInfo("nats_reconnected", ports.Field{Key: "url", Value: nc.ConnectedUrl()})
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			obs.LogError("nats_async_error", err, ports.Field{Key: "subject", Value: subject})
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return &Client{cfg: cfg, conn: conn, obs: obs}, nil
}

func (c *Client) subscribe(subject string, h nats.MsgHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, err := c.conn.Subscribe(subject, h)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	return nil
}

// Intake lists where inbound streams go. Nil entries are not subscribed.
type Intake struct {
	Detections chan<- domain.Detection
	Levels     chan<- domain.Level
	Frames     *FrameCache
	Wheel      ports.WheelSink
}

// Attach subscribes every configured intake. Handlers stop forwarding to
// channels once ctx is done.
func (c *Client) Attach(ctx context.Context, in Intake) error {
	if in.Detections != nil {
		if err := c.subscribe(c.cfg.DetectionSubject, DetectionHandler(ctx, in.Detections, c.obs)); err != nil {
			return err
		}
	}
	if in.Levels != nil {
		if err := c.subscribe(c.cfg.LevelSubject, LevelHandler(ctx, in.Levels, c.obs)); err != nil {
			return err
		}
	}
	if in.Frames != nil {
		if err := c.subscribe(c.cfg.FrameSubject+".*", in.Frames.Handler(c.cfg.FrameSubject)); err != nil {
			return err
		}
	}
	if in.Wheel != nil {
		if err := c.subscribe(c.cfg.WheelSubject, WheelHandler(in.Wheel, c.obs)); err != nil {
			return err
		}
	}
	return nil
}

// Close drops every subscription and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, s := range c.subs {
		if err := s.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	c.subs = nil
	c.conn.Close()
	return errors.Join(errs...)
}
