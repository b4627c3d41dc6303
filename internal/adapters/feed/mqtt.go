package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

type MQTTConfig struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	Buffer         int
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c *MQTTConfig) ApplyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "railflow-edge"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "railflow/events"
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
}

// MQTTFeed publishes messages as JSON to <prefix>/<type>. Publish only
// enqueues; Run does the network I/O.
type MQTTFeed struct {
	cfg    MQTTConfig
	client mqtt.Client
	obs    ports.Observability
	ch     chan domain.Message

	mu     sync.RWMutex
	closed bool
}

func NewMQTTFeed(cfg MQTTConfig, obs ports.Observability) *MQTTFeed {
	cfg.ApplyDefaults()
	f := &MQTTFeed{cfg: cfg, obs: obs, ch: make(chan domain.Message, cfg.Buffer)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		obs.LogInfo("mqtt_connected", ports.Field{Key: "broker", Value: cfg.Broker}, ports.Field{Key: "client_id", Value: cfg.ClientID})
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		obs.LogError("mqtt_connection_lost", err, ports.Field{Key: "broker", Value: cfg.Broker})
	})
	f.client = mqtt.NewClient(opts)
	return f
}

// Connect waits for the first connection. Later reconnects are automatic.
func (f *MQTTFeed) Connect(ctx context.Context) error {
	token := f.client.Connect()
	timeout := f.cfg.ConnectTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connect %s: timeout", f.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", f.cfg.Broker, err)
	}
	return nil
}

func (f *MQTTFeed) Publish(msg domain.Message) bool {
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

func (f *MQTTFeed) Name() string { return "mqtt" }

// Run sends buffered messages until ctx is done.
func (f *MQTTFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-f.ch:
			if err := f.send(msg); err != nil {
				f.obs.IncCounter(ports.MetricFeedDropped, 1)
				f.obs.LogError("mqtt_publish_failed", err, ports.Field{Key: "type", Value: string(msg.Kind)}, ports.Field{Key: "event_id", Value: msg.EventID})
			}
		}
	}
}

func (f *MQTTFeed) topic(k domain.MessageKind) string {
	return f.cfg.TopicPrefix + "/" + string(k)
}

func (f *MQTTFeed) send(msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Kind, err)
	}
	token := f.client.Publish(f.topic(msg.Kind), f.cfg.QoS, false, payload)
	if !token.WaitTimeout(f.cfg.PublishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.Kind)
	}
	return token.Error()
}

// Close stops accepting messages and disconnects.
func (f *MQTTFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFeedClosed
	}
	f.closed = true
	f.mu.Unlock()
	f.client.Disconnect(250)
	return nil
}

var _ ports.Feed = (*MQTTFeed)(nil)
