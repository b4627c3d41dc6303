// Package opcua subscribes to acoustic level tags on an OPC UA server and
// emits one domain.Level per data change.
package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig maps one level tag to an acoustic zone.
type NodeConfig struct {
	NodeID string  `yaml:"node_id"`
	Zone   string  `yaml:"zone"`
	Offset float64 `yaml:"offset"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "RailFlow Edge"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 100 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	for i := range c.Nodes {
		c.Nodes[i].Zone = strings.ToLower(strings.TrimSpace(c.Nodes[i].Zone))
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	for _, n := range c.Nodes {
		if n.NodeID == "" {
			return errors.New("node_id is required")
		}
		if _, ok := domain.ZoneLevelColumn[n.Zone]; !ok {
			return fmt.Errorf("node %s: unknown zone %q", n.NodeID, n.Zone)
		}
	}
	return nil
}

type Collector struct {
	cfg       Config
	obs       ports.Observability
	client    *opcua.Client
	sub       *opcua.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	handleMap map[uint32]NodeConfig
	mu        sync.Mutex
	started   bool
}

func NewCollector(cfg Config, obs ports.Observability) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{cfg: cfg, obs: obs}, nil
}

func (c *Collector) Start(out chan<- domain.Level) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("opcua collector already started")
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	client, err := opcua.NewClient(c.cfg.Endpoint, c.clientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(c.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: c.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handleMap := make(map[uint32]NodeConfig, len(c.cfg.Nodes))
	for i, node := range c.cfg.Nodes {
		handle := uint32(i + 1)
		if err := c.monitor(ctx, sub, node, handle); err != nil {
			cleanup(ctx, cancel, sub, client)
			return err
		}
		handleMap[handle] = node
	}

	c.mu.Lock()
	c.client = client
	c.sub = sub
	c.cancel = cancel
	c.handleMap = handleMap
	c.started = true
	c.mu.Unlock()

	c.obs.LogInfo("opcua_subscribed", ports.Field{Key: "endpoint", Value: c.cfg.Endpoint}, ports.Field{Key: "nodes", Value: len(handleMap)})
	c.wg.Add(1)
	go c.consume(ctx, notifyCh, out)
	return nil
}

func (c *Collector) monitor(ctx context.Context, sub *opcua.Subscription, node NodeConfig, handle uint32) error {
	nodeID, err := ua.ParseNodeID(node.NodeID)
	if err != nil {
		return fmt.Errorf("parse node id %q: %w", node.NodeID, err)
	}
	req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
	if c.cfg.SamplingInterval > 0 {
		req.RequestedParameters.SamplingInterval = float64(c.cfg.SamplingInterval / time.Millisecond)
	}
	res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		return fmt.Errorf("monitor node %q: %w", node.NodeID, err)
	}
	if len(res.Results) == 0 {
		return fmt.Errorf("monitor node %q failed: empty result", node.NodeID)
	}
	if res.Results[0].StatusCode != ua.StatusOK {
		return fmt.Errorf("monitor node %q failed: %s", node.NodeID, res.Results[0].StatusCode)
	}
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel, sub, client := c.cancel, c.sub, c.client
	c.started = false
	c.cancel, c.sub, c.client = nil, nil, nil
	c.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}

	c.wg.Wait()
	return err
}

func (c *Collector) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, out chan<- domain.Level) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				c.obs.LogError("opcua_notification_error", notif.Error)
				continue
			}
			for _, l := range levelsFrom(notif.Value, c.handleMap, time.Now(), c.obs) {
				select {
				case <-ctx.Done():
					return
				case out <- l:
				}
			}
		}
	}
}

func (c *Collector) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(c.cfg.SecurityPolicy)),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if c.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func cleanup(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Collector = (*Collector)(nil)
