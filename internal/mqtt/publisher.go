// Package mqtt publishes synthesized snapshots to an external broker.
// Publishing is best-effort: failures are logged and never surfaced to the
// request path, mirroring the store's fail-open persistence policy.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"tofyx-server/internal/config"
	"tofyx-server/internal/modules/rover/types"
)

type Publisher struct {
	client    mqtt.Client
	cfg       config.Config
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPublisher(cfg config.Config) *Publisher {
	p := &Publisher{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Callbacks keep internal state accurate
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		slog.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		slog.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect establishes the broker connection, waiting until ctx expires.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("publisher stopped")
	default:
	}

	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()

	// Wait in a ctx/stop-aware loop.
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// OnConnectHandler sets connected=true.
			return nil
		}

		select {
		case <-ctx.Done():
			p.client.Disconnect(0)
			return ctx.Err()
		case <-p.stopCh:
			p.client.Disconnect(0)
			return fmt.Errorf("publisher stopped")
		default:
		}
	}
}

// PublishSnapshot pushes one snapshot to the configured topic. Errors are
// logged, never returned: the telemetry response does not depend on the
// broker.
func (p *Publisher) PublishSnapshot(snap types.Snapshot) {
	if !p.IsConnected() {
		slog.Debug("mqtt not connected, dropping snapshot", "topic", p.cfg.MQTTTopic)
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		slog.Error("marshal snapshot for mqtt", "error", err)
		return
	}

	token := p.client.Publish(p.cfg.MQTTTopic, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Warn("mqtt publish timeout", "topic", p.cfg.MQTTTopic)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("mqtt publish failed", "topic", p.cfg.MQTTTopic, "error", err)
	}
}

func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
