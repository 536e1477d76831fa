package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/hodor-mcp-client/internal/config"
)

// connectTimeout bounds the wait for the first broker connection.
const connectTimeout = 10 * time.Second

// MQTTPublisher publishes events as JSON to a single MQTT topic.
type MQTTPublisher struct {
	cfg    config.MQTTConfig
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
	cancel context.CancelFunc
}

// NewMQTTPublisher starts connecting to the configured broker and returns
// without waiting for the connection; Publish waits for it. autopaho
// keeps reconnecting in the background until Close.
func NewMQTTPublisher(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "notify", "broker", cfg.Broker)

	brokerURL, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "hodor-client-" + instanceID
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: cfg.Username,
		ConnectPassword: []byte(cfg.Password),
		OnConnectionUp: func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
			logger.Debug("mqtt connected to broker")
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return &MQTTPublisher{
		cfg:    cfg,
		logger: logger,
		cm:     cm,
		cancel: cancel,
	}, nil
}

// Publish sends ev to the configured topic, waiting for the broker
// connection first.
func (p *MQTTPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := p.cm.AwaitConnection(connCtx); err != nil {
		return fmt.Errorf("mqtt not connected: %w", err)
	}

	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.cfg.Topic,
		Payload: payload,
		QoS:     p.cfg.QoS,
	}); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", p.cfg.Topic, err)
	}

	p.logger.Debug("event published", "topic", p.cfg.Topic, "type", ev.Type, "id", ev.ID)
	return nil
}

// Close disconnects from the broker. The provided context controls how
// long to wait for the disconnect to complete.
func (p *MQTTPublisher) Close(ctx context.Context) error {
	defer p.cancel()
	if err := p.cm.Disconnect(ctx); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	return nil
}
