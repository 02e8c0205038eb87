package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/veronica/internal/config"
)

// ErrNotStarted is returned by [Mirror.Send] before [Mirror.Start] has
// created a connection.
var ErrNotStarted = errors.New("mqtt mirror not started")

// publishTimeout bounds one action publish while the broker is away.
const publishTimeout = 5 * time.Second

// Mirror publishes device actions to <prefix>/<device>/action.
type Mirror struct {
	cfg      config.MQTTConfig
	clientID string
	logger   *slog.Logger

	mu sync.RWMutex
	cm *autopaho.ConnectionManager
}

// New creates a Mirror but does not connect. instanceID keeps the MQTT
// client ID stable across restarts.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	clientID := "veronica-" + cfg.DeviceName
	if len(instanceID) >= 8 {
		clientID += "-" + instanceID[:8]
	}
	return &Mirror{
		cfg:      cfg,
		clientID: clientID,
		logger:   logger.With("component", "mqtt"),
	}
}

// ID implements devices.Observer.
func (m *Mirror) ID() string {
	return "mqtt:" + m.cfg.DeviceName
}

func (m *Mirror) baseTopic() string {
	return m.cfg.TopicPrefix + "/" + m.cfg.DeviceName
}

// ActionTopic is where device actions are published.
func (m *Mirror) ActionTopic() string {
	return m.baseTopic() + "/action"
}

// AvailabilityTopic carries the retained online/offline state.
func (m *Mirror) AvailabilityTopic() string {
	return m.baseTopic() + "/availability"
}

// Start connects to the broker and blocks until ctx is cancelled.
func (m *Mirror) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(m.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: m.cfg.Username,
		ConnectPassword: []byte(m.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   m.AvailabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			m.logger.Info("mqtt connected to broker", "broker", m.cfg.Broker)
			m.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			m.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: m.clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.mu.Lock()
	m.cm = cm
	m.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		m.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Stop publishes "offline" and disconnects.
func (m *Mirror) Stop(ctx context.Context) error {
	cm := m.conn()
	if cm == nil {
		return nil
	}
	m.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

func (m *Mirror) conn() *autopaho.ConnectionManager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cm
}

// Ping reports whether the broker connection is currently up.
func (m *Mirror) Ping(ctx context.Context) error {
	cm := m.conn()
	if cm == nil {
		return ErrNotStarted
	}
	return cm.AwaitConnection(ctx)
}

// Send implements devices.Observer. Actions are not retained: a device
// that subscribes later does not see earlier actions.
func (m *Mirror) Send(ctx context.Context, action string) error {
	cm := m.conn()
	if cm == nil {
		return ErrNotStarted
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.ActionTopic(),
		Payload: []byte(action),
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", m.ActionTopic(), err)
	}
	m.logger.Debug("mqtt action published", "topic", m.ActionTopic(), "action", action)
	return nil
}

func (m *Mirror) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.AvailabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		m.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		m.logger.Info("mqtt availability published", "status", status)
	}
}
