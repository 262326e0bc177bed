// Package alert publishes non-awake driver statuses to an MQTT broker so that
// dashboards and companion apps can react while a session is live.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/drowsiness-monitor/internal/fusion"
	"github.com/ukydev/drowsiness-monitor/internal/models"
	"github.com/ukydev/drowsiness-monitor/internal/stream"
)

const (
	alertQoS       byte = 1
	publishTimeout      = 2 * time.Second
	connectTimeout      = 5 * time.Second
)

// Client is the part of the paho client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Options configures the broker connection.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// Alert is the message published for one alerting frame.
type Alert struct {
	UserID     int64                  `json:"user_id"`
	SessionID  string                 `json:"session_id"`
	Status     fusion.Status          `json:"status"`
	Detections []models.DetectionView `json:"detections"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Stats contains publisher statistics
type Stats struct {
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// MQTTPublisher implements stream.Observer.
type MQTTPublisher struct {
	client Client
	prefix string
	conn   mqtt.Client

	mu    sync.Mutex
	stats Stats
}

// NewMQTTPublisher wraps an already connected client.
func NewMQTTPublisher(client Client, topicPrefix string) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: strings.TrimSuffix(topicPrefix, "/")}
}

// Connect dials the broker with auto-reconnect enabled and returns a publisher on it.
func Connect(opts Options) (*MQTTPublisher, error) {
	broker := opts.Broker
	if !strings.Contains(broker, "://") {
		broker = fmt.Sprintf("tcp://%s", broker)
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(broker)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectRetryInterval(2 * time.Second)
	clientOpts.SetMaxReconnectInterval(30 * time.Second)
	clientOpts.OnConnect = func(c mqtt.Client) {
		log.WithField("broker", broker).Info("MQTT connection established")
	}
	clientOpts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.WithError(err).WithField("broker", broker).Warn("MQTT connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(clientOpts)
	if err := connectClient(client, connectTimeout); err != nil {
		return nil, err
	}

	p := NewMQTTPublisher(client, opts.TopicPrefix)
	p.conn = client
	return p, nil
}

// connectClient waits for the first connection. With connect retry enabled the
// token only completes once a broker answers, so a client that gives up is
// disconnected to stop its retry loop.
func connectClient(client mqtt.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Topic returns the status topic for a user.
func (p *MQTTPublisher) Topic(userID int64) string {
	return fmt.Sprintf("%s/%d/status", p.prefix, userID)
}

// Observe publishes the frame when its status is an alert. Awake frames are ignored.
func (p *MQTTPublisher) Observe(ctx context.Context, result stream.FrameResult) error {
	if !result.Status.IsAlert() {
		return nil
	}

	payload, err := json.Marshal(Alert{
		UserID:     result.Session.UserID,
		SessionID:  result.Session.ID,
		Status:     result.Status,
		Detections: models.Views(result.Detections),
		Timestamp:  result.At,
	})
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	topic := p.Topic(result.Session.UserID)
	token := p.client.Publish(topic, alertQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.stats.Published++
	p.mu.Unlock()

	log.WithFields(log.Fields{"topic": topic, "status": result.Status}).Debug("Alert published")
	return nil
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.stats.Errors++
	p.mu.Unlock()
}

// Stats returns publisher statistics.
func (p *MQTTPublisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close disconnects from the broker if the publisher owns the connection.
func (p *MQTTPublisher) Close() {
	if p.conn != nil && p.conn.IsConnected() {
		p.conn.Disconnect(250)
		log.Info("MQTT disconnected")
	}
}
