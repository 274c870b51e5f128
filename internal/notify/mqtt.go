package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/prohosp/flow-monitor/internal/config"
	"github.com/prohosp/flow-monitor/internal/derive"
	"github.com/prohosp/flow-monitor/internal/engine"
	"github.com/prohosp/flow-monitor/internal/models"
)

const (
	publishTimeout = 5 * time.Second
	queueSize      = 16
)

// TokenPublisher is the subset of mqtt.Client the publisher needs.
type TokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Connect dials the configured broker with auto-reconnect enabled.
func Connect(cfg config.MQTTConfig, logger *slog.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connection established", slog.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", slog.Any("error", err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// SnapshotMessage is the retained payload describing the current dashboard.
type SnapshotMessage struct {
	Phase      string                 `json:"phase"`
	Error      string                 `json:"error,omitempty"`
	SyncedAt   *time.Time             `json:"synced_at,omitempty"`
	Summary    models.Summary         `json:"summary"`
	Derived    derive.Dashboard       `json:"derived"`
	Series     []models.HistorySample `json:"series"`
	Advisories []engine.Advisory      `json:"advisories"`
}

// AlertMessage is published when the bed-block alert level changes.
type AlertMessage struct {
	Risk      string `json:"risk"`
	Status    string `json:"status"`
	Alert     string `json:"alert"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Publisher forwards engine snapshots to MQTT from a buffered channel.
type Publisher struct {
	client     TokenPublisher
	advisories *engine.AdvisoryEngine
	logger     *slog.Logger
	topic      string
	alertTopic string
	qos        byte
	now        func() time.Time

	snapshots chan engine.Snapshot
	lastRisk  string
}

// NewPublisher wires a publisher to client using the topics in cfg.
func NewPublisher(client TokenPublisher, cfg config.MQTTConfig, advisories *engine.AdvisoryEngine, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:     client,
		advisories: advisories,
		logger:     logger,
		topic:      cfg.Topic,
		alertTopic: cfg.AlertTopic,
		qos:        cfg.QoS,
		now:        time.Now,
		snapshots:  make(chan engine.Snapshot, queueSize),
	}
}

// Observe is an engine.Observer. It never blocks; snapshots arriving while
// the queue is full are dropped.
func (p *Publisher) Observe(s engine.Snapshot) {
	select {
	case p.snapshots <- s:
	default:
		p.logger.Warn("mqtt queue full, dropping snapshot")
	}
}

// Start publishes queued snapshots until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) {
	p.logger.Info("mqtt publisher started", slog.String("topic", p.topic), slog.String("alert_topic", p.alertTopic))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("mqtt publisher stopped")
			return
		case s := <-p.snapshots:
			if err := p.publishSnapshot(s); err != nil {
				p.logger.Warn("mqtt publish failed", slog.Any("error", err))
			}
		}
	}
}

func (p *Publisher) publishSnapshot(s engine.Snapshot) error {
	derived := derive.Compute(s.Summary, p.now())
	msg := SnapshotMessage{
		Phase:      s.Phase,
		Error:      s.Error,
		Summary:    s.Summary,
		Derived:    derived,
		Series:     s.Series,
		Advisories: p.advisories.Evaluate(s.State, s.Series),
		SyncedAt:   s.SyncedAt,
	}
	if err := p.publish(p.topic, true, msg); err != nil {
		return err
	}

	// Alerts fire on risk transitions only; failed cycles keep the last risk.
	if s.Error != "" || derived.Risk.Label == p.lastRisk {
		return nil
	}
	p.lastRisk = derived.Risk.Label
	alert := AlertMessage{
		Risk:   derived.Risk.Label,
		Status: string(derived.Risk.Status),
		Alert:  derived.Alert,
	}
	if s.Summary.UpdatedAt != nil {
		alert.UpdatedAt = *s.Summary.UpdatedAt
	}
	return p.publish(p.alertTopic, false, alert)
}

func (p *Publisher) publish(topic string, retained bool, v any) error {
	if topic == "" {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}
	token := p.client.Publish(topic, p.qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: %w", topic, errPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("mqtt message published", slog.String("topic", topic), slog.Int("bytes", len(payload)))
	return nil
}

var errPublishTimeout = errors.New("timed out waiting for broker acknowledgement")
