// Package publish fans the latest availability per sensor out to an MQTT broker.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/afroash/parking-monitor/internal/dashboard"
	"github.com/afroash/parking-monitor/internal/models"
	"github.com/afroash/parking-monitor/internal/poller"
)

const publishTimeout = 5 * time.Second

// SpotMessage is the JSON body published per sensor
type SpotMessage struct {
	SensorID  string         `json:"sensor_id"`
	Name      string         `json:"name"`
	Spots     int            `json:"spots"`
	Tier      dashboard.Tier `json:"tier"`
	Timestamp time.Time      `json:"timestamp"`
}

// Config configures the MQTT publisher
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Retained    bool
}

// Publisher sends SpotMessages to <prefix>/<sensor_id>
type Publisher struct {
	client   mqtt.Client
	cfg      Config
	registry models.Registry
	logger   zerolog.Logger
}

// Connect dials the broker and returns a publisher using it
func Connect(cfg Config, registry models.Registry, logger zerolog.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("publish: broker required")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(publishTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		// connect keeps retrying in the background
		logger.Warn().Str("broker", cfg.Broker).Msg("MQTT broker not reachable yet")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return NewPublisher(client, cfg, registry, logger), nil
}

// NewPublisher wraps an existing client
func NewPublisher(client mqtt.Client, cfg Config, registry models.Registry, logger zerolog.Logger) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "parking/spots"
	}
	cfg.TopicPrefix = strings.TrimRight(cfg.TopicPrefix, "/")
	return &Publisher{
		client:   client,
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
}

// Topic returns the topic for a sensor
func (p *Publisher) Topic(sensorID string) string {
	return p.cfg.TopicPrefix + "/" + sensorID
}

// Publish sends the latest reading of every sensor in the table.
// Returns the number of messages delivered.
func (p *Publisher) Publish(table models.ReadingTable) (int, error) {
	var errs []error
	sent := 0
	for _, msg := range BuildMessages(table, p.registry) {
		payload, err := json.Marshal(msg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		token := p.client.Publish(p.Topic(msg.SensorID), p.cfg.QoS, p.cfg.Retained, payload)
		if !token.WaitTimeout(publishTimeout) {
			errs = append(errs, fmt.Errorf("publish %s: timed out", msg.SensorID))
			continue
		}
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", msg.SensorID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// OnUpdate publishes after successful refreshes; it has the poller.Listener signature
func (p *Publisher) OnUpdate(u poller.Update) {
	if u.Err != nil {
		return
	}
	sent, err := p.Publish(u.Snapshot.Readings)
	if err != nil {
		p.logger.Error().Err(err).Int("sent", sent).Msg("MQTT publish failed")
		return
	}
	p.logger.Debug().Int("sent", sent).Msg("Published latest spots")
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// BuildMessages renders one message per sensor from the latest state of the table,
// ordered by sensor id.
func BuildMessages(table models.ReadingTable, registry models.Registry) []SpotMessage {
	latest := models.Latest(table)
	seen := table.NewestBySensor()

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	msgs := make([]SpotMessage, 0, len(ids))
	for _, id := range ids {
		spots := latest[id]
		msgs = append(msgs, SpotMessage{
			SensorID:  id,
			Name:      registry.DisplayName(id),
			Spots:     spots,
			Tier:      dashboard.TierFor(spots),
			Timestamp: seen[id],
		})
	}
	return msgs
}
