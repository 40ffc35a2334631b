// Package mqtt receives device reports over MQTT. Collars publish to
// <prefix>/devices/<entityId>/location and get the ingestion result back
// on <prefix>/devices/<entityId>/ack.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/config"
	"github.com/onichip/pettrack-backend-go/internal/models"
)

const handleTimeout = 30 * time.Second

// Ingester is the ingestion entry point the subscriber feeds.
type Ingester interface {
	Receive(ctx context.Context, entityID string, p models.LocationPayload) (*models.IngestionResult, error)
}

// LocationTopic is the topic a device publishes its reports to.
func LocationTopic(prefix, entityID string) string {
	return fmt.Sprintf("%s/devices/%s/location", prefix, entityID)
}

// AckTopic is the topic the result of a report is published to.
func AckTopic(prefix, entityID string) string {
	return fmt.Sprintf("%s/devices/%s/ack", prefix, entityID)
}

// EntityFromTopic extracts the entity ID from a location topic.
func EntityFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/devices/")
	if !ok {
		return "", false
	}
	entityID, ok := strings.CutSuffix(rest, "/location")
	if !ok || entityID == "" || strings.Contains(entityID, "/") {
		return "", false
	}
	return entityID, true
}

// Ack is the reply published for every report.
type Ack struct {
	OK     bool                    `json:"ok"`
	Result *models.IngestionResult `json:"result,omitempty"`
	Error  *models.ErrorDetail     `json:"error,omitempty"`
}

// Subscriber consumes device reports from an MQTT broker.
type Subscriber struct {
	cfg    config.MQTTConfig
	ingest Ingester
	client paho.Client
	logger *slog.Logger
	ctx    context.Context
}

// NewSubscriber creates a subscriber. It does not connect until Start.
func NewSubscriber(cfg config.MQTTConfig, ingest Ingester, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{cfg: cfg, ingest: ingest, logger: logger, ctx: context.Background()}
}

// Start connects to the broker and subscribes to every device's location
// topic. The subscription is renewed on each reconnect. ctx bounds the
// handling of received reports.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx = ctx
	filter := LocationTopic(s.cfg.TopicPrefix, "+")

	opts := paho.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetUsername(s.cfg.Username).
		SetPassword(s.cfg.Password).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(filter, s.cfg.QoS, s.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("mqtt subscribe failed", "topic", filter, "error", err)
			return
		}
		s.logger.Info("mqtt subscribed", "topic", filter)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("connect to mqtt broker %s: timed out", s.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", s.cfg.BrokerURL, err)
	}
	s.logger.Info("connected to mqtt broker", "broker", s.cfg.BrokerURL, "client_id", s.cfg.ClientID)
	return nil
}

// Stop disconnects, giving in-flight work a short grace period.
func (s *Subscriber) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) onMessage(c paho.Client, msg paho.Message) {
	ackTopic, ack, ok := s.Handle(s.ctx, msg.Topic(), msg.Payload())
	if !ok {
		return
	}
	token := c.Publish(ackTopic, s.cfg.QoS, false, ack)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Warn("mqtt ack publish failed", "topic", ackTopic, "error", err)
		}
	}()
}

// Handle ingests one message and returns the ack topic and body. ok is
// false for topics that do not name a device.
func (s *Subscriber) Handle(ctx context.Context, topic string, payload []byte) (string, []byte, bool) {
	entityID, ok := EntityFromTopic(s.cfg.TopicPrefix, topic)
	if !ok {
		s.logger.Warn("mqtt message on unexpected topic", "topic", topic)
		return "", nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	var ack Ack
	var report models.LocationPayload
	if err := json.Unmarshal(payload, &report); err != nil {
		ack.Error = errorDetail(apperr.InvalidPayload("malformed report: %v", err))
	} else if res, err := s.ingest.Receive(ctx, entityID, report); err != nil {
		ack.Error = errorDetail(err)
	} else {
		ack.OK = res.Fix != nil || res.Telemetry != nil
		ack.Result = res
	}
	if ack.Error != nil {
		s.logger.Warn("mqtt report rejected", "entity", entityID, "code", ack.Error.Code, "error", ack.Error.Message)
	}

	body, err := json.Marshal(ack)
	if err != nil {
		s.logger.Error("encode mqtt ack", "entity", entityID, "error", err)
		return "", nil, false
	}
	return AckTopic(s.cfg.TopicPrefix, entityID), body, true
}

func errorDetail(err error) *models.ErrorDetail {
	return &models.ErrorDetail{Code: apperr.CodeOf(err), Message: err.Error()}
}
