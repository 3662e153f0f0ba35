package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/utils"
)

// Publisher publishes device and area commands with QoS 1
type Publisher struct {
	client  MQTT.Client
	timeout time.Duration
}

// NewPublisher bounds each publish by timeout in addition to the caller's ctx
func NewPublisher(client MQTT.Client, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{client: client, timeout: timeout}
}

func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("publish %s: not connected", topic)
	}
	token := p.client.Publish(topic, 1, false, payload)
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("publish %s: timed out after %s", topic, p.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EventHandler receives decoded events from the bus
type EventHandler func(ctx context.Context, event models.StandardizedEvent) error

// Invalidator drops cached device context
type Invalidator interface {
	Invalidate(ctx context.Context, deviceID string) error
}

// Subscriber routes bus messages into the engine
type Subscriber struct {
	eventTopic  string
	onEvent     EventHandler
	invalidator Invalidator
	logger      zerolog.Logger
}

// NewSubscriber creates a subscriber. invalidator may be nil.
func NewSubscriber(eventTopic string, onEvent EventHandler, invalidator Invalidator) *Subscriber {
	if eventTopic == "" {
		eventTopic = utils.EventTopicPattern
	}
	return &Subscriber{
		eventTopic:  eventTopic,
		onEvent:     onEvent,
		invalidator: invalidator,
		logger:      log.With().Str("component", "mqtt").Logger(),
	}
}

// Subscribe registers the handlers on c. Pass it as the onConnect hook of
// NewClient so subscriptions survive reconnects.
func (s *Subscriber) Subscribe(c MQTT.Client) {
	if token := c.Subscribe(s.eventTopic, 1, s.handleEvent); token.Wait() && token.Error() != nil {
		s.logger.Error().Err(token.Error()).Str("topic", s.eventTopic).Msg("subscribe failed")
	} else {
		s.logger.Info().Str("topic", s.eventTopic).Msg("subscribed to events")
	}
	if s.invalidator == nil {
		return
	}
	if token := c.Subscribe(utils.TopologyChangedPattern, 1, s.handleTopologyChanged); token.Wait() && token.Error() != nil {
		s.logger.Error().Err(token.Error()).Str("topic", utils.TopologyChangedPattern).Msg("subscribe failed")
	}
}

func (s *Subscriber) handleEvent(_ MQTT.Client, msg MQTT.Message) {
	event, err := DecodeEvent(msg.Topic(), msg.Payload())
	if err != nil {
		s.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("dropping malformed event")
		return
	}
	if err := s.onEvent(context.Background(), event); err != nil {
		s.logger.Error().Err(err).Str("event_id", event.ID).Str("device_id", event.DeviceID).Msg("event handling failed")
	}
}

func (s *Subscriber) handleTopologyChanged(_ MQTT.Client, msg MQTT.Message) {
	deviceID := utils.ParseTopologyDeviceID(msg.Topic())
	if deviceID == "" {
		return
	}
	if err := s.invalidator.Invalidate(context.Background(), deviceID); err != nil {
		s.logger.Warn().Err(err).Str("device_id", deviceID).Msg("context invalidation failed")
	}
}

// DecodeEvent parses an event published on events/{deviceId}/standardized.
// The device id falls back to the topic segment and a missing timestamp
// means now.
func DecodeEvent(topic string, payload []byte) (models.StandardizedEvent, error) {
	var event models.StandardizedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("decode event: %w", err)
	}
	if event.DeviceID == "" {
		event.DeviceID = utils.ParseDeviceID(topic)
	}
	if event.ID == "" {
		return event, fmt.Errorf("event without id on %s", topic)
	}
	if event.Type == "" {
		return event, fmt.Errorf("event %s without type", event.ID)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event, nil
}
