// Package ingest feeds pings arriving over MQTT into the tracking service.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-tracker/internal/models"
	"github.com/ukydev/transit-tracker/internal/tracking"
)

// DefaultTopic matches transit/<busId>/gps.
const DefaultTopic = "transit/+/gps"

// Ingester handles one decoded ping.
type Ingester interface {
	Ingest(ctx context.Context, ping models.Ping) (tracking.Outcome, error)
}

// Metrics observes MQTT traffic.
type Metrics interface {
	MQTTMessage(result string)
	MQTTSetConnected(connected bool)
}

type Options struct {
	Broker   string
	Topic    string
	ClientID string
	Timeout  time.Duration // per message
}

// Subscriber consumes ping messages from an MQTT broker.
type Subscriber struct {
	opts     Options
	ingester Ingester
	metrics  Metrics
	client   mqtt.Client
}

func NewSubscriber(opts Options, ingester Ingester, m Metrics) *Subscriber {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.ClientID == "" {
		opts.ClientID = "transit-tracker"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Subscriber{opts: opts, ingester: ingester, metrics: m}
}

// Start connects and subscribes. Subscriptions are renewed on every reconnect.
func (s *Subscriber) Start() error {
	co := mqtt.NewClientOptions().
		AddBroker(s.opts.Broker).
		SetClientID(s.opts.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			s.setConnected(true)
			token := c.Subscribe(s.opts.Topic, 1, s.onMessage)
			if token.WaitTimeout(10*time.Second) && token.Error() != nil {
				log.WithError(token.Error()).WithFields(log.Fields{"topic": s.opts.Topic}).Error("MQTT subscribe failed")
				return
			}
			log.WithFields(log.Fields{"broker": s.opts.Broker, "topic": s.opts.Topic}).Info("MQTT subscribed")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.setConnected(false)
			log.WithError(err).Warn("MQTT connection lost")
		})

	s.client = mqtt.NewClient(co)
	token := s.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("mqtt connect %s: timeout", s.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.opts.Broker, err)
	}
	return nil
}

// Stop unsubscribes and disconnects.
func (s *Subscriber) Stop() {
	if s.client == nil {
		return
	}
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.opts.Topic).WaitTimeout(2 * time.Second)
	}
	s.client.Disconnect(250)
	s.setConnected(false)
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()
	s.record(s.HandleMessage(ctx, msg.Topic(), msg.Payload()))
}

// HandleMessage decodes a payload published on topic and ingests it. When
// the payload carries no busId, the second topic level is used.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	var ping models.Ping
	if err := json.Unmarshal(payload, &ping); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidPing, err)
	}
	if strings.TrimSpace(ping.BusID) == "" {
		ping.BusID = busIDFromTopic(topic)
	}
	out, err := s.ingester.Ingest(ctx, ping)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"topic": topic, "bus_id": ping.BusID, "result": out.Result.String()}).Debug("MQTT ping processed")
	return nil
}

func (s *Subscriber) record(err error) {
	result := "accepted"
	switch {
	case errors.Is(err, models.ErrInvalidPing):
		result = "rejected"
		log.WithError(err).Warn("Rejected MQTT ping")
	case err != nil:
		result = "failed"
		log.WithError(err).Error("Failed to process MQTT ping")
	}
	if s.metrics != nil {
		s.metrics.MQTTMessage(result)
	}
}

func (s *Subscriber) setConnected(v bool) {
	if s.metrics != nil {
		s.metrics.MQTTSetConnected(v)
	}
}

func busIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}
