package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-tracker/internal/models"
)

// PublisherMetrics observes publishing.
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes progress events on <prefix>.<routeId>.<tripId>.
type NATSPublisher struct {
	nc      *nats.Conn
	conn    Conn
	prefix  string
	metrics PublisherMetrics
}

func NewNATSPublisher(url, prefix string, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-tracker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.WithFields(log.Fields{"url": c.ConnectedUrl()}).Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := NewPublisher(nc, prefix, m)
	p.nc = nc
	return p, nil
}

// NewPublisher publishes through an existing connection.
func NewPublisher(conn Conn, prefix string, m PublisherMetrics) *NATSPublisher {
	if prefix == "" {
		prefix = "transit.progress"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(ev models.ProgressEvent) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(ev.RouteID), subjectToken(ev.TripID))
}

// PublishProgress implements tracking.EventPublisher.
func (p *NATSPublisher) PublishProgress(ctx context.Context, ev models.ProgressEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	subject := p.Subject(ev)
	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	log.WithFields(log.Fields{"subject": subject, "type": ev.Type}).Debug("Progress event published")
	return nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
