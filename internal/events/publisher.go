package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventPublisher emits session lifecycle events after the owning transaction commits
type EventPublisher interface {
	PublishSessionStarted(ctx context.Context, event SessionStartedEvent) error
	PublishSessionSubmitted(ctx context.Context, event SessionSubmittedEvent) error
	PublishCertificateIssued(ctx context.Context, event CertificateIssuedEvent) error
	Close() error
}

type watermillPublisher struct {
	publisher   message.Publisher
	topicPrefix string
	logger      *slog.Logger
}

// NewKafkaEventPublisher publishes to <prefix>.<event type> topics on the given brokers
func NewKafkaEventPublisher(brokers []string, topicPrefix string, logger *slog.Logger) (EventPublisher, error) {
	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	return NewWatermillEventPublisher(publisher, topicPrefix, logger), nil
}

// NewInMemoryPubSub is used when no brokers are configured
func NewInMemoryPubSub(logger *slog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NewSlogLogger(logger))
}

func NewWatermillEventPublisher(publisher message.Publisher, topicPrefix string, logger *slog.Logger) EventPublisher {
	return &watermillPublisher{
		publisher:   publisher,
		topicPrefix: topicPrefix,
		logger:      logger,
	}
}

func (p *watermillPublisher) PublishSessionStarted(ctx context.Context, event SessionStartedEvent) error {
	return p.publish(ctx, SessionStarted, event)
}

func (p *watermillPublisher) PublishSessionSubmitted(ctx context.Context, event SessionSubmittedEvent) error {
	return p.publish(ctx, SessionSubmitted, event)
}

func (p *watermillPublisher) PublishCertificateIssued(ctx context.Context, event CertificateIssuedEvent) error {
	return p.publish(ctx, CertificateIssued, event)
}

func (p *watermillPublisher) Close() error {
	return p.publisher.Close()
}

func (p *watermillPublisher) Topic(eventType EventType) string {
	if p.topicPrefix == "" {
		return string(eventType)
	}
	return p.topicPrefix + "." + string(eventType)
}

func (p *watermillPublisher) publish(ctx context.Context, eventType EventType, data interface{}) error {
	msg, err := NewMessage(eventType, data)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)

	topic := p.Topic(eventType)
	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "Event published", "topic", topic, "message_id", msg.UUID)
	return nil
}

// NewMessage wraps data in an Envelope and encodes it as a watermill message
func NewMessage(eventType EventType, data interface{}) (*message.Message, error) {
	id := watermill.NewUUID()
	payload, err := json.Marshal(Envelope{
		ID:         id,
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	msg := message.NewMessage(id, payload)
	msg.Metadata.Set("event_type", string(eventType))
	return msg, nil
}

// ===== MOCK PUBLISHER =====

// MockEventPublisher records events in memory
type MockEventPublisher struct {
	mu     sync.Mutex
	logger *slog.Logger
	events []Envelope
}

func NewMockEventPublisher(logger *slog.Logger) *MockEventPublisher {
	return &MockEventPublisher{logger: logger}
}

func (m *MockEventPublisher) record(eventType EventType, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Envelope{
		ID:         watermill.NewUUID(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	m.logger.Debug("Mock event recorded", "type", eventType)
	return nil
}

func (m *MockEventPublisher) PublishSessionStarted(ctx context.Context, event SessionStartedEvent) error {
	return m.record(SessionStarted, event)
}

func (m *MockEventPublisher) PublishSessionSubmitted(ctx context.Context, event SessionSubmittedEvent) error {
	return m.record(SessionSubmitted, event)
}

func (m *MockEventPublisher) PublishCertificateIssued(ctx context.Context, event CertificateIssuedEvent) error {
	return m.record(CertificateIssued, event)
}

func (m *MockEventPublisher) Close() error {
	return nil
}

// Events returns a copy of what was recorded
func (m *MockEventPublisher) Events() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.events))
	copy(out, m.events)
	return out
}

// Count returns how many events of a type were recorded
func (m *MockEventPublisher) Count(eventType EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
