package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

// BankUpdatedHandler reacts to a catalog bank change
type BankUpdatedHandler func(ctx context.Context, event BankUpdatedEvent)

// BankUpdateConsumer drops cached bank configuration when the catalog changes a bank
type BankUpdateConsumer struct {
	subscriber message.Subscriber
	handler    BankUpdatedHandler
	logger     *slog.Logger
}

func NewKafkaSubscriber(brokers []string, consumerGroup string, logger *slog.Logger) (message.Subscriber, error) {
	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:       brokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: consumerGroup,
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka subscriber: %w", err)
	}
	return subscriber, nil
}

func NewBankUpdateConsumer(subscriber message.Subscriber, handler BankUpdatedHandler, logger *slog.Logger) *BankUpdateConsumer {
	return &BankUpdateConsumer{
		subscriber: subscriber,
		handler:    handler,
		logger:     logger,
	}
}

// Run consumes until ctx is cancelled or the subscription closes
func (c *BankUpdateConsumer) Run(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, TopicBankUpdated)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicBankUpdated, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *BankUpdateConsumer) handle(ctx context.Context, msg *message.Message) {
	// malformed messages are acked so they do not block the partition
	defer msg.Ack()

	event, err := DecodeBankUpdated(msg.Payload)
	if err != nil {
		c.logger.WarnContext(ctx, "Dropping malformed bank update", "message_id", msg.UUID, "error", err)
		return
	}

	c.handler(ctx, event)
	c.logger.InfoContext(ctx, "Bank update processed", "bank_id", event.BankID)
}

// DecodeBankUpdated accepts the event either wrapped in an Envelope or bare
func DecodeBankUpdated(payload []byte) (BankUpdatedEvent, error) {
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return BankUpdatedEvent{}, err
	}

	raw := payload
	if len(wrapped.Data) > 0 && string(wrapped.Data) != "null" {
		raw = wrapped.Data
	}

	var event BankUpdatedEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return BankUpdatedEvent{}, err
	}
	if event.BankID == 0 {
		return BankUpdatedEvent{}, fmt.Errorf("bank_id is required")
	}
	return event, nil
}
