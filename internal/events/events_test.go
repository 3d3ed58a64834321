package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatermillPublisher_PublishesEnvelopeOnPrefixedTopic(t *testing.T) {
	logger := testLogger()
	pubSub := NewInMemoryPubSub(logger)
	defer pubSub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, "exam.session.submitted")
	require.NoError(t, err)

	publisher := NewWatermillEventPublisher(pubSub, "exam", logger)
	err = publisher.PublishSessionSubmitted(ctx, SessionSubmittedEvent{SessionID: 7, Score: 80, Passed: true})
	require.NoError(t, err)

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, string(SessionSubmitted), msg.Metadata.Get("event_type"))

		var envelope struct {
			Type EventType             `json:"type"`
			Data SessionSubmittedEvent `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &envelope))
		assert.Equal(t, SessionSubmitted, envelope.Type)
		assert.Equal(t, uint(7), envelope.Data.SessionID)
		assert.True(t, envelope.Data.Passed)
	case <-ctx.Done():
		t.Fatal("message was not delivered")
	}
}

func TestDecodeBankUpdated(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    uint
		wantErr bool
	}{
		{name: "wrapped", payload: `{"id":"x","type":"bank.updated","data":{"bank_id":12}}`, want: 12},
		{name: "bare", payload: `{"bank_id":5}`, want: 5},
		{name: "missing id", payload: `{"data":{}}`, wantErr: true},
		{name: "not json", payload: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := DecodeBankUpdated([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, event.BankID)
		})
	}
}

func TestBankUpdateConsumer_InvokesHandler(t *testing.T) {
	logger := testLogger()
	pubSub := NewInMemoryPubSub(logger)
	defer pubSub.Close()

	received := make(chan uint, 1)
	consumer := NewBankUpdateConsumer(pubSub, func(ctx context.Context, event BankUpdatedEvent) {
		select {
		case received <- event.BankID:
		default:
		}
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	// gochannel drops messages published before a subscriber exists
	require.Eventually(t, func() bool {
		msg, err := NewMessage("bank.updated", BankUpdatedEvent{BankID: 3})
		if err != nil {
			return false
		}
		if err := pubSub.Publish(TopicBankUpdated, msg); err != nil {
			return false
		}
		select {
		case id := <-received:
			return id == 3
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestMockEventPublisher_Records(t *testing.T) {
	mock := NewMockEventPublisher(testLogger())
	ctx := context.Background()

	require.NoError(t, mock.PublishSessionStarted(ctx, SessionStartedEvent{SessionID: 1}))
	require.NoError(t, mock.PublishCertificateIssued(ctx, CertificateIssuedEvent{SessionID: 1}))
	require.NoError(t, mock.PublishCertificateIssued(ctx, CertificateIssuedEvent{SessionID: 2}))

	assert.Len(t, mock.Events(), 3)
	assert.Equal(t, 1, mock.Count(SessionStarted))
	assert.Equal(t, 2, mock.Count(CertificateIssued))
	assert.Equal(t, 0, mock.Count(SessionSubmitted))
}
