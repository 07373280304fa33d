package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysByOrder(t *testing.T) {
	writer := &recordingWriter{}
	publisher, err := NewKafkaPublisher(writer)
	require.NoError(t, err)

	at := time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC)
	err = publisher.Publish(context.Background(), domain.Event{
		ID:         "evt-1",
		Type:       domain.EventOrderCreated,
		OrderID:    "ord-9",
		OccurredAt: at,
		Data:       map[string]any{"order_number": "ABC123"},
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "ord-9", string(msg.Key))
	assert.Equal(t, at, msg.Time)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, domain.EventOrderCreated, headers[AttrEventType])
	assert.Equal(t, "ord-9", headers[AttrOrderID])

	var envelope Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &envelope))
	assert.Equal(t, "ABC123", envelope.Data["order_number"])

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)
}

func TestKafkaPublisherFallsBackToEventIDKey(t *testing.T) {
	writer := &recordingWriter{}
	publisher, err := NewKafkaPublisher(writer)
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(context.Background(), domain.Event{ID: "evt-5", Type: domain.EventInventoryLowStock}))
	require.Len(t, writer.messages, 1)
	assert.Equal(t, "evt-5", string(writer.messages[0].Key))
	assert.Len(t, writer.messages[0].Headers, 2)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	publisher, err := NewKafkaPublisher(&recordingWriter{err: boom})
	require.NoError(t, err)

	err = publisher.Publish(context.Background(), domain.Event{ID: "evt-1", Type: domain.EventOrderCreated})
	require.ErrorIs(t, err, boom)
}

func TestNewKafkaWriterValidates(t *testing.T) {
	_, err := NewKafkaWriter(nil, "topic")
	require.Error(t, err)
	_, err = NewKafkaWriter([]string{"localhost:9092"}, "")
	require.Error(t, err)

	writer, err := NewKafkaWriter([]string{"localhost:9092"}, "ordercore-events")
	require.NoError(t, err)
	assert.Equal(t, "ordercore-events", writer.Topic)
}
