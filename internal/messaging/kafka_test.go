//go:build integration

package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bookstore-checkout/internal/testinfra"
)

func TestProducerConsumer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	brokers := testinfra.SetupKafka(ctx, t)

	producer := NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	require.NoError(t, producer.Publish(ctx, "checkout.completed", "order-1", []byte(`{"order_id":"order-1"}`)))
	require.NoError(t, producer.Publish(ctx, "replenishment.requested", "9780441013593", []byte(`{"isbn":"9780441013593"}`)))

	consumer := NewConsumer(brokers, []string{"checkout.completed", "replenishment.requested"}, "bookstore-test",
		WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	consumeCtx, stop := context.WithTimeout(ctx, 60*time.Second)
	defer stop()

	got := map[string]Message{}
	err := consumer.Consume(consumeCtx, func(_ context.Context, msg Message) error {
		got[msg.Topic] = msg
		if len(got) == 2 {
			stop()
		}
		return nil
	})
	require.True(t, err == nil || errors.Is(err, context.Canceled), "unexpected error: %v", err)

	require.Len(t, got, 2)
	assert.Equal(t, "order-1", got["checkout.completed"].Key)
	assert.JSONEq(t, `{"isbn":"9780441013593"}`, string(got["replenishment.requested"].Value))
}
