package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	failOn string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if key == p.failOn {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, topic+"/"+key)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func enqueue(t *testing.T, store *memory.Store, keys ...string) {
	t.Helper()
	err := store.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		for _, k := range keys {
			msg, err := NewMessage(domain.TopicCheckoutCompleted, k, map[string]string{"order_id": k}, time.Now())
			if err != nil {
				return err
			}
			if err := tx.EnqueueOutbox(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRelay_Drain(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("publishes in order across batches and marks sent", func(t *testing.T) {
		store := memory.New()
		enqueue(t, store, "o1", "o2", "o3", "o4", "o5")
		pub := &recordingPublisher{}

		relay := NewRelay(store, pub, logger, WithBatchSize(2))
		n, err := relay.Drain(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, []string{
			"checkout.completed/o1", "checkout.completed/o2", "checkout.completed/o3",
			"checkout.completed/o4", "checkout.completed/o5",
		}, pub.published())

		pending, err := store.PendingOutbox(context.Background(), 0)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("stops at first failure and retries later", func(t *testing.T) {
		store := memory.New()
		enqueue(t, store, "o1", "o2", "o3")
		pub := &recordingPublisher{failOn: "o2"}

		relay := NewRelay(store, pub, logger)
		n, err := relay.Drain(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, n)

		pending, err := store.PendingOutbox(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "o2", pending[0].Key)

		pub.failOn = ""
		n, err = relay.Drain(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("run stops on cancellation", func(t *testing.T) {
		store := memory.New()
		enqueue(t, store, "o1")
		pub := &recordingPublisher{}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- NewRelay(store, pub, logger, WithInterval(10*time.Millisecond)).Run(ctx) }()

		require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)
		cancel()
		require.NoError(t, <-done)
	})
}
