// Package outbox turns domain events into outbox rows inside the business
// transaction and relays committed rows to Kafka.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
)

func NewMessage(topic, key string, event any, at time.Time) (domain.OutboxMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return domain.OutboxMessage{
		Topic:     topic,
		Key:       key,
		Payload:   payload,
		CreatedAt: at,
	}, nil
}
