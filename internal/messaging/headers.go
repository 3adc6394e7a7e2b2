package messaging

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ContentTypeJSON is stamped on every published record; outbox payloads are
// always JSON documents.
const ContentTypeJSON = "application/json"

const headerContentType = "content-type"

// recordHeaders exposes a record's headers to otel propagators. Kafka header
// names are case-sensitive but propagation fields are not, so keys are
// stored lowercased and matched without regard to case.
type recordHeaders struct {
	h *[]kafka.Header
}

var _ propagation.TextMapCarrier = recordHeaders{}

func (r recordHeaders) Get(key string) string {
	for _, h := range *r.h {
		if strings.EqualFold(h.Key, key) {
			return string(h.Value)
		}
	}
	return ""
}

// Set replaces every header matching key with a single value.
func (r recordHeaders) Set(key, value string) {
	key = strings.ToLower(key)
	kept := (*r.h)[:0]
	for _, h := range *r.h {
		if !strings.EqualFold(h.Key, key) {
			kept = append(kept, h)
		}
	}
	*r.h = append(kept, kafka.Header{Key: key, Value: []byte(value)})
}

func (r recordHeaders) Keys() []string {
	keys := make([]string, 0, len(*r.h))
	for _, h := range *r.h {
		keys = append(keys, h.Key)
	}
	return keys
}

// stampHeaders writes the trace context and content type onto msg.
func stampHeaders(ctx context.Context, msg *kafka.Message) {
	headers := recordHeaders{h: &msg.Headers}
	otel.GetTextMapPropagator().Inject(ctx, headers)
	headers.Set(headerContentType, ContentTypeJSON)
}

// remoteContext returns ctx carrying the producer's span context, if any.
func remoteContext(ctx context.Context, msg *kafka.Message) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, recordHeaders{h: &msg.Headers})
}
