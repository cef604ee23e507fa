package kafka

import (
	"context"
	"errors"

	"github.com/dailyyoga/pricekit/cache"
	"github.com/dailyyoga/pricekit/logger"
	"go.uber.org/zap"
)

// Invalidator drops cached prices named by a price-change event.
// *cache.Transport implements it.
type Invalidator interface {
	HandlePriceChange(ctx context.Context, payload []byte) error
}

// NewPriceChangeHandler returns a handler feeding messages to inv.
// Malformed events are logged and acknowledged so they are not retried;
// any other failure is returned for the consumer to retry.
func NewPriceChangeHandler(log logger.Logger, inv Invalidator) ConsumerMsgHandler {
	return func(ctx context.Context, msg *Message) error {
		err := inv.HandlePriceChange(ctx, msg.Value)
		if errors.Is(err, cache.ErrMalformedEvent) {
			log.Warn("skipping malformed price change event",
				zap.String("topic", derefTopic(msg.TopicPartition.Topic)),
				zap.Int64("offset", int64(msg.TopicPartition.Offset)),
				zap.ByteString("key", msg.Key),
				zap.Error(err),
			)
			return nil
		}
		return err
	}
}

func derefTopic(topic *string) string {
	if topic == nil {
		return ""
	}
	return *topic
}
