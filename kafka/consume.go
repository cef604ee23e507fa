package kafka

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/dailyyoga/pricekit/logger"
	"github.com/dailyyoga/pricekit/routine"
	"go.uber.org/zap"
)

// pollingClient is the part of *kafka.Consumer an instance drives
type pollingClient interface {
	Poll(timeoutMs int) kafka.Event
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Close() error
}

// consumeInstance is one member of the consumer group
type consumeInstance struct {
	logger logger.Logger
	config *ConsumerConfig
	name   string
	client pollingClient
	runner routine.Runner

	stop   chan struct{}
	closed atomic.Bool
}

func newConsumeInstance(name string, config *ConsumerConfig, log logger.Logger) (*consumeInstance, error) {
	consumer, err := kafka.NewConsumer(config.BuildConfigMap())
	if err != nil {
		return nil, ErrConnection(err)
	}
	if err := consumer.SubscribeTopics(config.Topics, nil); err != nil {
		consumer.Close()
		return nil, ErrSubscribe(config.Topics, err)
	}
	return newInstance(name, config, log, consumer), nil
}

func newInstance(name string, config *ConsumerConfig, log logger.Logger, client pollingClient) *consumeInstance {
	return &consumeInstance{
		logger: log,
		config: config,
		name:   name,
		client: client,
		runner: routine.New(log),
		stop:   make(chan struct{}),
	}
}

// Start runs the poll loop in the background until ctx is done or Close is called
func (c *consumeInstance) Start(ctx context.Context, handler ConsumerMsgHandler) error {
	c.runner.GoNamedWithContext(ctx, c.name, func(ctx context.Context) {
		if err := c.consumeLoop(ctx, handler); err != nil {
			c.logger.Error("kafka consumer loop exited with error",
				zap.String("instance_name", c.name),
				zap.Error(err))
		}
	})
	c.logger.Info("kafka consumer instance started", zap.String("instance_name", c.name))
	return nil
}

// Close stops the poll loop, waits for it and closes the client
func (c *consumeInstance) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stop)
	c.runner.Wait()

	if err := c.client.Close(); err != nil {
		return ErrConnection(err)
	}
	c.logger.Info("kafka consumer instance closed", zap.String("instance_name", c.name))
	return nil
}

func (c *consumeInstance) consumeLoop(ctx context.Context, handler ConsumerMsgHandler) error {
	timeoutMs := int(c.config.PollTimeout.Milliseconds())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		default:
		}

		ev := c.client.Poll(timeoutMs)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := c.handleMessage(ctx, e, handler); err != nil {
				// the offset stays uncommitted; the message is redelivered after a rebalance
				c.logger.Error("kafka consumer handle message failed",
					zap.String("topic", derefTopic(e.TopicPartition.Topic)),
					zap.Int32("partition", e.TopicPartition.Partition),
					zap.Int64("offset", int64(e.TopicPartition.Offset)),
					zap.Error(err),
				)
			}
		case kafka.Error:
			c.logger.Error("kafka consumer error", zap.Int("code", int(e.Code())), zap.String("error", e.String()))
			if e.Code() == kafka.ErrAllBrokersDown {
				return ErrConsume(e)
			}
		case kafka.OffsetsCommitted:
			if e.Error != nil {
				c.logger.Error("failed to commit offsets", zap.Error(e.Error))
			}
		default:
			c.logger.Debug("received unknown event", zap.String("type", fmt.Sprintf("%T", e)))
		}
	}
}

// handleMessage runs handler with retries and commits the offset on success
func (c *consumeInstance) handleMessage(ctx context.Context, msg *kafka.Message, handler ConsumerMsgHandler) error {
	start := time.Now()
	m := toMessage(msg)

	var err error
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		if err = handler(ctx, m); err == nil {
			break
		}
		if attempt == c.config.MaxRetries {
			return ErrHandler(attempt, err)
		}
		select {
		case <-ctx.Done():
			return ErrHandler(attempt, err)
		case <-time.After(c.config.RetryBackoff):
		}
	}

	if !c.config.EnableAutoCommit {
		if _, err := c.client.CommitMessage(msg); err != nil {
			return ErrCommit(err)
		}
	}

	c.logger.Debug("kafka consumer instance processed message successfully",
		zap.String("topic", derefTopic(msg.TopicPartition.Topic)),
		zap.Int32("partition", msg.TopicPartition.Partition),
		zap.Int64("offset", int64(msg.TopicPartition.Offset)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func toMessage(msg *kafka.Message) *Message {
	message := &Message{
		Value:     msg.Value,
		Key:       msg.Key,
		Timestamp: msg.Timestamp,
		TopicPartition: TopicPartition{
			Topic:     msg.TopicPartition.Topic,
			Partition: msg.TopicPartition.Partition,
			Offset:    Offset(msg.TopicPartition.Offset),
		},
		Headers: make([]Header, len(msg.Headers)),
	}
	for i, header := range msg.Headers {
		message.Headers[i] = Header{Key: header.Key, Value: header.Value}
	}
	return message
}
