// Package kafka consumes price-change events so that cached prices are
// dropped as soon as the pricing service changes them.
package kafka

import (
	"context"
	"time"
)

// Message is a consumed kafka message
type Message struct {
	Value          []byte
	Key            []byte
	Timestamp      time.Time
	TopicPartition TopicPartition
	Headers        []Header
}

// GetHeader returns the value of header k, or nil
func (m *Message) GetHeader(k string) []byte {
	for _, header := range m.Headers {
		if header.Key == k {
			return header.Value
		}
	}
	return nil
}

// TopicPartition locates a message
type TopicPartition struct {
	Topic     *string
	Partition int32
	Offset    Offset
}

// Offset is the offset of a message within its partition
type Offset int64

// Header is a message header
type Header struct {
	Key   string
	Value []byte
}

// ConsumerMsgHandler handles one message. A returned error makes the
// consumer retry the message up to ConsumerConfig.MaxRetries times.
type ConsumerMsgHandler func(ctx context.Context, msg *Message) error

// Consumer runs one or more consumer instances of a group
type Consumer interface {
	Start(ctx context.Context, handler ConsumerMsgHandler) error
	Close() error
}
