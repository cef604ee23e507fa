package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dailyyoga/pricekit/logger"
)

type defaultConsumer struct {
	instances []*consumeInstance
	closed    atomic.Bool
}

// NewConsumer validates the cluster and subscribes config.InstanceNum
// consumers of config.GroupID to the configured topics
func NewConsumer(log logger.Logger, config *ConsumerConfig) (Consumer, error) {
	if config == nil {
		config = DefaultConsumerConfig()
	} else {
		merged := *config
		config = merged.MergeDefaults()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	if err := validateKafkaCluster(log, config.Brokers); err != nil {
		return nil, err
	}

	instances := make([]*consumeInstance, 0, config.InstanceNum)
	for i := 0; i < config.InstanceNum; i++ {
		instance, err := newConsumeInstance(fmt.Sprintf("%s-instance-%d", config.GroupID, i+1), config, log)
		if err != nil {
			for _, started := range instances {
				started.Close()
			}
			return nil, err
		}
		instances = append(instances, instance)
	}
	return &defaultConsumer{instances: instances}, nil
}

func (c *defaultConsumer) Start(ctx context.Context, handler ConsumerMsgHandler) error {
	if len(c.instances) == 0 {
		return ErrNoConsumerInstances
	}
	for _, instance := range c.instances {
		if err := instance.Start(ctx, handler); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every instance and reports all failures
func (c *defaultConsumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if len(c.instances) == 0 {
		return ErrNoConsumerInstances
	}

	var errs []error
	for _, instance := range c.instances {
		if err := instance.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
