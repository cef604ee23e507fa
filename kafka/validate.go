package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/dailyyoga/pricekit/logger"
	"go.uber.org/zap"
)

const (
	clusterCheckAttempts = 3
	clusterCheckDelay    = 2 * time.Second
	clusterCheckTimeout  = 10 * time.Second
)

// validateKafkaCluster fails fast when no broker answers a metadata request
func validateKafkaCluster(log logger.Logger, brokers []string) error {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(brokers, ","),
		"request.timeout.ms": int(clusterCheckTimeout.Milliseconds()),
	}

	var adminClient *kafka.AdminClient
	var err error
	for attempt := 1; attempt <= clusterCheckAttempts; attempt++ {
		if adminClient, err = kafka.NewAdminClient(configMap); err == nil {
			break
		}
		if attempt < clusterCheckAttempts {
			log.Warn("failed to create kafka admin client, retrying...",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", clusterCheckAttempts),
			)
			time.Sleep(clusterCheckDelay)
		}
	}
	if err != nil {
		return ErrConnection(fmt.Errorf("create admin client after %d attempts: %w", clusterCheckAttempts, err))
	}
	defer adminClient.Close()

	metadata, err := adminClient.GetMetadata(nil, false, int(clusterCheckTimeout.Milliseconds()))
	if err != nil {
		return ErrConnection(err)
	}

	log.Info("kafka brokers connection validated",
		zap.Strings("brokers", brokers),
		zap.Int("cluster_brokers", len(metadata.Brokers)),
	)
	return nil
}
