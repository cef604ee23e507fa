package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// ConsumerConfig is the configuration of the price-change consumer
type ConsumerConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	Topics  []string `mapstructure:"topics"`

	// MaxRetries is how often a failing message is handed to the handler
	// default: 3
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBackoff is the pause between two attempts
	// default: 200ms
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	// InstanceNum is the number of consumers in the group run by this process
	// default: 1
	InstanceNum int `mapstructure:"instance_num"`

	// PollTimeout bounds one poll so a cancelled context is noticed
	// default: 500ms
	PollTimeout time.Duration `mapstructure:"poll_timeout"`

	// AutoOffsetReset is "earliest" or "latest". Invalidations only matter
	// for records cached now, so the default skips history.
	// default: "latest"
	AutoOffsetReset string `mapstructure:"auto_offset_reset"`

	// default: false
	EnableAutoCommit bool `mapstructure:"enable_auto_commit"`
	// only used when EnableAutoCommit is true
	// default: 5s
	AutoCommitInterval time.Duration `mapstructure:"auto_commit_interval"`

	// default: 30s
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	// default: 120s
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval"`

	// only PLAINTEXT is supported for now
	// default: "PLAINTEXT"
	SecurityProtocol string `mapstructure:"security_protocol"`

	// Debug enables librdkafka consumer debug logs
	Debug bool `mapstructure:"debug"`
}

// DefaultConsumerConfig returns the default consumer configuration
func DefaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		MaxRetries:         3,
		RetryBackoff:       200 * time.Millisecond,
		InstanceNum:        1,
		PollTimeout:        500 * time.Millisecond,
		AutoOffsetReset:    "latest",
		AutoCommitInterval: 5 * time.Second,
		SessionTimeout:     30 * time.Second,
		MaxPollInterval:    120 * time.Second,
		SecurityProtocol:   "PLAINTEXT",
	}
}

// MergeDefaults fills zero fields with their defaults and returns c
func (c *ConsumerConfig) MergeDefaults() *ConsumerConfig {
	defaults := DefaultConsumerConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.InstanceNum == 0 {
		c.InstanceNum = defaults.InstanceNum
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = defaults.PollTimeout
	}
	if c.AutoOffsetReset == "" {
		c.AutoOffsetReset = defaults.AutoOffsetReset
	}
	if c.AutoCommitInterval == 0 {
		c.AutoCommitInterval = defaults.AutoCommitInterval
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = defaults.SessionTimeout
	}
	if c.MaxPollInterval == 0 {
		c.MaxPollInterval = defaults.MaxPollInterval
	}
	if c.SecurityProtocol == "" {
		c.SecurityProtocol = defaults.SecurityProtocol
	}
	return c
}

// Validate validates the configuration
func (c *ConsumerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrInvalidConfig("brokers are required")
	}
	if c.GroupID == "" {
		return ErrInvalidConfig("group_id is required")
	}
	if len(c.Topics) == 0 {
		return ErrInvalidConfig("topics are required")
	}
	if c.MaxRetries < 1 {
		return ErrInvalidConfig("max_retries must be >= 1")
	}
	if c.InstanceNum < 1 {
		return ErrInvalidConfig("instance_num must be >= 1")
	}
	if c.PollTimeout <= 0 {
		return ErrInvalidConfig("poll_timeout must be greater than 0")
	}
	if c.AutoOffsetReset != "earliest" && c.AutoOffsetReset != "latest" {
		return ErrInvalidConfig(
			fmt.Sprintf("invalid auto_offset_reset: %s, must be either 'earliest' or 'latest'", c.AutoOffsetReset),
		)
	}
	if c.EnableAutoCommit && c.AutoCommitInterval <= 0 {
		return ErrInvalidConfig("auto_commit_interval must be greater than 0 when enable_auto_commit is true")
	}
	if c.SessionTimeout <= 0 {
		return ErrInvalidConfig("session_timeout must be greater than 0")
	}
	if c.MaxPollInterval <= 0 {
		return ErrInvalidConfig("max_poll_interval must be greater than 0")
	}
	if c.SecurityProtocol != "PLAINTEXT" {
		return ErrInvalidConfig(fmt.Sprintf("unsupported security_protocol: %s", c.SecurityProtocol))
	}
	return nil
}

// BuildConfigMap converts the config to librdkafka settings
func (c *ConsumerConfig) BuildConfigMap() *kafka.ConfigMap {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers":    strings.Join(c.Brokers, ","),
		"group.id":             c.GroupID,
		"auto.offset.reset":    strings.ToLower(c.AutoOffsetReset),
		"enable.auto.commit":   c.EnableAutoCommit,
		"session.timeout.ms":   int(c.SessionTimeout.Milliseconds()),
		"max.poll.interval.ms": int(c.MaxPollInterval.Milliseconds()),
		"security.protocol":    c.SecurityProtocol,
	}
	if c.EnableAutoCommit {
		_ = configMap.SetKey("auto.commit.interval.ms", int(c.AutoCommitInterval.Milliseconds()))
	}
	if c.Debug {
		_ = configMap.SetKey("debug", "consumer,cgrp,topic,fetch")
	}
	return configMap
}
