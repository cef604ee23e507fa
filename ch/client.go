package ch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/dailyyoga/pricekit/logger"
	"go.uber.org/zap"
)

const createTableSQL = "CREATE TABLE IF NOT EXISTS `%s` (" +
	"`dispatched_at` DateTime64(3), " +
	"`partition` LowCardinality(String), " +
	"`trigger` LowCardinality(String), " +
	"`keys` UInt32, " +
	"`returned` UInt32, " +
	"`missing` UInt32, " +
	"`failed` Bool, " +
	"`error` String, " +
	"`duration_ms` Float64" +
	") ENGINE = MergeTree ORDER BY (`partition`, `dispatched_at`)"

// Client owns the ClickHouse connection used for telemetry
type Client struct {
	config *Config
	logger logger.Logger
	conn   driver.Conn

	// lazily created by Writer
	writer     Writer
	writerOnce sync.Once

	closed bool
	mu     sync.RWMutex
}

// NewClient connects to ClickHouse and, when configured, creates the
// telemetry table
func NewClient(config *Config, log logger.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.MergeDefaults()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: config.Hosts,
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		DialTimeout: config.DialTimeout,
		Debug:       config.Debug,
		Settings:    config.Settings,
	})
	if err != nil {
		return nil, ErrConnection(err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, ErrConnection(err)
	}

	if config.CreateTable {
		if err := conn.Exec(ctx, fmt.Sprintf(createTableSQL, config.Table)); err != nil {
			conn.Close()
			return nil, ErrConnection(err)
		}
	}

	log.Info("clickhouse client initialized",
		zap.Strings("hosts", config.Hosts),
		zap.String("database", config.Database),
		zap.String("table", config.Table),
	)
	return &Client{config: config, logger: log, conn: conn}, nil
}

// Writer returns the telemetry writer, creating it on first use. The caller
// starts it. Returns ErrWriterDisabled when WriterConfig is not set.
func (c *Client) Writer() (Writer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrConnectionClosed
	}
	if c.config.WriterConfig == nil {
		return nil, ErrWriterDisabled
	}

	c.writerOnce.Do(func() {
		c.writer = newWriter(c.config.WriterConfig, c.logger, c.insertRows)
	})
	return c.writer, nil
}

// insertRows sends rows as a single native-protocol batch
func (c *Client) insertRows(ctx context.Context, rows []*BatchRow) error {
	query := fmt.Sprintf("INSERT INTO `%s` (%s)", c.config.Table, strings.Join(rowColumns, ", "))
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return ErrInsert(c.config.Table, err)
	}
	for _, row := range rows {
		if err := batch.Append(row.values()...); err != nil {
			batch.Abort()
			return ErrInsert(c.config.Table, err)
		}
	}
	if err := batch.Send(); err != nil {
		return ErrInsert(c.config.Table, err)
	}
	return nil
}

// Close flushes the writer, if any, and closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Info("clickhouse client shutting down")
	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			c.logger.Error("failed to close writer", zap.Error(err))
		}
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Error("failed to close clickhouse connection", zap.Error(err))
		return err
	}
	c.logger.Info("clickhouse client shutdown complete")
	return nil
}
