package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/SteelMorgan/binary-file-source/internal/config"
	"github.com/SteelMorgan/binary-file-source/internal/retry"
	"github.com/rs/zerolog/log"
)

// Client wraps ClickHouse connection
type Client struct {
	conn     clickhouse.Conn
	database string
	retryCfg retry.Config
}

// NewClient connects with the default retry policy
func NewClient(cfg config.ClickHouseConfig) (*Client, error) {
	return NewClientWithRetry(cfg, retry.DefaultConfig())
}

// NewClientWithRetry creates a new ClickHouse client with custom retry configuration
func NewClientWithRetry(cfg config.ClickHouseConfig, retryCfg retry.Config) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: "default",
			Password: "",
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	// Test connection with retry
	ctx := context.Background()
	if err := retry.Do(ctx, retryCfg, func() error {
		return conn.Ping(ctx)
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("Connected to ClickHouse")

	return &Client{
		conn:     conn,
		database: cfg.Database,
		retryCfg: retryCfg,
	}, nil
}

// Conn returns the underlying ClickHouse connection
func (c *Client) Conn() clickhouse.Conn {
	return c.conn
}

// Database returns the database the client was opened on
func (c *Client) Database() string {
	return c.database
}

// Close closes the connection
func (c *Client) Close() error {
	log.Info().Msg("Closing ClickHouse connection")
	return c.conn.Close()
}

// Query executes a SELECT query and returns rows with retry logic
func (c *Client) Query(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() (driver.Rows, error) {
		return c.conn.Query(ctx, query, args...)
	})
}

// Exec executes a non-SELECT query with retry logic
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return retry.Do(ctx, c.retryCfg, func() error {
		return c.conn.Exec(ctx, query, args...)
	})
}
