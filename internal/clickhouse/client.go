package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"order-metrics/config"
	"order-metrics/models"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
)

// Client mirrors order facts and hourly aggregates into ClickHouse for ad-hoc analytics.
type Client struct {
	conn     driver.Conn
	database string
}

func NewClient(cfg config.ClickHouseConfig) (*Client, error) {
	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		DialTimeout:  time.Second * 30,
	}

	// Only use TLS on the secure native port
	if cfg.Port == 9440 || cfg.Port == 8443 {
		opts.TLS = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	c := &Client{
		conn:     conn,
		database: cfg.Database,
	}
	if err := c.EnsureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// EnsureSchema creates the mirror tables if they are missing.
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema(c.database) {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create ClickHouse table: %w", err)
		}
	}
	return nil
}

func schema(database string) []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.order_facts (
			order_id          String,
			user_id           String,
			product_id        String,
			product_name      String,
			category          String,
			quantity          Int32,
			final_amount      Decimal(12, 2),
			status            LowCardinality(String),
			payment_method    LowCardinality(String),
			shipping_location LowCardinality(String),
			event_time        DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree
		ORDER BY (toStartOfHour(event_time), order_id)
	`, database),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.hourly_aggregates (
			hour_timestamp DateTime('UTC'),
			total_revenue  Decimal(14, 2),
			total_orders   Int64,
			active_users   Int64,
			_version       UInt64
		) ENGINE = ReplacingMergeTree(_version)
		ORDER BY hour_timestamp
	`, database),
	}
}

// InsertOrderFact appends one validated order. Duplicates collapse on merge.
func (c *Client) InsertOrderFact(ctx context.Context, o models.Order) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.order_facts (
			order_id, user_id, product_id, product_name, category, quantity,
			final_amount, status, payment_method, shipping_location, event_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.database)

	return c.conn.Exec(ctx, query,
		o.ID,
		o.UserID,
		o.Product.ID,
		o.Product.Name,
		o.Product.Category,
		int32(o.Quantity),
		decimal.NewFromFloat(o.Pricing.FinalAmount).Round(2),
		o.Status,
		o.PaymentMethod,
		o.ShippingLocation,
		o.Timestamp.UTC(),
	)
}

// InsertHourlyAggregate writes a new version of an hour's rollup; the latest version wins.
func (c *Client) InsertHourlyAggregate(ctx context.Context, agg models.HourlyAggregate) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.hourly_aggregates (
			hour_timestamp, total_revenue, total_orders, active_users, _version
		) VALUES (?, ?, ?, ?, ?)
	`, c.database)

	version := uint64(time.Now().UnixNano()) / 1000
	return c.conn.Exec(ctx, query,
		agg.HourTimestamp.UTC(),
		decimal.NewFromFloat(agg.TotalRevenue).Round(2),
		agg.TotalOrders,
		agg.ActiveUsers,
		version,
	)
}
