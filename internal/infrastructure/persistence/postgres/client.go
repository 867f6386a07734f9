// Package postgres implements the job store on PostgreSQL through gorm.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bookviz-api/internal/config"
	"bookviz-api/migrations"
)

var otelTracer = otel.Tracer("postgres")

// Client owns the gorm connection pool.
type Client struct {
	db     *gorm.DB
	config *config.PostgresConfig
}

// NewClient opens and pings the database.
func NewClient(cfg *config.PostgresConfig) (*Client, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db, config: cfg}, nil
}

// NewClientFromDB wraps an existing gorm handle.
func NewClientFromDB(db *gorm.DB) *Client {
	return &Client{db: db}
}

func (c *Client) DB() *gorm.DB {
	return c.db
}

func (c *Client) SqlDB() (*sql.DB, error) {
	return c.db.DB()
}

func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies the embedded goose migrations.
func (c *Client) Migrate(ctx context.Context) error {
	ctx, span := otelTracer.Start(ctx, "postgres.Migrate")
	defer span.End()

	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrations.FS)
	goose.SetTableName("bookviz_schema_migrations")
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := otelTracer.Start(ctx, "postgres.HealthCheck")
	defer span.End()

	var result int
	if err := c.db.WithContext(ctx).Raw("SELECT 1").Scan(&result).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
