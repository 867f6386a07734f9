// Package catalog talks to the book catalog database owned by the reader
// service. Only the page columns this service needs are touched.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"bookviz-api/internal/config"
)

var (
	ErrPageNotFound = errors.New("page not found")
	ErrDisabled     = errors.New("catalog is not configured")
)

// Client is the catalog surface used by the visualization service.
type Client interface {
	UpdatePageVisualizationStatus(ctx context.Context, pageID string, hasVisualization bool, imageURL string) error
	GetPageContent(ctx context.Context, pageID string) (string, error)
}

// New opens the catalog database, or returns a no-op client when no DSN is
// configured.
func New(cfg config.CatalogConfig) (Client, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return Noop{}, func() {}, nil
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to ping catalog database: %w", err)
	}
	return NewSQLClient(db, cfg.QueryTimeout), func() { _ = db.Close() }, nil
}

// SQLClient implements Client over the catalog's postgres schema.
type SQLClient struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQLClient(db *sql.DB, timeout time.Duration) *SQLClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SQLClient{db: db, timeout: timeout}
}

const updatePageVisualization = `
UPDATE pages
SET has_visualization = $1, visualization_url = NULLIF($2, ''), updated_at = NOW()
WHERE id = $3`

func (c *SQLClient) UpdatePageVisualizationStatus(ctx context.Context, pageID string, hasVisualization bool, imageURL string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if !hasVisualization {
		imageURL = ""
	}
	res, err := c.db.ExecContext(ctx, updatePageVisualization, hasVisualization, imageURL, pageID)
	if err != nil {
		return classify("update page visualization", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update page visualization: %w", err)
	}
	if n == 0 {
		return ErrPageNotFound
	}
	return nil
}

const selectPageContent = `SELECT content FROM pages WHERE id = $1`

func (c *SQLClient) GetPageContent(ctx context.Context, pageID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var content sql.NullString
	err := c.db.QueryRowContext(ctx, selectPageContent, pageID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrPageNotFound
	}
	if err != nil {
		return "", classify("get page content", err)
	}
	return content.String, nil
}

// classify annotates postgres errors with their condition name.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s: %s (%s): %w", op, pqErr.Code.Name(), pqErr.Code, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Noop is used when the service runs without a catalog.
type Noop struct{}

func (Noop) UpdatePageVisualizationStatus(context.Context, string, bool, string) error {
	return nil
}

func (Noop) GetPageContent(context.Context, string) (string, error) {
	return "", ErrDisabled
}
