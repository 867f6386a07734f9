package catalog

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookviz-api/internal/config"
)

func newMock(t *testing.T) (*SQLClient, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLClient(db, time.Second), mock
}

func TestUpdatePageVisualizationStatus(t *testing.T) {
	t.Run("sets url", func(t *testing.T) {
		c, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE pages")).
			WithArgs(true, "https://cdn/img.png", "p1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, c.UpdatePageVisualizationStatus(context.Background(), "p1", true, "https://cdn/img.png"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("clearing drops url", func(t *testing.T) {
		c, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE pages")).
			WithArgs(false, "", "p1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, c.UpdatePageVisualizationStatus(context.Background(), "p1", false, "https://cdn/old.png"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown page", func(t *testing.T) {
		c, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE pages")).
			WithArgs(true, "u", "missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := c.UpdatePageVisualizationStatus(context.Background(), "missing", true, "u")
		assert.ErrorIs(t, err, ErrPageNotFound)
	})

	t.Run("postgres error is classified", func(t *testing.T) {
		c, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE pages")).
			WillReturnError(&pq.Error{Code: "42P01", Message: `relation "pages" does not exist`})

		err := c.UpdatePageVisualizationStatus(context.Background(), "p1", true, "u")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "undefined_table")
		var pqErr *pq.Error
		assert.True(t, errors.As(err, &pqErr))
	})
}

func TestGetPageContent(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		c, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectPageContent)).
			WithArgs("p1").
			WillReturnRows(sqlmock.NewRows([]string{"content"}).AddRow("It was a dark and stormy night."))

		text, err := c.GetPageContent(context.Background(), "p1")
		require.NoError(t, err)
		assert.Equal(t, "It was a dark and stormy night.", text)
	})

	t.Run("null content", func(t *testing.T) {
		c, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectPageContent)).
			WithArgs("p1").
			WillReturnRows(sqlmock.NewRows([]string{"content"}).AddRow(nil))

		text, err := c.GetPageContent(context.Background(), "p1")
		require.NoError(t, err)
		assert.Empty(t, text)
	})

	t.Run("missing", func(t *testing.T) {
		c, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectPageContent)).
			WithArgs("p2").
			WillReturnError(sql.ErrNoRows)

		_, err := c.GetPageContent(context.Background(), "p2")
		assert.ErrorIs(t, err, ErrPageNotFound)
	})
}

func TestNewWithoutDSN(t *testing.T) {
	c, closeFn, err := New(config.CatalogConfig{})
	require.NoError(t, err)
	defer closeFn()

	assert.NoError(t, c.UpdatePageVisualizationStatus(context.Background(), "p1", true, "u"))
	_, err = c.GetPageContent(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrDisabled)
}
