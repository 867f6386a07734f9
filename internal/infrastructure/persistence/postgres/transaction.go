package postgres

import (
	"context"

	"gorm.io/gorm"

	"bookviz-api/internal/domain/repository"
)

// TxManager implements repository.Transactor on gorm.
type TxManager struct {
	client *Client
}

func NewTxManager(client *Client) *TxManager {
	return &TxManager{client: client}
}

// WithTransaction runs fn in a transaction, reusing one already carried by ctx.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if getTxFromContext(ctx) != nil {
		return fn(ctx)
	}
	return m.client.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, repository.TxKey{}, tx))
	})
}

func getTxFromContext(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(repository.TxKey{}).(*gorm.DB); ok {
		return tx
	}
	return nil
}

// getDB returns the transaction in ctx, or db bound to ctx.
func getDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx := getTxFromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
