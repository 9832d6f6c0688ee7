package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shestoi/order-platform/internal/repository"
)

// ReadModels реализует repository.ReadModelStore поверх PostgreSQL.
// Модель и checkpoint-версия пишутся одним upsert-ом — это и даёт
// exactly-once применение события в fold при повторной доставке.
type ReadModels struct {
	pool *pgxpool.Pool
}

// NewReadModels создаёт PostgreSQL read model store
func NewReadModels(pool *pgxpool.Pool) *ReadModels {
	return &ReadModels{pool: pool}
}

// Find возвращает модель по orderId или ErrNotFound
func (r *ReadModels) Find(ctx context.Context, orderID string) (repository.ReadModelRecord, error) {
	var record repository.ReadModelRecord
	err := r.pool.QueryRow(ctx,
		`SELECT order_id, model, version, updated_at FROM read_models WHERE order_id = $1`,
		orderID).Scan(&record.OrderID, &record.Model, &record.Version, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ReadModelRecord{}, repository.ErrNotFound
		}
		return repository.ReadModelRecord{}, err
	}
	return record, nil
}

// Save перезаписывает модель и версию последнего применённого события
func (r *ReadModels) Save(ctx context.Context, record repository.ReadModelRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO read_models (order_id, model, version, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (order_id) DO UPDATE SET
		   model = EXCLUDED.model,
		   version = EXCLUDED.version,
		   updated_at = EXCLUDED.updated_at`,
		record.OrderID, record.Model, record.Version, record.UpdatedAt)
	return err
}

// Delete удаляет модель
func (r *ReadModels) Delete(ctx context.Context, orderID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM read_models WHERE order_id = $1`, orderID)
	return err
}

// ResetAll очищает read model целиком (только для rebuild)
func (r *ReadModels) ResetAll(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `TRUNCATE read_models`)
	return err
}
