package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// PostgresWarehouseRepo 仓库查询的 Postgres 实现
type PostgresWarehouseRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresWarehouseRepo(db *sql.DB, logger *zap.Logger) *PostgresWarehouseRepo {
	return &PostgresWarehouseRepo{db: db, logger: logger}
}

func (r *PostgresWarehouseRepo) FindByAddress(ctx context.Context, address string) (*Warehouse, error) {
	query := `SELECT id, warehouse_name, warehouse_address FROM warehouses WHERE warehouse_address = $1`

	var wh Warehouse
	err := r.db.QueryRowContext(ctx, query, address).Scan(&wh.ID, &wh.Name, &wh.Address)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query warehouse: %w", err)
	}
	return &wh, nil
}

func (r *PostgresWarehouseRepo) MemberUserIDs(ctx context.Context, warehouseID string) ([]string, error) {
	query := `SELECT user_id FROM warehouse_users WHERE warehouse_id = $1`

	rows, err := r.db.QueryContext(ctx, query, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouse members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
