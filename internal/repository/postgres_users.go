package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// PostgresUserRepo 用户查询的 Postgres 实现。
// 返回的快照已按角色裁剪每个仓库下可见的读写器：
// CounterMan 只见 Writer，Worker 只见 Reader，其他角色全可见。
type PostgresUserRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresUserRepo(db *sql.DB, logger *zap.Logger) *PostgresUserRepo {
	return &PostgresUserRepo{db: db, logger: logger}
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, email, first_name, last_name, role FROM users WHERE id = $1`

	var user User
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.Role,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	if err := r.loadWarehouses(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *PostgresUserRepo) loadWarehouses(ctx context.Context, user *User) error {
	query := `SELECT w.id, w.warehouse_name, w.warehouse_address
		FROM warehouse_users wu
		JOIN warehouses w ON w.id = wu.warehouse_id
		WHERE wu.user_id = $1`

	rows, err := r.db.QueryContext(ctx, query, user.ID)
	if err != nil {
		return fmt.Errorf("failed to query user warehouses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var wu UserWarehouse
		if err := rows.Scan(&wu.Warehouse.ID, &wu.Warehouse.Name, &wu.Warehouse.Address); err != nil {
			return fmt.Errorf("failed to scan user warehouse: %w", err)
		}
		user.WarehouseUsers = append(user.WarehouseUsers, wu)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range user.WarehouseUsers {
		readers, err := r.visibleReaders(ctx, user.WarehouseUsers[i].Warehouse.ID, user.Role)
		if err != nil {
			return err
		}
		user.WarehouseUsers[i].Warehouse.Readers = readers
	}
	return nil
}

func (r *PostgresUserRepo) visibleReaders(ctx context.Context, warehouseID, userRole string) ([]ReaderRef, error) {
	query := `SELECT id, reader_server_id, role FROM readers WHERE warehouse_id = $1`
	args := []any{warehouseID}

	switch userRole {
	case UserCounterMan:
		query += ` AND role = $2`
		args = append(args, RoleWriter)
	case UserWorker:
		query += ` AND role = $2`
		args = append(args, RoleReader)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query visible readers: %w", err)
	}
	defer rows.Close()

	var refs []ReaderRef
	for rows.Next() {
		var ref ReaderRef
		if err := rows.Scan(&ref.ID, &ref.ReaderServerID, &ref.Role); err != nil {
			return nil, fmt.Errorf("failed to scan reader ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
