package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PostgresReaderRepo 读写器记录的 Postgres 实现
type PostgresReaderRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresReaderRepo(db *sql.DB, logger *zap.Logger) *PostgresReaderRepo {
	return &PostgresReaderRepo{db: db, logger: logger}
}

const readerColumns = `id, reader_server_id, COALESCE(serial_number, ''), COALESCE(reader_year_model, 0), address, role, warehouse_id, connection_status`

func (r *PostgresReaderRepo) FindByServerID(ctx context.Context, readerServerID string) (*Reader, error) {
	query := `SELECT ` + readerColumns + ` FROM readers WHERE reader_server_id = $1`

	var reader Reader
	err := r.db.QueryRowContext(ctx, query, readerServerID).Scan(
		&reader.ID, &reader.ReaderServerID, &reader.SerialNumber, &reader.ReaderYearModel,
		&reader.Address, &reader.Role, &reader.WarehouseID, &reader.ConnectionStatus,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query reader: %w", err)
	}
	return &reader, nil
}

func (r *PostgresReaderRepo) FindByWarehouse(ctx context.Context, warehouseID string) ([]Reader, error) {
	query := `SELECT ` + readerColumns + ` FROM readers WHERE warehouse_id = $1`

	rows, err := r.db.QueryContext(ctx, query, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query readers: %w", err)
	}
	defer rows.Close()

	var readers []Reader
	for rows.Next() {
		var reader Reader
		if err := rows.Scan(
			&reader.ID, &reader.ReaderServerID, &reader.SerialNumber, &reader.ReaderYearModel,
			&reader.Address, &reader.Role, &reader.WarehouseID, &reader.ConnectionStatus,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reader: %w", err)
		}
		readers = append(readers, reader)
	}
	return readers, rows.Err()
}

func (r *PostgresReaderRepo) Create(ctx context.Context, reader *Reader) (*Reader, error) {
	created := *reader
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.ConnectionStatus == "" {
		created.ConnectionStatus = StatusNotConnected
	}

	query := `INSERT INTO readers (id, reader_server_id, serial_number, reader_year_model, address, role, warehouse_id, connection_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query,
		created.ID, created.ReaderServerID, created.SerialNumber, created.ReaderYearModel,
		created.Address, created.Role, created.WarehouseID, created.ConnectionStatus,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}

	r.logger.Info("reader registered",
		zap.String("reader_server_id", created.ReaderServerID),
		zap.String("warehouse_id", created.WarehouseID),
		zap.String("role", created.Role),
	)
	return &created, nil
}
