package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresParcelRepo 包裹与状态历史的 Postgres 实现
type PostgresParcelRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresParcelRepo(db *sql.DB, logger *zap.Logger) *PostgresParcelRepo {
	return &PostgresParcelRepo{db: db, logger: logger}
}

const parcelColumns = `id, parcel_tracking_number, parcel_name, parcel_price, parcel_weight, parcel_date,
	rfid_tag_id, warehouse_id, created_at,
	sender_first_name, sender_last_name, sender_address,
	receiver_first_name, receiver_last_name, receiver_address`

func scanParcel(row interface{ Scan(...any) error }) (*Parcel, error) {
	var p Parcel
	err := row.Scan(
		&p.ID, &p.ParcelTrackingNumber, &p.ParcelName, &p.ParcelPrice, &p.ParcelWeight, &p.ParcelDate,
		&p.RFIDTagID, &p.WarehouseID, &p.CreatedAt,
		&p.SenderFirstName, &p.SenderLastName, &p.SenderAddress,
		&p.ReceiverFirstName, &p.ReceiverLastName, &p.ReceiverAddress,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresParcelRepo) FindByID(ctx context.Context, id string) (*Parcel, error) {
	return r.findOne(ctx, `SELECT `+parcelColumns+` FROM parcel_details WHERE id = $1`, id)
}

func (r *PostgresParcelRepo) FindByTagID(ctx context.Context, tagID string) (*Parcel, error) {
	return r.findOne(ctx, `SELECT `+parcelColumns+` FROM parcel_details WHERE rfid_tag_id = $1`, tagID)
}

func (r *PostgresParcelRepo) findOne(ctx context.Context, query string, arg string) (*Parcel, error) {
	p, err := scanParcel(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query parcel: %w", err)
	}
	if err := r.loadStatuses(ctx, []*Parcel{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresParcelRepo) FindByTagIDs(ctx context.Context, tagIDs []string) ([]Parcel, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + parcelColumns + ` FROM parcel_details WHERE rfid_tag_id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(tagIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query parcels by tags: %w", err)
	}
	defer rows.Close()

	var parcels []Parcel
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parcel: %w", err)
		}
		parcels = append(parcels, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	refs := make([]*Parcel, len(parcels))
	for i := range parcels {
		refs[i] = &parcels[i]
	}
	if err := r.loadStatuses(ctx, refs); err != nil {
		return nil, err
	}
	return parcels, nil
}

// loadStatuses 为一批包裹加载状态历史，最新在前
func (r *PostgresParcelRepo) loadStatuses(ctx context.Context, parcels []*Parcel) error {
	if len(parcels) == 0 {
		return nil
	}

	byID := make(map[string]*Parcel, len(parcels))
	ids := make([]string, 0, len(parcels))
	for _, p := range parcels {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	query := `SELECT id, parcel_id, status, created_at FROM parcel_statuses
		WHERE parcel_id = ANY($1) ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query parcel statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry ParcelStatusEntry
		var parcelID string
		if err := rows.Scan(&entry.ID, &parcelID, &entry.Status, &entry.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan parcel status: %w", err)
		}
		if p, ok := byID[parcelID]; ok {
			p.Statuses = append(p.Statuses, entry)
		}
	}
	return rows.Err()
}

func (r *PostgresParcelRepo) AppendStatus(ctx context.Context, parcelID, status, actorUserID string) error {
	query := `INSERT INTO parcel_statuses (id, parcel_id, user_id, status) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), parcelID, actorUserID, status); err != nil {
		return fmt.Errorf("failed to append parcel status: %w", err)
	}
	return nil
}

// AppendStatusBatch 批量追加状态。不跨包裹做事务原子性：部分成功是预期行为
func (r *PostgresParcelRepo) AppendStatusBatch(ctx context.Context, parcelIDs []string, status, actorUserID string) error {
	if len(parcelIDs) == 0 {
		return nil
	}

	query := `INSERT INTO parcel_statuses (id, parcel_id, user_id, status)
		SELECT gen_random_uuid(), unnest($1::text[]), $2, $3`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(parcelIDs), actorUserID, status); err != nil {
		return fmt.Errorf("failed to append parcel statuses: %w", err)
	}

	r.logger.Info("parcel statuses appended",
		zap.Int("count", len(parcelIDs)),
		zap.String("status", status),
	)
	return nil
}
