package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestReaderRepo_FindByServerID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresReaderRepo(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{
		"id", "reader_server_id", "serial_number", "reader_year_model",
		"address", "role", "warehouse_id", "connection_status",
	}).AddRow("r-1", "srv-1", "12345678", int64(202412), "Sialkot", RoleWriter, "wh-1", StatusNotConnected)

	mock.ExpectQuery(`SELECT`).WithArgs("srv-1").WillReturnRows(rows)

	reader, err := repo.FindByServerID(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", reader.ReaderServerID)
	assert.Equal(t, RoleWriter, reader.Role)
	assert.Equal(t, "wh-1", reader.WarehouseID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReaderRepo_FindByServerID_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresReaderRepo(db, zap.NewNop())

	mock.ExpectQuery(`SELECT`).WithArgs("srv-x").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByServerID(context.Background(), "srv-x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReaderRepo_CreateAssignsID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresReaderRepo(db, zap.NewNop())

	mock.ExpectExec(`INSERT INTO readers`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.Create(context.Background(), &Reader{
		ReaderServerID: "srv-2",
		Address:        "Sialkot",
		Role:           RoleReader,
		WarehouseID:    "wh-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, StatusNotConnected, created.ConnectionStatus)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParcelRepo_FindByTagIDs_GroupsStatusesNewestFirst(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresParcelRepo(db, zap.NewNop())

	now := time.Now()
	parcelRows := sqlmock.NewRows([]string{
		"id", "parcel_tracking_number", "parcel_name", "parcel_price", "parcel_weight", "parcel_date",
		"rfid_tag_id", "warehouse_id", "created_at",
		"sender_first_name", "sender_last_name", "sender_address",
		"receiver_first_name", "receiver_last_name", "receiver_address",
	}).
		AddRow("p-1", "TRK-1", "Box A", "100", 1.5, now, "tagA", "wh-1", now, "S", "One", "addr", "R", "One", "addr").
		AddRow("p-2", "TRK-2", "Box B", "200", 2.5, now, "tagB", "wh-1", now, "S", "Two", "addr", "R", "Two", "addr")

	statusRows := sqlmock.NewRows([]string{"id", "parcel_id", "status", "created_at"}).
		AddRow("s-3", "p-1", ParcelDispatched, now).
		AddRow("s-2", "p-2", ParcelPending, now.Add(-time.Hour)).
		AddRow("s-1", "p-1", ParcelPending, now.Add(-2*time.Hour))

	mock.ExpectQuery(`SELECT .+ FROM parcel_details`).WillReturnRows(parcelRows)
	mock.ExpectQuery(`SELECT .+ FROM parcel_statuses`).WillReturnRows(statusRows)

	parcels, err := repo.FindByTagIDs(context.Background(), []string{"tagA", "tagB"})
	require.NoError(t, err)
	require.Len(t, parcels, 2)

	assert.Equal(t, ParcelDispatched, parcels[0].LastStatus())
	assert.Len(t, parcels[0].Statuses, 2)
	assert.Equal(t, ParcelPending, parcels[1].LastStatus())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParcelRepo_FindByTagIDs_EmptyInput(t *testing.T) {
	db, _ := setupMockDB(t)
	repo := NewPostgresParcelRepo(db, zap.NewNop())

	parcels, err := repo.FindByTagIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, parcels)
}

func TestParcelRepo_AppendStatusBatch(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresParcelRepo(db, zap.NewNop())

	mock.ExpectExec(`INSERT INTO parcel_statuses`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.AppendStatusBatch(context.Background(), []string{"p-1", "p-2"}, ParcelDispatched, "u-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouseRepo_FindByAddress(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresWarehouseRepo(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"id", "warehouse_name", "warehouse_address"}).
		AddRow("wh-1", "Main", "Sialkot")
	mock.ExpectQuery(`SELECT .+ FROM warehouses`).WithArgs("Sialkot").WillReturnRows(rows)

	wh, err := repo.FindByAddress(context.Background(), "Sialkot")
	require.NoError(t, err)
	assert.Equal(t, "wh-1", wh.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouseRepo_MemberUserIDs(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresWarehouseRepo(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"user_id"}).AddRow("u-1").AddRow("u-2")
	mock.ExpectQuery(`SELECT user_id FROM warehouse_users`).WithArgs("wh-1").WillReturnRows(rows)

	ids, err := repo.MemberUserIDs(context.Background(), "wh-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u-1", "u-2"}, ids)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_CounterManSeesOnlyWriterReaders(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresUserRepo(db, zap.NewNop())

	userRows := sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "role"}).
		AddRow("u-1", "cm@wsm.test", "Counter", "Man", UserCounterMan)
	warehouseRows := sqlmock.NewRows([]string{"id", "warehouse_name", "warehouse_address"}).
		AddRow("wh-1", "Main", "Sialkot")
	readerRows := sqlmock.NewRows([]string{"id", "reader_server_id", "role"}).
		AddRow("r-2", "srv-2", RoleWriter)

	mock.ExpectQuery(`SELECT .+ FROM users`).WithArgs("u-1").WillReturnRows(userRows)
	mock.ExpectQuery(`SELECT .+ FROM warehouse_users`).WithArgs("u-1").WillReturnRows(warehouseRows)
	mock.ExpectQuery(`SELECT .+ FROM readers`).WithArgs("wh-1", RoleWriter).WillReturnRows(readerRows)

	user, err := repo.FindByID(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, user.WarehouseUsers, 1)
	require.Len(t, user.WarehouseUsers[0].Warehouse.Readers, 1)
	assert.Equal(t, RoleWriter, user.WarehouseUsers[0].Warehouse.Readers[0].Role)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_AdminSeesAllReaders(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresUserRepo(db, zap.NewNop())

	userRows := sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "role"}).
		AddRow("u-2", "admin@wsm.test", "Ad", "Min", UserAdmin)
	warehouseRows := sqlmock.NewRows([]string{"id", "warehouse_name", "warehouse_address"}).
		AddRow("wh-1", "Main", "Sialkot")
	readerRows := sqlmock.NewRows([]string{"id", "reader_server_id", "role"}).
		AddRow("r-1", "srv-1", RoleReader).
		AddRow("r-2", "srv-2", RoleWriter)

	mock.ExpectQuery(`SELECT .+ FROM users`).WithArgs("u-2").WillReturnRows(userRows)
	mock.ExpectQuery(`SELECT .+ FROM warehouse_users`).WithArgs("u-2").WillReturnRows(warehouseRows)
	mock.ExpectQuery(`SELECT .+ FROM readers`).WithArgs("wh-1").WillReturnRows(readerRows)

	user, err := repo.FindByID(context.Background(), "u-2")
	require.NoError(t, err)
	assert.Len(t, user.WarehouseUsers[0].Warehouse.Readers, 2)

	require.NoError(t, mock.ExpectationsWereMet())
}
