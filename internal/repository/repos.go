package repository

import "context"

// ReaderRepo 读写器记录的持久化接口
type ReaderRepo interface {
	FindByServerID(ctx context.Context, readerServerID string) (*Reader, error)
	FindByWarehouse(ctx context.Context, warehouseID string) ([]Reader, error)
	Create(ctx context.Context, reader *Reader) (*Reader, error)
}

// WarehouseRepo 仓库记录查询（适配进程首次握手时按地址建读写器记录用）
type WarehouseRepo interface {
	FindByAddress(ctx context.Context, address string) (*Warehouse, error)
	MemberUserIDs(ctx context.Context, warehouseID string) ([]string, error)
}

// ParcelRepo 包裹及状态历史的持久化接口
type ParcelRepo interface {
	FindByID(ctx context.Context, id string) (*Parcel, error)
	FindByTagID(ctx context.Context, tagID string) (*Parcel, error)
	FindByTagIDs(ctx context.Context, tagIDs []string) ([]Parcel, error)
	AppendStatus(ctx context.Context, parcelID, status, actorUserID string) error
	AppendStatusBatch(ctx context.Context, parcelIDs []string, status, actorUserID string) error
}

// UserRepo 用户查询，已按角色裁剪各仓库下可见的读写器
type UserRepo interface {
	FindByID(ctx context.Context, id string) (*User, error)
}
