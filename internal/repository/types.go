package repository

import (
	"errors"
	"time"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// 读写器角色：Reader 为通道监控天线，Writer 为柜台写入/出库天线
const (
	RoleReader = "Reader"
	RoleWriter = "Writer"
)

// 连接状态
const (
	StatusConnected    = "connected"
	StatusNotConnected = "not-connected"
)

// 包裹状态流转：Pending → Dispatched → Delivered
const (
	ParcelPending    = "Pending"
	ParcelDispatched = "Dispatched"
	ParcelDelivered  = "Delivered"
)

// 用户角色。CounterMan 只可见 Writer 读写器，Worker 只可见 Reader 读写器
const (
	UserAdmin      = "Admin"
	UserCounterMan = "CounterMan"
	UserWorker     = "Worker"
)

// Warehouse 仓库记录
type Warehouse struct {
	ID      string `json:"id"`
	Name    string `json:"warehouseName"`
	Address string `json:"warehouseAddress"`
}

// Reader 一台物理读写器。readerServerId 是其适配进程的稳定身份
type Reader struct {
	ID               string `json:"id"`
	ReaderServerID   string `json:"readerServerId"`
	SerialNumber     string `json:"serialNumber"`
	ReaderYearModel  int64  `json:"readerYearModel"`
	Address          string `json:"address"`
	Role             string `json:"role"`
	WarehouseID      string `json:"warehouseId"`
	ConnectionStatus string `json:"connectionStatus"`
}

// ReaderRef 用户可见读写器的裁剪视图（按角色过滤后挂在仓库下）
type ReaderRef struct {
	ID             string `json:"id"`
	ReaderServerID string `json:"readerServerId"`
	Role           string `json:"role"`
}

// UserWarehouse 用户的仓库成员关系，带该仓库内可见的读写器
type UserWarehouse struct {
	Warehouse struct {
		ID      string      `json:"id"`
		Name    string      `json:"warehouseName"`
		Address string      `json:"warehouseAddress"`
		Readers []ReaderRef `json:"readers"`
	} `json:"warehouse"`
}

// User 用户快照（进 Presence Directory 缓存的就是它）
type User struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	FirstName      string          `json:"firstName"`
	LastName       string          `json:"lastName"`
	Role           string          `json:"role"`
	WarehouseUsers []UserWarehouse `json:"warehouseUsers"`
}

// ParcelStatusEntry 一次状态流转记录
type ParcelStatusEntry struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Parcel 包裹明细及其状态历史（最新在前）
type Parcel struct {
	ID                   string              `json:"id"`
	ParcelTrackingNumber string              `json:"parcelTrackingNumber"`
	ParcelName           string              `json:"parcelName"`
	ParcelPrice          string              `json:"parcelPrice"`
	ParcelWeight         float64             `json:"parcelWeight"`
	ParcelDate           time.Time           `json:"parcelDate"`
	RFIDTagID            string              `json:"rfidTagId"`
	WarehouseID          string              `json:"warehouseId"`
	CreatedAt            time.Time           `json:"createdAt"`
	SenderFirstName      string              `json:"senderFirstName"`
	SenderLastName       string              `json:"senderLastName"`
	SenderAddress        string              `json:"senderAddress"`
	ReceiverFirstName    string              `json:"receiverFirstName"`
	ReceiverLastName     string              `json:"receiverLastName"`
	ReceiverAddress      string              `json:"receiverAddress"`
	Statuses             []ParcelStatusEntry `json:"parcelStatuses"`
}

// LastStatus 最近一次状态，无历史时返回空串
func (p *Parcel) LastStatus() string {
	if len(p.Statuses) == 0 {
		return ""
	}
	return p.Statuses[0].Status
}
