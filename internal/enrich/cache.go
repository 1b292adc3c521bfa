package enrich

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"wsm-rfid/internal/protocol"
	"wsm-rfid/internal/repository"
	"wsm-rfid/internal/store"
)

// 同一个包裹快照压两个键：按包裹 id 和按标签 id 各一份
const (
	parcelKeyPrefix = "wsm-parcel:"
	tagKeyPrefix    = "wsm-parcelFromTagId:"
)

// TagWithParcel 附上包裹快照的标签观测，发给出库工作台的会话
type TagWithParcel struct {
	protocol.TagRead
	Parcel *repository.Parcel `json:"parcel"`
}

// Cache 标签 → 包裹快照的读穿缓存。
// 任何状态流转写路径在落库后必须 Refresh 受影响的包裹：
// 重取并覆盖两个键，而不是删键，避免批量出库后瞬间的缓存击穿。
type Cache struct {
	kv      store.KV
	parcels repository.ParcelRepo
	logger  *zap.Logger
}

// NewCache 创建标签增值缓存
func NewCache(kv store.KV, parcels repository.ParcelRepo, logger *zap.Logger) *Cache {
	return &Cache{kv: kv, parcels: parcels, logger: logger}
}

// Enrich 取标签对应的包裹快照；没有对应包裹时返回 (nil, nil)
func (c *Cache) Enrich(ctx context.Context, tagID string) (*repository.Parcel, error) {
	raw, err := c.kv.Get(ctx, tagKeyPrefix+tagID)
	if err == nil {
		var parcel repository.Parcel
		if err := json.Unmarshal([]byte(raw), &parcel); err == nil {
			return &parcel, nil
		}
		// 坏条目当作未命中，往下走读穿重建
		c.logger.Warn("corrupt enrichment entry, re-fetching", zap.String("tag_id", tagID))
	} else if err != store.ErrMiss {
		return nil, fmt.Errorf("get enrichment entry: %w", err)
	}

	parcel, err := c.parcels.FindByTagID(ctx, tagID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load parcel by tag %s: %w", tagID, err)
	}

	if err := c.save(ctx, parcel); err != nil {
		return nil, err
	}
	return parcel, nil
}

// Refresh 状态流转后重取包裹并覆盖两个缓存键
func (c *Cache) Refresh(ctx context.Context, parcelID string) error {
	parcel, err := c.parcels.FindByID(ctx, parcelID)
	if err != nil {
		return fmt.Errorf("re-fetch parcel %s: %w", parcelID, err)
	}
	return c.save(ctx, parcel)
}

func (c *Cache) save(ctx context.Context, parcel *repository.Parcel) error {
	raw, err := json.Marshal(parcel)
	if err != nil {
		return fmt.Errorf("marshal parcel snapshot: %w", err)
	}
	if err := c.kv.Set(ctx, parcelKeyPrefix+parcel.ID, string(raw), 0); err != nil {
		return fmt.Errorf("cache parcel by id: %w", err)
	}
	if err := c.kv.Set(ctx, tagKeyPrefix+parcel.RFIDTagID, string(raw), 0); err != nil {
		return fmt.Errorf("cache parcel by tag: %w", err)
	}
	return nil
}
