package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"wsm-rfid/internal/enrich"
	"wsm-rfid/internal/repository"
)

var (
	// ErrNoMatch 扫到的标签没有一个对应库内包裹
	ErrNoMatch = errors.New("no parcels matched the scanned tags")
	// ErrNoneEligible 有对应包裹但没有一个处于 Pending
	ErrNoneEligible = errors.New("no matched parcels are pending dispatch")
)

// DispatchedParcel 出库结果行，回给出库工作台渲染
type DispatchedParcel struct {
	TrackingNumber string `json:"parcelTrackingNumber"`
	TagID          string `json:"rfidTagId"`
}

// Matcher 把一批扫描标签撮合成一次出库：只有最近状态为 Pending 的包裹流转
type Matcher struct {
	parcels repository.ParcelRepo
	cache   *enrich.Cache
	logger  *zap.Logger
}

// NewMatcher 创建出库撮合器
func NewMatcher(parcels repository.ParcelRepo, cache *enrich.Cache, logger *zap.Logger) *Matcher {
	return &Matcher{parcels: parcels, cache: cache, logger: logger}
}

// Match 撮合一批标签。部分成功即成功：非 Pending 的匹配包裹静默跳过。
// 返回两类可区分的失败：无匹配包裹，或匹配包裹全部不在 Pending。
func (m *Matcher) Match(ctx context.Context, tagIDs []string, actorUserID string) ([]DispatchedParcel, error) {
	unique := dedupe(tagIDs)
	if len(unique) == 0 {
		return nil, ErrNoMatch
	}

	parcels, err := m.parcels.FindByTagIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("load parcels by tags: %w", err)
	}
	if len(parcels) == 0 {
		return nil, ErrNoMatch
	}

	var eligible []repository.Parcel
	for _, p := range parcels {
		if p.LastStatus() == repository.ParcelPending {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoneEligible
	}

	ids := make([]string, len(eligible))
	for i, p := range eligible {
		ids[i] = p.ID
	}
	if err := m.parcels.AppendStatusBatch(ctx, ids, repository.ParcelDispatched, actorUserID); err != nil {
		return nil, fmt.Errorf("append dispatched status: %w", err)
	}

	// 状态已落库，覆盖所有取到过的包裹快照，刷新失败不回滚出库
	for _, p := range parcels {
		if err := m.cache.Refresh(ctx, p.ID); err != nil {
			m.logger.Warn("enrichment refresh failed after dispatch",
				zap.String("parcel_id", p.ID), zap.Error(err))
		}
	}

	out := make([]DispatchedParcel, len(eligible))
	for i, p := range eligible {
		out[i] = DispatchedParcel{TrackingNumber: p.ParcelTrackingNumber, TagID: p.RFIDTagID}
	}
	m.logger.Info("parcels dispatched",
		zap.Int("scanned", len(unique)),
		zap.Int("matched", len(parcels)),
		zap.Int("dispatched", len(eligible)),
		zap.String("actor_user_id", actorUserID))
	return out, nil
}

// StepStatus 单件包裹按 Pending → Dispatched → Delivered 推进一步
func (m *Matcher) StepStatus(ctx context.Context, parcelID, actorUserID string) (string, error) {
	parcel, err := m.parcels.FindByID(ctx, parcelID)
	if err != nil {
		return "", err
	}

	var next string
	switch parcel.LastStatus() {
	case repository.ParcelPending:
		next = repository.ParcelDispatched
	case repository.ParcelDispatched:
		next = repository.ParcelDelivered
	default:
		return "", fmt.Errorf("parcel %s is not steppable from status %q", parcelID, parcel.LastStatus())
	}

	if err := m.parcels.AppendStatus(ctx, parcelID, next, actorUserID); err != nil {
		return "", fmt.Errorf("append status %s: %w", next, err)
	}
	if err := m.cache.Refresh(ctx, parcelID); err != nil {
		m.logger.Warn("enrichment refresh failed after status step",
			zap.String("parcel_id", parcelID), zap.Error(err))
	}
	return next, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
