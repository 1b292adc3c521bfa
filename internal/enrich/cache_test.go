package enrich

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wsm-rfid/internal/repository"
	"wsm-rfid/internal/store"
)

type fakeParcelRepo struct {
	parcels map[string]*repository.Parcel // keyed by parcel id
	byTag   map[string]string             // tag id -> parcel id
	loads   int
}

func (f *fakeParcelRepo) FindByID(_ context.Context, id string) (*repository.Parcel, error) {
	f.loads++
	p, ok := f.parcels[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeParcelRepo) FindByTagID(_ context.Context, tagID string) (*repository.Parcel, error) {
	id, ok := f.byTag[tagID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f.FindByID(context.Background(), id)
}

func (f *fakeParcelRepo) FindByTagIDs(_ context.Context, tagIDs []string) ([]repository.Parcel, error) {
	var out []repository.Parcel
	for _, t := range tagIDs {
		if id, ok := f.byTag[t]; ok {
			out = append(out, *f.parcels[id])
		}
	}
	return out, nil
}

func (f *fakeParcelRepo) AppendStatus(_ context.Context, parcelID, status, _ string) error {
	f.parcels[parcelID].Statuses = append([]repository.ParcelStatusEntry{{
		ID: "st-new", Status: status, CreatedAt: time.Now(),
	}}, f.parcels[parcelID].Statuses...)
	return nil
}

func (f *fakeParcelRepo) AppendStatusBatch(ctx context.Context, parcelIDs []string, status, actorUserID string) error {
	for _, id := range parcelIDs {
		if err := f.AppendStatus(ctx, id, status, actorUserID); err != nil {
			return err
		}
	}
	return nil
}

func testCache(t *testing.T) (*Cache, *fakeParcelRepo, store.KV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv := store.NewRedisKV(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	repo := &fakeParcelRepo{
		parcels: map[string]*repository.Parcel{
			"p-1": {
				ID:                   "p-1",
				ParcelTrackingNumber: "TRK-001",
				RFIDTagID:            "aabbccdd11223344aabbccdd",
				Statuses: []repository.ParcelStatusEntry{
					{ID: "st-1", Status: repository.ParcelPending, CreatedAt: time.Now()},
				},
			},
		},
		byTag: map[string]string{"aabbccdd11223344aabbccdd": "p-1"},
	}
	return NewCache(kv, repo, zap.NewNop()), repo, kv, mr
}

func TestEnrich_MissReadsThroughAndSeedsBothKeys(t *testing.T) {
	cache, repo, kv, _ := testCache(t)
	ctx := context.Background()

	parcel, err := cache.Enrich(ctx, "aabbccdd11223344aabbccdd")
	require.NoError(t, err)
	require.NotNil(t, parcel)
	assert.Equal(t, "TRK-001", parcel.ParcelTrackingNumber)
	assert.Equal(t, 1, repo.loads)

	// 两个键都要落下来
	_, err = kv.Get(ctx, "wsm-parcel:p-1")
	assert.NoError(t, err)
	_, err = kv.Get(ctx, "wsm-parcelFromTagId:aabbccdd11223344aabbccdd")
	assert.NoError(t, err)

	// 第二次命中缓存，不再回源
	parcel, err = cache.Enrich(ctx, "aabbccdd11223344aabbccdd")
	require.NoError(t, err)
	require.NotNil(t, parcel)
	assert.Equal(t, 1, repo.loads)
}

func TestEnrich_UnknownTagIsNil(t *testing.T) {
	cache, _, _, _ := testCache(t)

	parcel, err := cache.Enrich(context.Background(), "0000000000000000deadbeef")
	require.NoError(t, err)
	assert.Nil(t, parcel)
}

func TestEnrich_CorruptEntryRebuilt(t *testing.T) {
	cache, repo, kv, _ := testCache(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "wsm-parcelFromTagId:aabbccdd11223344aabbccdd", "{not json", 0))

	parcel, err := cache.Enrich(ctx, "aabbccdd11223344aabbccdd")
	require.NoError(t, err)
	require.NotNil(t, parcel)
	assert.Equal(t, "p-1", parcel.ID)
	assert.Equal(t, 1, repo.loads)
}

func TestRefresh_OverwritesStaleSnapshot(t *testing.T) {
	cache, repo, kv, _ := testCache(t)
	ctx := context.Background()

	_, err := cache.Enrich(ctx, "aabbccdd11223344aabbccdd")
	require.NoError(t, err)

	// 状态流转落库后 Refresh，缓存必须立刻反映新状态
	require.NoError(t, repo.AppendStatus(ctx, "p-1", repository.ParcelDispatched, "u-1"))
	require.NoError(t, cache.Refresh(ctx, "p-1"))

	raw, err := kv.Get(ctx, "wsm-parcelFromTagId:aabbccdd11223344aabbccdd")
	require.NoError(t, err)
	var cached repository.Parcel
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, repository.ParcelDispatched, cached.LastStatus())

	// 按 id 的键同样被覆盖
	raw, err = kv.Get(ctx, "wsm-parcel:p-1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, repository.ParcelDispatched, cached.LastStatus())
}
