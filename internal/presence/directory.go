package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"wsm-rfid/internal/repository"
	"wsm-rfid/internal/store"
)

// 缓存键前缀
const (
	userKeyPrefix   = "wsm-user:"
	readerKeyPrefix = "wsm-reader:"
	connKeyPrefix   = "wsm-conn:"
)

// 反向索引里的连接类型
const (
	ConnUser   = "user"
	ConnReader = "reader"
)

// UserEntry 用户缓存条目：用户快照 + 该用户所有活跃会话的连接 id 集合
type UserEntry struct {
	User             *repository.User `json:"user"`
	SessionSocketIDs []string         `json:"sessionSocketIds"`
}

// ReaderEntry 读写器缓存条目：元数据 + 当前权威的适配进程连接 id（后注册者胜出）
type ReaderEntry struct {
	Reader               *repository.Reader `json:"reader"`
	ReaderServerSocketID string             `json:"readerServerSocketId"`
}

// ConnRef 反向索引条目：连接 id → 它属于哪个用户或读写器
type ConnRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Directory 会话/读写器在线目录。
// 持久存储前的读穿缓存；读-改-写按缓存键粒度加锁，热点键
// 只落在单个用户或单台读写器上，不存在全局锁。
type Directory struct {
	kv      store.KV
	users   repository.UserRepo
	readers repository.ReaderRepo
	logger  *zap.Logger

	keyLocks sync.Map // map[string]*sync.Mutex
}

// NewDirectory 创建在线目录
func NewDirectory(kv store.KV, users repository.UserRepo, readers repository.ReaderRepo, logger *zap.Logger) *Directory {
	return &Directory{
		kv:      kv,
		users:   users,
		readers: readers,
		logger:  logger,
	}
}

func (d *Directory) lockKey(key string) func() {
	v, _ := d.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ResolveUser 解析用户条目。
// 缓存命中：给了 connID 且不在会话集合里就追加并回写（同一用户多会话）。
// 缓存未命中：从持久存储读用户（含角色裁剪的读写器可见性）并播种缓存。
func (d *Directory) ResolveUser(ctx context.Context, userID, connID string) (*UserEntry, error) {
	key := userKeyPrefix + userID
	unlock := d.lockKey(key)
	defer unlock()

	var entry UserEntry
	raw, err := d.kv.Get(ctx, key)
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("corrupt user entry %s: %w", userID, err)
		}
		if connID != "" && !contains(entry.SessionSocketIDs, connID) {
			entry.SessionSocketIDs = append(entry.SessionSocketIDs, connID)
			if err := d.saveUser(ctx, key, &entry); err != nil {
				return nil, err
			}
		}
	case err == store.ErrMiss:
		user, err := d.users.FindByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", userID, err)
		}
		entry = UserEntry{User: user, SessionSocketIDs: []string{}}
		if connID != "" {
			entry.SessionSocketIDs = append(entry.SessionSocketIDs, connID)
		}
		if err := d.saveUser(ctx, key, &entry); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("get user entry: %w", err)
	}

	if connID != "" {
		if err := d.writeConnRef(ctx, connID, ConnUser, userID); err != nil {
			return nil, err
		}
	}
	return &entry, nil
}

// RefreshUser 用外部给的新快照覆盖缓存的用户，保留既有会话集合。
// 用户记录变更后由写路径调用。
func (d *Directory) RefreshUser(ctx context.Context, user *repository.User) error {
	key := userKeyPrefix + user.ID
	unlock := d.lockKey(key)
	defer unlock()

	entry := UserEntry{User: user, SessionSocketIDs: []string{}}
	if raw, err := d.kv.Get(ctx, key); err == nil {
		var cached UserEntry
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			entry.SessionSocketIDs = cached.SessionSocketIDs
		}
	}
	return d.saveUser(ctx, key, &entry)
}

// ResolveReader 解析读写器条目，未命中时从持久存储读穿（此时没有活跃连接 id）
func (d *Directory) ResolveReader(ctx context.Context, readerServerID string) (*ReaderEntry, error) {
	key := readerKeyPrefix + readerServerID
	unlock := d.lockKey(key)
	defer unlock()

	raw, err := d.kv.Get(ctx, key)
	if err == nil {
		var entry ReaderEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("corrupt reader entry %s: %w", readerServerID, err)
		}
		return &entry, nil
	}
	if err != store.ErrMiss {
		return nil, fmt.Errorf("get reader entry: %w", err)
	}

	reader, err := d.readers.FindByServerID(ctx, readerServerID)
	if err != nil {
		return nil, fmt.Errorf("load reader %s: %w", readerServerID, err)
	}
	entry := ReaderEntry{Reader: reader}
	if err := d.saveReader(ctx, key, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// RegisterReader 登记读写器的当前适配进程连接。后注册者无条件取代旧连接 id
func (d *Directory) RegisterReader(ctx context.Context, reader *repository.Reader, connID string) error {
	key := readerKeyPrefix + reader.ReaderServerID
	unlock := d.lockKey(key)
	defer unlock()

	entry := ReaderEntry{Reader: reader, ReaderServerSocketID: connID}
	if err := d.saveReader(ctx, key, &entry); err != nil {
		return err
	}
	return d.writeConnRef(ctx, connID, ConnReader, reader.ReaderServerID)
}

// UpdateReaderStatus 更新缓存里读写器的连接状态，保留现有连接 id。
// 缓存未命中时先从持久存储读穿再落状态，保证最近一次事件总能生效。
func (d *Directory) UpdateReaderStatus(ctx context.Context, readerServerID, status string) error {
	key := readerKeyPrefix + readerServerID
	unlock := d.lockKey(key)
	defer unlock()

	var entry ReaderEntry
	raw, err := d.kv.Get(ctx, key)
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return fmt.Errorf("corrupt reader entry %s: %w", readerServerID, err)
		}
	case err == store.ErrMiss:
		reader, err := d.readers.FindByServerID(ctx, readerServerID)
		if err != nil {
			return fmt.Errorf("load reader %s: %w", readerServerID, err)
		}
		entry = ReaderEntry{Reader: reader}
	default:
		return fmt.Errorf("get reader entry: %w", err)
	}

	if entry.Reader != nil {
		entry.Reader.ConnectionStatus = status
	}
	return d.saveReader(ctx, key, &entry)
}

// Lookup 反向索引查询：这个连接属于谁
func (d *Directory) Lookup(ctx context.Context, connID string) (*ConnRef, error) {
	raw, err := d.kv.Get(ctx, connKeyPrefix+connID)
	if err != nil {
		return nil, err
	}
	var ref ConnRef
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		return nil, fmt.Errorf("corrupt conn ref %s: %w", connID, err)
	}
	return &ref, nil
}

// CloseConnection 连接关闭时的清理：查反向索引确定归属，
// 用户会话则从会话集合里摘除，读写器则在它仍是权威连接时整条移除。
// 返回归属信息供上层做后续广播。
func (d *Directory) CloseConnection(ctx context.Context, connID string) (*ConnRef, error) {
	ref, err := d.Lookup(ctx, connID)
	if err != nil {
		if err == store.ErrMiss {
			return nil, nil
		}
		return nil, err
	}

	if err := d.kv.Del(ctx, connKeyPrefix+connID); err != nil {
		return nil, fmt.Errorf("delete conn ref: %w", err)
	}

	switch ref.Type {
	case ConnUser:
		err = d.removeUserSession(ctx, ref.ID, connID)
	case ConnReader:
		err = d.dropReaderConn(ctx, ref.ID, connID)
	}
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func (d *Directory) removeUserSession(ctx context.Context, userID, connID string) error {
	key := userKeyPrefix + userID
	unlock := d.lockKey(key)
	defer unlock()

	raw, err := d.kv.Get(ctx, key)
	if err != nil {
		if err == store.ErrMiss {
			return nil
		}
		return fmt.Errorf("get user entry: %w", err)
	}
	var entry UserEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return fmt.Errorf("corrupt user entry %s: %w", userID, err)
	}

	kept := entry.SessionSocketIDs[:0]
	for _, id := range entry.SessionSocketIDs {
		if id != connID {
			kept = append(kept, id)
		}
	}
	entry.SessionSocketIDs = kept
	return d.saveUser(ctx, key, &entry)
}

func (d *Directory) dropReaderConn(ctx context.Context, readerServerID, connID string) error {
	key := readerKeyPrefix + readerServerID
	unlock := d.lockKey(key)
	defer unlock()

	raw, err := d.kv.Get(ctx, key)
	if err != nil {
		if err == store.ErrMiss {
			return nil
		}
		return fmt.Errorf("get reader entry: %w", err)
	}
	var entry ReaderEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return fmt.Errorf("corrupt reader entry %s: %w", readerServerID, err)
	}

	// 新握手已取代旧连接时不动缓存
	if entry.ReaderServerSocketID != connID {
		return nil
	}
	return d.kv.Del(ctx, key)
}

func (d *Directory) saveUser(ctx context.Context, key string, entry *UserEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal user entry: %w", err)
	}
	return d.kv.Set(ctx, key, string(raw), 0)
}

func (d *Directory) saveReader(ctx context.Context, key string, entry *ReaderEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal reader entry: %w", err)
	}
	return d.kv.Set(ctx, key, string(raw), 0)
}

func (d *Directory) writeConnRef(ctx context.Context, connID, connType, id string) error {
	raw, err := json.Marshal(ConnRef{Type: connType, ID: id})
	if err != nil {
		return err
	}
	return d.kv.Set(ctx, connKeyPrefix+connID, string(raw), 0)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
