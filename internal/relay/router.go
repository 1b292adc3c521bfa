package relay

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"wsm-rfid/internal/channel"
	"wsm-rfid/internal/enrich"
	"wsm-rfid/internal/presence"
	"wsm-rfid/internal/repository"
)

// Sender 把事件投递到某个活跃连接。由 Hub 实现，测试用内存假件。
type Sender interface {
	Send(connID string, env channel.Envelope) error
}

// 浏览器命令事件 → 转发给适配进程的命令事件
var clientCommandMap = map[string]string{
	channel.EventClientConnectReader:        channel.EventCmdConnectReader,
	channel.EventClientDisconnectReader:     channel.EventCmdDisconnectReader,
	channel.EventClientStartReadingTags:     channel.EventCmdStartReadingTags,
	channel.EventClientStartMonitoring:      channel.EventCmdStartMonitoring,
	channel.EventClientStartDispatchReading: channel.EventCmdStartDispatchReading,
	channel.EventClientStopReadingTags:      channel.EventCmdStopReadingTags,
}

// Router 中继的事件路由：适配进程事件向用户会话扇出，
// 浏览器命令解析到同仓库中角色匹配的读写器后转发给其适配进程。
type Router struct {
	sender     Sender
	dir        *presence.Directory
	readers    repository.ReaderRepo
	warehouses repository.WarehouseRepo
	cache      *enrich.Cache
	logger     *zap.Logger
}

// NewRouter 创建事件路由
func NewRouter(sender Sender, dir *presence.Directory, readers repository.ReaderRepo,
	warehouses repository.WarehouseRepo, cache *enrich.Cache, logger *zap.Logger) *Router {
	return &Router{
		sender:     sender,
		dir:        dir,
		readers:    readers,
		warehouses: warehouses,
		cache:      cache,
		logger:     logger,
	}
}

// SessionOpened 用户会话建立：登记进在线目录
func (r *Router) SessionOpened(ctx context.Context, userID, connID string) error {
	_, err := r.dir.ResolveUser(ctx, userID, connID)
	if err != nil {
		return err
	}
	r.logger.Info("session opened", zap.String("user_id", userID), zap.String("conn_id", connID))
	return nil
}

// ConnectionClosed 任意连接断开：按反向索引清理在线目录
func (r *Router) ConnectionClosed(ctx context.Context, connID string) {
	ref, err := r.dir.CloseConnection(ctx, connID)
	if err != nil {
		r.logger.Error("connection teardown failed", zap.String("conn_id", connID), zap.Error(err))
		return
	}
	if ref == nil {
		r.logger.Debug("closed connection had no directory entry", zap.String("conn_id", connID))
		return
	}
	r.logger.Info("connection closed",
		zap.String("conn_id", connID),
		zap.String("owner_type", ref.Type),
		zap.String("owner_id", ref.ID))
}

// HandleAdapterEvent 处理来自适配进程的事件
func (r *Router) HandleAdapterEvent(ctx context.Context, connID string, env *channel.Envelope) {
	var err error
	switch env.Event {
	case channel.EventReaderServerConnected:
		err = r.readerServerConnected(ctx, connID, env)
	case channel.EventReaderConnected:
		err = r.readerStatusChanged(ctx, env, repository.StatusConnected, channel.EventPushReaderConnected)
	case channel.EventReaderDisconnected:
		err = r.readerStatusChanged(ctx, env, repository.StatusNotConnected, channel.EventPushReaderDisconnected)
	case channel.EventTagsRead:
		err = r.fanTagBatch(ctx, env, channel.EventPushTagsRead, false)
	case channel.EventTagsMonitored:
		err = r.fanTagBatch(ctx, env, channel.EventPushTagsMonitored, true)
	case channel.EventParcelTagsReadForDispatch:
		err = r.fanDispatchBatch(ctx, env)
	case channel.EventTagsReadingStopped:
		err = r.fanStopConfirmation(ctx, env)
	default:
		r.logger.Warn("unroutable adapter event", zap.String("event", env.Event))
		return
	}
	if err != nil {
		r.logger.Error("adapter event failed",
			zap.String("event", env.Event),
			zap.String("conn_id", connID),
			zap.Error(err))
	}
}

// HandleClientEvent 处理浏览器会话发来的命令
func (r *Router) HandleClientEvent(ctx context.Context, userID, connID string, env *channel.Envelope) {
	cmd, ok := clientCommandMap[env.Event]
	if !ok {
		r.logger.Warn("unroutable client event", zap.String("event", env.Event))
		return
	}

	var p channel.ClientCommandPayload
	if err := env.Decode(&p); err != nil {
		r.logger.Error("bad client command payload", zap.String("event", env.Event), zap.Error(err))
		return
	}

	if err := r.forwardCommand(ctx, userID, connID, cmd, p.ReaderRole); err != nil {
		r.logger.Error("client command dropped",
			zap.String("event", env.Event),
			zap.String("user_id", userID),
			zap.String("reader_role", p.ReaderRole),
			zap.Error(err))
	}
}

// readerServerConnected 适配进程宣告身份：缓存命中则只顶替连接 id，
// 持久存储也没有记录时按仓库地址懒建一条读写器记录。
func (r *Router) readerServerConnected(ctx context.Context, connID string, env *channel.Envelope) error {
	var p channel.AnnouncePayload
	if err := env.Decode(&p); err != nil {
		return err
	}

	entry, err := r.dir.ResolveReader(ctx, p.ReaderServerID)
	switch {
	case err == nil:
		return r.dir.RegisterReader(ctx, entry.Reader, connID)
	case errors.Is(err, repository.ErrNotFound):
		reader, err := r.createReader(ctx, &p)
		if err != nil {
			return err
		}
		return r.dir.RegisterReader(ctx, reader, connID)
	default:
		return err
	}
}

func (r *Router) createReader(ctx context.Context, p *channel.AnnouncePayload) (*repository.Reader, error) {
	warehouse, err := r.warehouses.FindByAddress(ctx, p.Address)
	if err != nil {
		return nil, err
	}
	reader := &repository.Reader{
		ReaderServerID:   p.ReaderServerID,
		Address:          p.Address,
		Role:             p.Role,
		WarehouseID:      warehouse.ID,
		ConnectionStatus: p.ConnectionStatus,
	}
	return r.readers.Create(ctx, reader)
}

// readerStatusChanged 硬件连接状态变化：更新目录后向读写器所在仓库的
// 全体成员的所有会话扇出
func (r *Router) readerStatusChanged(ctx context.Context, env *channel.Envelope, status, pushEvent string) error {
	var p channel.ReaderStatusPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if p.ReaderDetails == nil {
		return errors.New("reader status event without readerDetails")
	}

	if err := r.dir.UpdateReaderStatus(ctx, p.ReaderDetails.ReaderServerID, status); err != nil {
		r.logger.Warn("reader status cache update failed",
			zap.String("reader_server_id", p.ReaderDetails.ReaderServerID),
			zap.Error(err))
	}

	entry, err := r.dir.ResolveReader(ctx, p.ReaderDetails.ReaderServerID)
	if err != nil {
		return err
	}

	memberIDs, err := r.warehouses.MemberUserIDs(ctx, entry.Reader.WarehouseID)
	if err != nil {
		return err
	}

	p.ReaderDetails.ConnectionStatus = status
	out, err := channel.NewEnvelope(pushEvent, &p)
	if err != nil {
		return err
	}
	for _, uid := range memberIDs {
		r.emitToUserSessions(ctx, uid, out, "")
	}
	return nil
}

// fanTagBatch 标签批次扇出：先发起会话，再同一用户的其余会话。
// monitored 批次逐标签附上包裹快照。
func (r *Router) fanTagBatch(ctx context.Context, env *channel.Envelope, pushEvent string, enriched bool) error {
	var p channel.TagBatchPayload
	if err := env.Decode(&p); err != nil {
		return err
	}

	var payload any = &p
	if enriched {
		payload = &channel.EnrichedTagBatchPayload{
			Tags:          r.enrichTags(ctx, &p),
			UserID:        p.UserID,
			SocketID:      p.SocketID,
			ReaderDetails: p.ReaderDetails,
		}
	}

	out, err := channel.NewEnvelope(pushEvent, payload)
	if err != nil {
		return err
	}

	if p.SocketID != "" {
		if err := r.sender.Send(p.SocketID, out); err != nil {
			r.logger.Warn("tag fanout to originator failed",
				zap.String("socket_id", p.SocketID), zap.Error(err))
		}
	}
	r.emitToUserSessions(ctx, p.UserID, out, p.SocketID)
	return nil
}

// fanDispatchBatch 出库扫描批次：发起会话收原始批次，
// 其余会话收逐标签附包裹快照的批次
func (r *Router) fanDispatchBatch(ctx context.Context, env *channel.Envelope) error {
	var p channel.TagBatchPayload
	if err := env.Decode(&p); err != nil {
		return err
	}

	raw, err := channel.NewEnvelope(channel.EventPushDispatchTagsRead, &p)
	if err != nil {
		return err
	}
	if p.SocketID != "" {
		if err := r.sender.Send(p.SocketID, raw); err != nil {
			r.logger.Warn("dispatch fanout to originator failed",
				zap.String("socket_id", p.SocketID), zap.Error(err))
		}
	}

	enrichedOut, err := channel.NewEnvelope(channel.EventPushDispatchTagsRead, &channel.EnrichedTagBatchPayload{
		Tags:          r.enrichTags(ctx, &p),
		UserID:        p.UserID,
		SocketID:      p.SocketID,
		ReaderDetails: p.ReaderDetails,
	})
	if err != nil {
		return err
	}
	r.emitToUserSessions(ctx, p.UserID, enrichedOut, p.SocketID)
	return nil
}

func (r *Router) fanStopConfirmation(ctx context.Context, env *channel.Envelope) error {
	var p channel.CommandPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	out, err := channel.NewEnvelope(channel.EventPushTagsReadingStopped, &p)
	if err != nil {
		return err
	}
	if p.SocketID != "" {
		if err := r.sender.Send(p.SocketID, out); err != nil {
			r.logger.Warn("stop confirmation to originator failed",
				zap.String("socket_id", p.SocketID), zap.Error(err))
		}
	}
	r.emitToUserSessions(ctx, p.UserID, out, p.SocketID)
	return nil
}

func (r *Router) enrichTags(ctx context.Context, p *channel.TagBatchPayload) []enrich.TagWithParcel {
	out := make([]enrich.TagWithParcel, 0, len(p.Tags))
	for _, tag := range p.Tags {
		parcel, err := r.cache.Enrich(ctx, tag.EPCID)
		if err != nil {
			r.logger.Warn("tag enrichment failed", zap.String("tag_id", tag.EPCID), zap.Error(err))
		}
		out = append(out, enrich.TagWithParcel{TagRead: tag, Parcel: parcel})
	}
	return out
}

// emitToUserSessions 把事件发到用户的全部会话，except 会话已单独发过则跳过
func (r *Router) emitToUserSessions(ctx context.Context, userID string, env channel.Envelope, except string) {
	if userID == "" {
		return
	}
	entry, err := r.dir.ResolveUser(ctx, userID, "")
	if err != nil {
		r.logger.Warn("session fanout skipped, user unresolved",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, sid := range entry.SessionSocketIDs {
		if sid == except {
			continue
		}
		if err := r.sender.Send(sid, env); err != nil {
			r.logger.Debug("session fanout miss",
				zap.String("user_id", userID),
				zap.String("socket_id", sid),
				zap.Error(err))
		}
	}
}

// forwardCommand 把浏览器命令转给同仓库中角色匹配的读写器的适配进程
func (r *Router) forwardCommand(ctx context.Context, userID, connID, cmd, readerRole string) error {
	entry, err := r.dir.ResolveUser(ctx, userID, "")
	if err != nil {
		return err
	}

	ref := findReaderByRole(entry.User, readerRole)
	if ref == nil {
		return errors.New("no reader with requested role in user's warehouse")
	}

	readerEntry, err := r.dir.ResolveReader(ctx, ref.ReaderServerID)
	if err != nil {
		return err
	}
	if readerEntry.ReaderServerSocketID == "" {
		return errors.New("reader has no connected adapter")
	}

	out, err := channel.NewEnvelope(cmd, &channel.CommandPayload{UserID: userID, SocketID: connID})
	if err != nil {
		return err
	}
	return r.sender.Send(readerEntry.ReaderServerSocketID, out)
}

func findReaderByRole(user *repository.User, role string) *repository.ReaderRef {
	if user == nil {
		return nil
	}
	for i := range user.WarehouseUsers {
		readers := user.WarehouseUsers[i].Warehouse.Readers
		for j := range readers {
			if readers[j].Role == role {
				return &readers[j]
			}
		}
	}
	return nil
}
