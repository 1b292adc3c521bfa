package reader

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"wsm-rfid/internal/channel"
	"wsm-rfid/internal/protocol"
	"wsm-rfid/internal/store"
	"wsm-rfid/internal/transport"
)

// 本地缓存键：读写器详情快照，以及“正在读标签”标志。
// 标志是权威的停止信号：硬件不回停止应答时流也必须停
const (
	keyReaderDetails = "reader-details"
	keyReadingTags   = "reading-tags"
)

// 读取模式决定标签批次以哪个事件上报
type readMode int

const (
	modeInventory readMode = iota
	modeMonitor
	modeDispatch
)

func (m readMode) event() string {
	switch m {
	case modeMonitor:
		return channel.EventTagsMonitored
	case modeDispatch:
		return channel.EventParcelTagsReadForDispatch
	default:
		return channel.EventTagsRead
	}
}

// Hardware 到物理读写器的命令会话，生产实现是 transport.Session
type Hardware interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, frame []byte) ([]byte, error)
	Stream(frame []byte, cb transport.StreamFunc) error
	StopStream(ctx context.Context, frame []byte) ([]byte, error)
	Close() error
	OnClose(fn func())
	State() transport.State
	Streaming() bool
}

// Link 到中继的事件通道，生产实现是 channel.Client
type Link interface {
	Handle(event string, fn channel.HandlerFunc)
	OnConnect(fn func())
	OnDisconnect(fn func())
	Emit(event string, payload any) error
}

// Adapter 读写器适配进程的核心：桥接硬件会话与中继通道。
// 所有命令处理对本地状态幂等，失败记日志不退出
type Adapter struct {
	readerServerID string
	address        string
	role           string
	timeout        time.Duration

	commands *protocol.CommandSet
	hw       Hardware
	link     Link
	kv       store.KV
	logger   *zap.Logger

	mu sync.Mutex // 串行化命令处理
}

// New 创建适配器
func New(readerServerID, address, role string, timeout time.Duration,
	commands *protocol.CommandSet, hw Hardware, link Link, kv store.KV, logger *zap.Logger) *Adapter {
	return &Adapter{
		readerServerID: readerServerID,
		address:        address,
		role:           role,
		timeout:        timeout,
		commands:       commands,
		hw:             hw,
		link:           link,
		kv:             kv,
		logger:         logger,
	}
}

// Start 复位本地状态并接线：进程重启后不允许残留“正在读”标志
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.kv.Set(ctx, keyReadingTags, "0", 0); err != nil {
		return err
	}
	details := a.loadDetails(ctx)
	details.ConnectionStatus = statusNotConnected
	if err := a.saveDetails(ctx, details); err != nil {
		return err
	}

	a.link.Handle(channel.EventCmdConnectReader, a.command(a.handleConnect))
	a.link.Handle(channel.EventCmdDisconnectReader, a.command(a.handleDisconnect))
	a.link.Handle(channel.EventCmdStartReadingTags, a.command(a.startReading(modeInventory)))
	a.link.Handle(channel.EventCmdStartMonitoring, a.command(a.startReading(modeMonitor)))
	a.link.Handle(channel.EventCmdStartDispatchReading, a.command(a.startReading(modeDispatch)))
	a.link.Handle(channel.EventCmdStopReadingTags, a.command(a.handleStop))

	a.link.OnConnect(a.announce)
	a.link.OnDisconnect(a.onChannelDown)
	a.hw.OnClose(a.onHardwareLost)
	return nil
}

const (
	statusConnected    = "connected"
	statusNotConnected = "not-connected"
)

// command 把事件载荷解包成命令载荷并串行执行
func (a *Adapter) command(fn func(ctx context.Context, cmd *channel.CommandPayload)) channel.HandlerFunc {
	return func(payload json.RawMessage) {
		var cmd channel.CommandPayload
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &cmd); err != nil {
				a.logger.Warn("bad command payload", zap.Error(err))
				return
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		a.mu.Lock()
		defer a.mu.Unlock()
		fn(ctx, &cmd)
	}
}

// announce 每次通道建立（含重连）后重报身份，顶替掉中继里的旧连接
func (a *Adapter) announce() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	details := a.loadDetails(ctx)
	err := a.link.Emit(channel.EventReaderServerConnected, &channel.AnnouncePayload{
		ReaderServerID:   a.readerServerID,
		Address:          a.address,
		Role:             a.role,
		ConnectionStatus: details.ConnectionStatus,
	})
	if err != nil {
		a.logger.Warn("identity announce failed", zap.Error(err))
	}
}

// onChannelDown 通道断开时如果还在流式读取，本地停掉
func (a *Adapter) onChannelDown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.hw.Streaming() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	a.setReadingFlag(ctx, false)
	if _, err := a.hw.StopStream(ctx, a.commands.StopInventory); err != nil {
		a.logger.Warn("local stop after channel loss", zap.Error(err))
	}
	a.logger.Info("reading stopped after relay channel loss")
}

// onHardwareLost 硬件连接意外断开：清标志、缓存翻成未连接并上报
func (a *Adapter) onHardwareLost() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	a.setReadingFlag(ctx, false)
	details := a.loadDetails(ctx)
	details.ConnectionStatus = statusNotConnected
	if err := a.saveDetails(ctx, details); err != nil {
		a.logger.Warn("details cache update failed", zap.Error(err))
	}
	if err := a.link.Emit(channel.EventReaderDisconnected, &channel.ReaderStatusPayload{
		ReaderDetails: details,
	}); err != nil {
		a.logger.Warn("hardware loss report failed", zap.Error(err))
	}
	a.logger.Warn("hardware connection lost")
}

// handleConnect 连接硬件并握手。已连接时直接用缓存详情应答
func (a *Adapter) handleConnect(ctx context.Context, cmd *channel.CommandPayload) {
	details := a.loadDetails(ctx)
	if details.ConnectionStatus == statusConnected && a.hw.State() == transport.StateOpen {
		a.emitStatus(channel.EventReaderConnected, details, cmd.UserID)
		return
	}

	if err := a.hw.Connect(ctx); err != nil {
		a.logger.Error("hardware connect failed", zap.Error(err))
		return
	}
	reply, err := a.hw.Send(ctx, a.commands.Handshake)
	if err != nil {
		a.logger.Error("handshake failed", zap.Error(err))
		return
	}
	parsed, err := protocol.ParseHandshakeReply(reply)
	if err != nil {
		a.logger.Error("handshake reply unreadable", zap.Error(err))
		return
	}

	details = &channel.ReaderDetails{
		ReaderServerID:   a.readerServerID,
		ReaderYearModel:  parsed.ReaderYearModel,
		SerialNumber:     parsed.SerialNumber,
		Address:          a.address,
		Role:             a.role,
		ConnectionStatus: statusConnected,
	}
	if err := a.saveDetails(ctx, details); err != nil {
		a.logger.Warn("details cache update failed", zap.Error(err))
	}
	a.emitStatus(channel.EventReaderConnected, details, cmd.UserID)
	a.logger.Info("hardware connected",
		zap.String("serial_number", details.SerialNumber),
		zap.Int64("year_model", details.ReaderYearModel))
}

// handleDisconnect 断开硬件。未连接时也用缓存详情应答，保持幂等
func (a *Adapter) handleDisconnect(ctx context.Context, cmd *channel.CommandPayload) {
	a.setReadingFlag(ctx, false)

	details := a.loadDetails(ctx)
	if details.ConnectionStatus == statusNotConnected && a.hw.State() != transport.StateOpen {
		a.emitStatus(channel.EventReaderDisconnected, details, cmd.UserID)
		return
	}

	if err := a.hw.Close(); err != nil {
		a.logger.Warn("hardware close failed", zap.Error(err))
	}
	details.ConnectionStatus = statusNotConnected
	if err := a.saveDetails(ctx, details); err != nil {
		a.logger.Warn("details cache update failed", zap.Error(err))
	}
	a.emitStatus(channel.EventReaderDisconnected, details, cmd.UserID)
	a.logger.Info("hardware disconnected")
}

// startReading 开始流式盘点。已在读时不再下发硬件命令
func (a *Adapter) startReading(mode readMode) func(ctx context.Context, cmd *channel.CommandPayload) {
	return func(ctx context.Context, cmd *channel.CommandPayload) {
		if a.readingFlag(ctx) {
			a.logger.Debug("already reading, command ignored")
			return
		}
		a.setReadingFlag(ctx, true)

		userID, socketID := cmd.UserID, cmd.SocketID
		err := a.hw.Stream(a.commands.StartInventory, func(chunk []byte) {
			a.onTagChunk(mode, userID, socketID, chunk)
		})
		if err != nil {
			a.setReadingFlag(ctx, false)
			a.logger.Error("start inventory failed", zap.Error(err))
			return
		}
		a.logger.Info("inventory started",
			zap.String("event", mode.event()),
			zap.String("user_id", userID))
	}
}

// onTagChunk 流回调：标志已清则丢弃（停止信号以本地标志为准）
func (a *Adapter) onTagChunk(mode readMode, userID, socketID string, chunk []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if !a.readingFlag(ctx) {
		return
	}
	tags := protocol.DecodeTagReads(chunk)
	if len(tags) == 0 {
		return
	}

	err := a.link.Emit(mode.event(), &channel.TagBatchPayload{
		Tags:          tags,
		UserID:        userID,
		SocketID:      socketID,
		ReaderDetails: a.loadDetails(ctx),
	})
	if err != nil {
		a.logger.Warn("tag batch emit failed", zap.Error(err))
	}
}

// handleStop 停止读取：先清标志再下发停止命令，硬件没应答也算停住
func (a *Adapter) handleStop(ctx context.Context, cmd *channel.CommandPayload) {
	a.setReadingFlag(ctx, false)

	if a.hw.Streaming() {
		if _, err := a.hw.StopStream(ctx, a.commands.StopInventory); err != nil {
			a.logger.Warn("stop inventory ack missing", zap.Error(err))
		}
	}

	if err := a.link.Emit(channel.EventTagsReadingStopped, cmd); err != nil {
		a.logger.Warn("stop confirmation emit failed", zap.Error(err))
	}
	a.logger.Info("inventory stopped", zap.String("user_id", cmd.UserID))
}

func (a *Adapter) emitStatus(event string, details *channel.ReaderDetails, userID string) {
	if err := a.link.Emit(event, &channel.ReaderStatusPayload{
		ReaderDetails: details,
		UserID:        userID,
	}); err != nil {
		a.logger.Warn("status emit failed", zap.String("event", event), zap.Error(err))
	}
}

func (a *Adapter) loadDetails(ctx context.Context) *channel.ReaderDetails {
	fallback := &channel.ReaderDetails{
		ReaderServerID:   a.readerServerID,
		Address:          a.address,
		Role:             a.role,
		ConnectionStatus: statusNotConnected,
	}
	raw, err := a.kv.Get(ctx, keyReaderDetails)
	if err != nil {
		return fallback
	}
	var details channel.ReaderDetails
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return fallback
	}
	return &details
}

func (a *Adapter) saveDetails(ctx context.Context, details *channel.ReaderDetails) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return a.kv.Set(ctx, keyReaderDetails, string(raw), 0)
}

func (a *Adapter) readingFlag(ctx context.Context) bool {
	raw, err := a.kv.Get(ctx, keyReadingTags)
	return err == nil && raw == "1"
}

func (a *Adapter) setReadingFlag(ctx context.Context, on bool) {
	val := "0"
	if on {
		val = "1"
	}
	if err := a.kv.Set(ctx, keyReadingTags, val, 0); err != nil {
		a.logger.Warn("reading flag update failed", zap.Error(err))
	}
}
