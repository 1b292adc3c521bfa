package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 会话状态机：Idle → Connecting → Open → Closed。
// Closed 在任意状态下可达（错误/超时/显式关闭），之后允许重新 Connect。
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrNotConnected = errors.New("session not connected")
	ErrBusy         = errors.New("command already in flight")
	ErrTimeout      = errors.New("command timed out")
	ErrClosed       = errors.New("session closed")
)

// DialFunc 建立到硬件的流式连接
type DialFunc func(ctx context.Context) (net.Conn, error)

// StreamFunc 流模式回调，每个解出的帧批次调用一次
type StreamFunc func(chunk []byte)

// streamBuffer 流回调缓冲大小，写满时丢最旧的批次（硬件本就不保证送达）
const streamBuffer = 64

// Session 持有到一台物理读写器的连接。
// 命令严格串行：单应答模式与流模式互斥，并发 Connect 合并到在途的那一次，
// 连接进行中的保护状态由会话自身持有，不允许任何包级共享变量。
type Session struct {
	dial    DialFunc
	timeout time.Duration
	logger  *zap.Logger

	mu          sync.Mutex
	state       State
	conn        net.Conn
	connectDone chan struct{}
	done        chan struct{}

	waiting bool
	pending chan []byte

	streaming bool
	streamFn  StreamFunc
	streamCh  chan []byte

	onClose func()
}

// New 创建到指定 TCP 地址的会话
func New(addr string, timeout time.Duration, logger *zap.Logger) *Session {
	return NewWithDialer(func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		return d.DialContext(ctx, "tcp", addr)
	}, timeout, logger)
}

// NewWithDialer 使用自定义拨号函数创建会话（测试用 net.Pipe 注入）
func NewWithDialer(dial DialFunc, timeout time.Duration, logger *zap.Logger) *Session {
	return &Session{
		dial:    dial,
		timeout: timeout,
		logger:  logger,
		state:   StateIdle,
	}
}

// OnClose 注册非预期关闭（断电、拔线、读错误）的钩子；显式 Close 不触发
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

// State 当前会话状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Streaming 是否有活跃的流注册
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Connect 建立连接。幂等：已连接直接返回；
// 已有在途的连接尝试时等待其结果而不是再开一条物理连接。
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateOpen:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		waitCh := s.connectDone
		s.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			return ctx.Err()
		}
		if s.State() == StateOpen {
			return nil
		}
		return ErrNotConnected
	}

	s.state = StateConnecting
	s.connectDone = make(chan struct{})
	s.mu.Unlock()

	conn, err := s.dial(ctx)

	s.mu.Lock()
	// 无论成败都要清掉 Connecting 状态，后续重试才有机会
	close(s.connectDone)
	if err != nil {
		s.state = StateIdle
		s.mu.Unlock()
		return fmt.Errorf("dial reader: %w", err)
	}
	s.conn = conn
	s.state = StateOpen
	s.done = make(chan struct{})
	s.streamCh = make(chan []byte, streamBuffer)
	streamCh := s.streamCh
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.streamLoop(streamCh)

	return nil
}

// Send 单应答模式：写出命令帧并等待恰好一个应答帧或超时
func (s *Session) Send(ctx context.Context, frame []byte) ([]byte, error) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	if s.waiting {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	pending := make(chan []byte, 1)
	s.pending = pending
	s.waiting = true
	conn := s.conn
	done := s.done
	s.mu.Unlock()

	if _, err := conn.Write(frame); err != nil {
		s.clearPending()
		return nil, fmt.Errorf("write command: %w", err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case reply := <-pending:
		return reply, nil
	case <-timer.C:
		s.clearPending()
		return nil, ErrTimeout
	case <-ctx.Done():
		s.clearPending()
		return nil, ctx.Err()
	case <-done:
		return nil, ErrClosed
	}
}

// Stream 流模式：写出命令帧后持续把后续帧批次交给回调，直到停止或连接关闭。
// 已有活跃流注册时不再下发第二条硬件命令，直接返回。
func (s *Session) Stream(frame []byte, cb StreamFunc) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.streaming {
		s.mu.Unlock()
		return nil
	}
	s.streaming = true
	s.streamFn = cb
	conn := s.conn
	s.mu.Unlock()

	if _, err := conn.Write(frame); err != nil {
		s.mu.Lock()
		s.streaming = false
		s.streamFn = nil
		s.mu.Unlock()
		return fmt.Errorf("write stream command: %w", err)
	}
	return nil
}

// StopStream 先在本地撤掉流注册（即使停止命令的应答丢失也已生效），
// 再以单应答模式下发停止命令。未在流模式时为空操作。
func (s *Session) StopStream(ctx context.Context, frame []byte) ([]byte, error) {
	s.mu.Lock()
	wasStreaming := s.streaming
	s.streaming = false
	s.streamFn = nil
	s.mu.Unlock()

	if !wasStreaming {
		return nil, nil
	}
	return s.Send(ctx, frame)
}

// Close 显式关闭连接
func (s *Session) Close() error {
	s.shutdown(nil)
	return nil
}

func (s *Session) clearPending() {
	s.mu.Lock()
	s.waiting = false
	s.pending = nil
	s.mu.Unlock()
}

func (s *Session) readLoop(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			s.shutdown(err)
			return
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		s.dispatch(chunk)
	}
}

// dispatch 把入站字节交给单应答等待方或流缓冲，绝不阻塞读循环
func (s *Session) dispatch(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiting {
		s.waiting = false
		s.pending <- chunk
		s.pending = nil
		return
	}

	if !s.streaming || s.streamCh == nil {
		return
	}
	select {
	case s.streamCh <- chunk:
	default:
		// 回调消费不过来，丢掉最旧的一批
		select {
		case <-s.streamCh:
		default:
		}
		select {
		case s.streamCh <- chunk:
		default:
		}
		s.logger.Warn("stream buffer full, dropping oldest batch")
	}
}

func (s *Session) streamLoop(ch chan []byte) {
	for chunk := range ch {
		s.mu.Lock()
		fn := s.streamFn
		s.mu.Unlock()
		if fn != nil {
			fn(chunk)
		}
	}
}

func (s *Session) shutdown(cause error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.waiting = false
	s.pending = nil
	s.streaming = false
	s.streamFn = nil
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.streamCh != nil {
		close(s.streamCh)
		s.streamCh = nil
	}
	onClose := s.onClose
	s.mu.Unlock()

	if cause == nil {
		s.logger.Info("reader connection closed")
		return
	}
	if !errors.Is(cause, io.EOF) && !errors.Is(cause, net.ErrClosed) {
		s.logger.Warn("reader connection lost", zap.Error(cause))
	} else {
		s.logger.Info("reader connection closed")
	}

	// 主动 Close 不触发回调，回调只服务于意外掉线时的善后
	if onClose != nil {
		onClose()
	}
}
