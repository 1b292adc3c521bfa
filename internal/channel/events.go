package channel

import (
	"encoding/json"
	"fmt"

	"wsm-rfid/internal/enrich"
	"wsm-rfid/internal/protocol"
)

// SchemaVersion 通道事件的契约版本，在边界处校验
const SchemaVersion = 1

// 事件名按方向命名空间划分，字符串必须与未迁移的对端逐字一致。
const (
	// reader → server
	EventReaderServerConnected     = "reader-to-server:reader-server-connected"
	EventReaderConnected           = "reader-to-server:reader-connected"
	EventReaderDisconnected        = "reader-to-server:reader-disconnected"
	EventTagsRead                  = "reader-to-server:tags-read"
	EventTagsMonitored             = "reader-to-server:tags-monitored"
	EventParcelTagsReadForDispatch = "reader-to-server:parcel-tags-read-for-dispatch"
	EventTagsReadingStopped        = "reader-to-server:tags-reading-stopped"

	// server → reader
	EventCmdConnectReader        = "server-to-reader:connect-reader"
	EventCmdDisconnectReader     = "server-to-reader:disconnect-reader"
	EventCmdStartReadingTags     = "server-to-reader:start-reading-tags"
	EventCmdStartMonitoring      = "server-to-reader:start-monitoring"
	EventCmdStartDispatchReading = "server-to-reader:start-reading-parcel-tags-for-dispatch"
	EventCmdStopReadingTags      = "server-to-reader:stop-reading-tags"

	// client → server
	EventClientConnectReader        = "client-to-server:connect-reader"
	EventClientDisconnectReader     = "client-to-server:disconnect-reader"
	EventClientStartReadingTags     = "client-to-server:start-reading-tags"
	EventClientStartMonitoring      = "client-to-server:start-monitoring"
	EventClientStartDispatchReading = "client-to-server:start-reading-parcel-tags-for-dispatch"
	EventClientStopReadingTags      = "client-to-server:stop-reading-tags"

	// server → client
	EventPushTagsRead            = "server-to-client:tags-read"
	EventPushTagsMonitored       = "server-to-client:tags-monitored"
	EventPushDispatchTagsRead    = "server-to-client:parcel-tags-read-for-dispatch"
	EventPushReaderConnected     = "server-to-client:reader-connected"
	EventPushReaderDisconnected  = "server-to-client:reader-disconnected"
	EventPushTagsReadingStopped  = "server-to-client:tags-reading-stopped"
)

var knownEvents = map[string]struct{}{
	EventReaderServerConnected:      {},
	EventReaderConnected:            {},
	EventReaderDisconnected:         {},
	EventTagsRead:                   {},
	EventTagsMonitored:              {},
	EventParcelTagsReadForDispatch:  {},
	EventTagsReadingStopped:         {},
	EventCmdConnectReader:           {},
	EventCmdDisconnectReader:        {},
	EventCmdStartReadingTags:        {},
	EventCmdStartMonitoring:         {},
	EventCmdStartDispatchReading:    {},
	EventCmdStopReadingTags:         {},
	EventClientConnectReader:        {},
	EventClientDisconnectReader:     {},
	EventClientStartReadingTags:     {},
	EventClientStartMonitoring:      {},
	EventClientStartDispatchReading: {},
	EventClientStopReadingTags:      {},
	EventPushTagsRead:               {},
	EventPushTagsMonitored:          {},
	EventPushDispatchTagsRead:       {},
	EventPushReaderConnected:        {},
	EventPushReaderDisconnected:     {},
	EventPushTagsReadingStopped:     {},
}

// Envelope 通道上的统一事件信封
type Envelope struct {
	V       int             `json:"v"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope 打包一个事件
func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{V: SchemaVersion, Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal payload for %s: %w", event, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Validate 在通道边界校验信封：版本匹配且事件名已知
func Validate(env *Envelope) error {
	if env.V != SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", env.V)
	}
	if _, ok := knownEvents[env.Event]; !ok {
		return fmt.Errorf("unknown event %q", env.Event)
	}
	return nil
}

// Decode 解出事件载荷
func (e *Envelope) Decode(into any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Event)
	}
	if err := json.Unmarshal(e.Payload, into); err != nil {
		return fmt.Errorf("decode payload of %s: %w", e.Event, err)
	}
	return nil
}

// ReaderDetails 适配进程侧的读写器详情（本地缓存与通道载荷共用）
type ReaderDetails struct {
	ReaderServerID   string `json:"readerServerId"`
	ReaderYearModel  int64  `json:"readerYearModel"`
	SerialNumber     string `json:"serialNumber"`
	Address          string `json:"address"`
	Role             string `json:"role"`
	ConnectionStatus string `json:"connectionStatus"`
}

// AnnouncePayload 适配进程每次建立通道后上报的身份
type AnnouncePayload struct {
	ReaderServerID   string `json:"readerServerId"`
	Address          string `json:"address"`
	Role             string `json:"role"`
	ConnectionStatus string `json:"connectionStatus"`
}

// ReaderStatusPayload 读写器连接/断开事件载荷
type ReaderStatusPayload struct {
	ReaderDetails *ReaderDetails `json:"readerDetails"`
	UserID        string         `json:"userId,omitempty"`
}

// TagBatchPayload 适配进程上报的一批标签观测
type TagBatchPayload struct {
	Tags          []protocol.TagRead `json:"tags"`
	UserID        string             `json:"userId"`
	SocketID      string             `json:"socketId"`
	ReaderDetails *ReaderDetails     `json:"readerDetails"`
}

// EnrichedTagBatchPayload 逐标签附上包裹快照后的批次，中继扇出给会话用
type EnrichedTagBatchPayload struct {
	Tags          []enrich.TagWithParcel `json:"tags"`
	UserID        string                 `json:"userId"`
	SocketID      string                 `json:"socketId"`
	ReaderDetails *ReaderDetails         `json:"readerDetails"`
}

// CommandPayload 中继转发给适配进程的命令载荷
type CommandPayload struct {
	UserID   string `json:"userId"`
	SocketID string `json:"socketId,omitempty"`
}

// ClientCommandPayload 浏览器会话发出的读写器命令
type ClientCommandPayload struct {
	ReaderRole string `json:"readerRole"`
}
