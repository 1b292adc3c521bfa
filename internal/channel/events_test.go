package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsm-rfid/internal/protocol"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	payload := TagBatchPayload{
		Tags: []protocol.TagRead{
			{EPCID: "e20047018630602201234567", RSSIValue: -180, ReadCount: 2},
		},
		UserID:   "u-1",
		SocketID: "sess-1",
		ReaderDetails: &ReaderDetails{
			ReaderServerID:   "srv-1",
			Role:             "Writer",
			ConnectionStatus: "connected",
		},
	}

	env, err := NewEnvelope(EventParcelTagsReadForDispatch, payload)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, env.V)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NoError(t, Validate(&decoded))

	var got TagBatchPayload
	require.NoError(t, decoded.Decode(&got))
	assert.Equal(t, payload.UserID, got.UserID)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "e20047018630602201234567", got.Tags[0].EPCID)
	assert.Equal(t, -180, got.Tags[0].RSSIValue)
}

func TestEnvelope_WireFieldNamesPreserved(t *testing.T) {
	// 未迁移的对端按这些字段名解包，序列化结果必须逐字一致
	env, err := NewEnvelope(EventTagsRead, TagBatchPayload{
		Tags: []protocol.TagRead{{EPCID: "aa", EPCLength: 0x60, TagDataLength: 0x70}},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, `"event":"reader-to-server:tags-read"`)
	assert.Contains(t, s, `"epcId"`)
	assert.Contains(t, s, `"epclength"`)
	assert.Contains(t, s, `"tagdatalength"`)
	assert.Contains(t, s, `"rssiValue"`)
}

func TestValidate_UnknownEvent(t *testing.T) {
	env := &Envelope{V: SchemaVersion, Event: "server-to-client:unheard-of"}
	assert.Error(t, Validate(env))
}

func TestValidate_VersionMismatch(t *testing.T) {
	env := &Envelope{V: 99, Event: EventTagsRead}
	assert.Error(t, Validate(env))
}

func TestDecode_MissingPayload(t *testing.T) {
	env := &Envelope{V: SchemaVersion, Event: EventTagsRead}
	var got TagBatchPayload
	assert.Error(t, env.Decode(&got))
}
