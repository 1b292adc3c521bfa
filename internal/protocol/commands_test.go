package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	handshakeHex = "ff02100000"
	startHex     = "ff13aa4d6f64756c6574656368aa48009f00800011bb0b22"
	stopHex      = "ff0eaa4d6f64756c6574656368aa49f3bb0391"
)

func TestParseCommandSet(t *testing.T) {
	cmds, err := ParseCommandSet(handshakeHex, startHex, stopHex)
	require.NoError(t, err)

	assert.Equal(t, []byte{0xff, 0x02, 0x10, 0x00, 0x00}, cmds.Handshake)

	// 停止异步盘点命令逐字节核对（厂商手册 5.5.3）
	expectedStop := []byte{
		0xff, 0x0e, 0xaa,
		0x4d, 0x6f, 0x64, 0x75, 0x6c, 0x65, 0x74, 0x65, 0x63, 0x68,
		0xaa, 0x49,
		0xf3, 0xbb,
		0x03, 0x91,
	}
	assert.Equal(t, expectedStop, cmds.StopInventory)

	assert.Equal(t, byte(FrameHeader), cmds.StartInventory[0])
	assert.Len(t, cmds.StartInventory, 24)
}

func TestParseCommandSet_InvalidHex(t *testing.T) {
	_, err := ParseCommandSet("zz", startHex, stopHex)
	assert.Error(t, err)

	_, err = ParseCommandSet(handshakeHex, "0g", stopHex)
	assert.Error(t, err)

	_, err = ParseCommandSet(handshakeHex, startHex, "f")
	assert.Error(t, err)
}

func TestAppendCRC_Deterministic(t *testing.T) {
	frame := []byte{0xff, 0x02, 0x10, 0x00, 0x00}

	withCRC := AppendCRC(append([]byte(nil), frame...))
	require.Len(t, withCRC, len(frame)+2)
	assert.Equal(t, frame, withCRC[:len(frame)])

	again := AppendCRC(append([]byte(nil), frame...))
	assert.Equal(t, withCRC, again)

	// CRC 随内容变化
	other := AppendCRC([]byte{0xff, 0x02, 0x10, 0x00, 0x01})
	assert.NotEqual(t, withCRC[len(frame):], other[len(frame):])
}

func TestParseHandshakeReply(t *testing.T) {
	// 帧头(1) + 长度(1) + 命令码(1) + 状态(2) + 型号(4) + 序列号(8)
	reply := []byte{
		0xff, 0x0c, 0x10, 0x00, 0x00,
		20, 24, 1, 2, // -> 202412
		1, 2, 3, 4, 5, 6, 7, 8, // -> 12345678
	}

	parsed, err := ParseHandshakeReply(reply)
	require.NoError(t, err)
	assert.Equal(t, int64(202412), parsed.ReaderYearModel)
	assert.Equal(t, "12345678", parsed.SerialNumber)
}

func TestParseHandshakeReply_TooShort(t *testing.T) {
	_, err := ParseHandshakeReply([]byte{0xff, 0x02})
	assert.Error(t, err)
}
