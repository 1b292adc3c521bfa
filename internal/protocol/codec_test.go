package protocol

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTagFrame 构造一个合法的异步盘点应答帧（载荷不含 0xFF）
func buildTagFrame(epc []byte, rssiMag byte, readCount byte, antennaID byte) []byte {
	payload := []byte{
		readCount,
		rssiMag,
		antennaID,
		0x0d, 0x3f, 0x5c, // frequency 868188 kHz
		0x00, 0x00, 0x12, 0x34, // timestamp
		0x00, 0x70, // tag data length
		0x60,       // epc length (96 bit)
		0x30, 0x00, // pc
	}
	payload = append(payload, epc...)
	payload = append(payload, 0x1a, 0x2b) // epc crc

	frame := []byte{FrameHeader, byte(len(payload)), 0xAA, 0x00, 0x00, 0x00, 0x9f}
	return append(frame, payload...)
}

var (
	epcA = []byte{0xe2, 0x00, 0x47, 0x01, 0x86, 0x30, 0x60, 0x22, 0x01, 0x23, 0x45, 0x67}
	epcB = []byte{0xe2, 0x00, 0x47, 0x01, 0x86, 0x30, 0x60, 0x22, 0x09, 0x87, 0x65, 0x43}
)

func TestDecodeTagReads_SingleFrame(t *testing.T) {
	buf := buildTagFrame(epcA, 0xc8, 3, 1) // 原始幅值 200 -> RSSI -200

	tags := DecodeTagReads(buf)
	require.Len(t, tags, 1)

	tag := tags[0]
	assert.Equal(t, hex.EncodeToString(epcA), tag.EPCID)
	assert.Equal(t, 3, tag.ReadCount)
	assert.Equal(t, -200, tag.RSSIValue)
	assert.Equal(t, 1, tag.AntennaID)
	assert.Equal(t, 868188, tag.Frequency)
	assert.Equal(t, int64(0x1234), tag.Timestamp)
	assert.Equal(t, 0x70, tag.TagDataLength)
	assert.Equal(t, 0x60, tag.EPCLength)
	assert.Equal(t, 0x3000, tag.PC)
	assert.Equal(t, "1a2b", tag.EPCCRC)
}

func TestDecodeTagReads_ConcatenatedFrames(t *testing.T) {
	var buf []byte
	buf = append(buf, buildTagFrame(epcA, 0xc8, 1, 1)...)
	buf = append(buf, buildTagFrame(epcB, 0xbe, 2, 2)...)
	buf = append(buf, buildTagFrame(epcA, 0xd2, 3, 1)...)

	tags := DecodeTagReads(buf)
	require.Len(t, tags, 3)

	// 解码顺序为扫描顺序
	assert.Equal(t, hex.EncodeToString(epcA), tags[0].EPCID)
	assert.Equal(t, hex.EncodeToString(epcB), tags[1].EPCID)
	assert.Equal(t, hex.EncodeToString(epcA), tags[2].EPCID)
	assert.Equal(t, -190, tags[1].RSSIValue)
}

func TestDecodeTagReads_EmptyBuffer(t *testing.T) {
	assert.Empty(t, DecodeTagReads(nil))
	assert.Empty(t, DecodeTagReads([]byte{}))
}

func TestDecodeTagReads_LeadingGarbageDropped(t *testing.T) {
	buf := append([]byte{0x01, 0x02, 0x03}, buildTagFrame(epcA, 0xc8, 1, 1)...)

	tags := DecodeTagReads(buf)
	require.Len(t, tags, 1)
	assert.Equal(t, hex.EncodeToString(epcA), tags[0].EPCID)
}

func TestDecodeTagReads_TruncatedTrailingFrameDropped(t *testing.T) {
	full := buildTagFrame(epcA, 0xc8, 1, 1)
	truncated := buildTagFrame(epcB, 0xc8, 1, 1)[:10]

	tags := DecodeTagReads(append(full, truncated...))
	require.Len(t, tags, 1)
	assert.Equal(t, hex.EncodeToString(epcA), tags[0].EPCID)
}

func TestDecodeTagReads_GarbageAfterHeaderIgnored(t *testing.T) {
	buf := append(buildTagFrame(epcA, 0xc8, 1, 1), FrameHeader, 0x02, 0x99)

	tags := DecodeTagReads(buf)
	require.Len(t, tags, 1)
}

func TestDecodeTagReads_ZeroEPCLengthExcluded(t *testing.T) {
	frame := buildTagFrame(epcA, 0xc8, 1, 1)
	// epc length 字段位于载荷第 12 字节（帧尾向前数 length 字节后偏移 12）
	frame[len(frame)-29+12] = 0

	assert.Empty(t, DecodeTagReads(frame))
}

func TestSplitFrames_ScanOrder(t *testing.T) {
	buf := []byte{0x00, FrameHeader, 0x01, 0x02, FrameHeader, 0x03}

	frames := SplitFrames(buf)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{FrameHeader, 0x01, 0x02}, frames[0])
	assert.Equal(t, []byte{FrameHeader, 0x03}, frames[1])
}

func TestSplitFrames_NoHeader(t *testing.T) {
	assert.Empty(t, SplitFrames([]byte{0x01, 0x02, 0x03}))
}
