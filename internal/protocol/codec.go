package protocol

import (
	"encoding/binary"
	"encoding/hex"
)

// FrameHeader 帧头哨兵字节，硬件每一帧都以它开始
const FrameHeader = 0xFF

// NoSignal RSSI 无信号哨兵值（比它更弱的读数直接丢弃）
const NoSignal = -210

// 标签元数据区的固定长度：
// readCount(1) + rssi(1) + antenna(1) + frequency(3) + timestamp(4) +
// tagDataLength(2) + epcLength(1) + pc(2) + epcId(12) + epcCrc(2)
const tagPayloadSize = 29

// TagRead 一次硬件标签观测，由 Codec 解码后不再修改。
// JSON 字段名与通道事件载荷保持一致（未迁移的对端仍按这些名字解包）。
type TagRead struct {
	ReadCount     int    `json:"readCount"`
	RSSIValue     int    `json:"rssiValue"`
	AntennaID     int    `json:"antennaId"`
	Frequency     int    `json:"frequency"`
	Timestamp     int64  `json:"timestamp"`
	TagDataLength int    `json:"tagdatalength"`
	EPCLength     int    `json:"epclength"`
	PC            int    `json:"pc"`
	EPCID         string `json:"epcId"`
	EPCCRC        string `json:"epcCrc"`
}

// SplitFrames 按帧头字节切分缓冲区。
// 每个 0xFF 开始一个候选帧，一直延伸到下一个 0xFF 或缓冲区末尾；
// 帧头之前的字节（上一次读取的残留）被丢弃。
func SplitFrames(buf []byte) [][]byte {
	var frames [][]byte
	start := -1

	for i := 0; i < len(buf); i++ {
		if buf[i] == FrameHeader {
			if start >= 0 {
				frames = append(frames, buf[start:i])
			}
			start = i
		}
	}
	if start >= 0 && start < len(buf) {
		frames = append(frames, buf[start:])
	}

	return frames
}

// DecodeTagReads 把一段字节流解码为标签观测列表。
// 残缺帧、EPC 为空或 EPC 长度为 0 的帧（硬件噪声）被静默丢弃，
// 下一次读取会在下一个帧头重新同步。
// 返回顺序为天线扫描顺序，不代表时间先后。
func DecodeTagReads(buf []byte) []TagRead {
	var tags []TagRead

	for _, frame := range SplitFrames(buf) {
		tag, ok := decodeFrame(frame)
		if !ok {
			continue
		}
		tags = append(tags, tag)
	}

	return tags
}

func decodeFrame(frame []byte) (TagRead, bool) {
	// 帧头(1) + 数据长度(1) + 命令码(1) + 状态(2) + 元数据标志(2)
	if len(frame) < 7 {
		return TagRead{}, false
	}

	length := int(frame[1])
	if length < tagPayloadSize || length > len(frame) {
		return TagRead{}, false
	}

	// 载荷从帧尾向前数 length 字节
	payload := frame[len(frame)-length:]

	offset := 0
	readCount := int(payload[offset])
	offset++

	// 硬件上报的是信号强度的原始幅值，取负后越小信号越弱
	rssi := -int(payload[offset])
	offset++

	antennaID := int(payload[offset])
	offset++

	frequency := int(payload[offset])<<16 | int(payload[offset+1])<<8 | int(payload[offset+2])
	offset += 3

	timestamp := int64(binary.BigEndian.Uint32(payload[offset : offset+4]))
	offset += 4

	tagDataLength := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
	offset += 2

	epcLength := int(payload[offset])
	offset++

	pc := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
	offset += 2

	epcID := hex.EncodeToString(payload[offset : offset+12])
	offset += 12

	epcCRC := hex.EncodeToString(payload[offset : offset+2])

	if epcID == "" || epcLength == 0 {
		return TagRead{}, false
	}

	return TagRead{
		ReadCount:     readCount,
		RSSIValue:     rssi,
		AntennaID:     antennaID,
		Frequency:     frequency,
		Timestamp:     timestamp,
		TagDataLength: tagDataLength,
		EPCLength:     epcLength,
		PC:            pc,
		EPCID:         epcID,
		EPCCRC:        epcCRC,
	}, true
}
