package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// CommandSet 厂商命令帧集合。
// 具体字节序列随读写器固件而变，从配置加载，这里只负责编解码。
type CommandSet struct {
	Handshake      []byte
	StartInventory []byte
	StopInventory  []byte
}

// ParseCommandSet 从十六进制字符串解析命令帧集合
func ParseCommandSet(handshakeHex, startHex, stopHex string) (*CommandSet, error) {
	handshake, err := hex.DecodeString(handshakeHex)
	if err != nil {
		return nil, fmt.Errorf("invalid handshake command: %w", err)
	}
	start, err := hex.DecodeString(startHex)
	if err != nil {
		return nil, fmt.Errorf("invalid start-inventory command: %w", err)
	}
	stop, err := hex.DecodeString(stopHex)
	if err != nil {
		return nil, fmt.Errorf("invalid stop-inventory command: %w", err)
	}
	return &CommandSet{
		Handshake:      handshake,
		StartInventory: start,
		StopInventory:  stop,
	}, nil
}

// AppendCRC 在命令帧尾部追加 CRC-16/CCITT 校验（高位在前）。
// 校验范围从数据长度字节开始，不含帧头。
func AppendCRC(frame []byte) []byte {
	crc := uint16(0xFFFF)
	for _, b := range frame[1:] {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return append(frame, byte(crc>>8), byte(crc))
}

// HandshakeReply 握手/状态查询应答
type HandshakeReply struct {
	ReaderYearModel int64
	SerialNumber    string
}

// ParseHandshakeReply 解析握手应答中的年份型号与序列号。
// 型号取应答第 5..9 字节、序列号取第 9..17 字节，按字节十进制值拼接，
// 与硬件随附工具的显示格式一致。
func ParseHandshakeReply(reply []byte) (HandshakeReply, error) {
	if len(reply) < 17 {
		return HandshakeReply{}, fmt.Errorf("handshake reply too short: %d bytes", len(reply))
	}

	var model strings.Builder
	for _, b := range reply[5:9] {
		model.WriteString(strconv.Itoa(int(b)))
	}
	var serial strings.Builder
	for _, b := range reply[9:17] {
		serial.WriteString(strconv.Itoa(int(b)))
	}

	yearModel, err := strconv.ParseInt(model.String(), 10, 64)
	if err != nil {
		yearModel = 0
	}

	return HandshakeReply{
		ReaderYearModel: yearModel,
		SerialNumber:    serial.String(),
	}, nil
}
