package channel

import "errors"

// ErrChannelDown 通道当前未连接
var ErrChannelDown = errors.New("relay channel not connected")
