package ssh

import (
	"errors"
	"fmt"
)

// ConnectionError 无法建立/认证连接、开通道时传输中断，或命令启动后连接丢失。
// 收敛轮询期间视为可重试，其它阶段为致命错误。
type ConnectionError struct {
	Addr    string
	Err     error
	// Started 为 true 表示命令已在远端启动后连接才断开
	Started bool
}

func (e *ConnectionError) Error() string {
	if e.Started {
		return fmt.Sprintf("connection to %s lost: %v", e.Addr, e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ChannelError 连接已建立但远端拒绝启动命令，总是致命。
type ChannelError struct {
	Addr    string
	Command string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel on %s refused %q: %v", e.Addr, e.Command, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsConnectionLost 命令已启动后连接断开（例如远端开始重启）
func IsConnectionLost(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Started
}

func IsChannelError(err error) bool {
	var ce *ChannelError
	return errors.As(err, &ce)
}
