package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

// 进程退出码
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitNoExitStatus = 255
	ExitInterrupted  = 130
)

// ConvergenceTimeout 重启后在 MaxWait 内未能确认主机就绪
type ConvergenceTimeout struct {
	Host      string
	Elapsed   time.Duration
	LastState domain.ConvergenceState
}

func (e *ConvergenceTimeout) Error() string {
	return fmt.Sprintf("host %s did not converge within %s (last state: %s)", e.Host, e.Elapsed.Round(time.Second), e.LastState)
}

// UnexpectedExitCode 第 Run 次 agent 运行的退出码与约定不符
type UnexpectedExitCode struct {
	Run      int
	Expected int
	Actual   int
}

func (e *UnexpectedExitCode) Error() string {
	return fmt.Sprintf("agent run %d exited %d, expected %d", e.Run, e.Actual, e.Expected)
}

// NoExitStatusError 通道关闭前没有收到 exit-status
type NoExitStatusError struct {
	Host    string
	Command string
}

func (e *NoExitStatusError) Error() string {
	return fmt.Sprintf("[%s] '%s' finished without an exit status", e.Host, e.Command)
}

// ExitCodeOf 把运行错误映射为进程退出码
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	var unexpected *UnexpectedExitCode
	if errors.As(err, &unexpected) {
		return unexpected.Actual
	}
	var noStatus *NoExitStatusError
	if errors.As(err, &noStatus) {
		return ExitNoExitStatus
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	return ExitFailure
}
