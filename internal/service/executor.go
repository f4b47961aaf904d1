package service

import (
	"context"
	"time"

	"github.com/QingMing-Bot/provision-check/internal/domain"
	"github.com/QingMing-Bot/provision-check/internal/ssh"
)

// Executor 抽象远程执行，真实实现为 ssh.Executor，测试使用 ssh.MockExecutor
type Executor interface {
	Execute(ctx context.Context, target domain.HostTarget, cmd string, opts ssh.ExecOptions) (domain.CommandResult, error)
}

var (
	_ Executor = (*ssh.Executor)(nil)
	_ Executor = (*ssh.MockExecutor)(nil)
)

// Sleeper 可替换的等待函数，ctx 取消时提前返回
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext 默认 Sleeper
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
