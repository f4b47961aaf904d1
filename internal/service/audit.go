package service

import (
	"context"
	"time"

	"github.com/QingMing-Bot/provision-check/internal/domain"
	"github.com/QingMing-Bot/provision-check/internal/ssh"
)

// CommandObserver 接收每条远程命令的结果（用于指标）
type CommandObserver interface {
	ObserveCommand(res domain.CommandResult, err error)
}

// HistoryRecorder 历史写入端，*HistoryWriter 满足该接口
type HistoryRecorder interface {
	Write(domain.ExecHistory)
}

// AuditedExecutor 在执行器外层记录每条命令的历史与指标
type AuditedExecutor struct {
	next     Executor
	history  HistoryRecorder
	observer CommandObserver
	now      func() time.Time
}

func NewAuditedExecutor(next Executor, history HistoryRecorder, observer CommandObserver) *AuditedExecutor {
	return &AuditedExecutor{next: next, history: history, observer: observer, now: time.Now}
}

func (a *AuditedExecutor) Execute(ctx context.Context, target domain.HostTarget, cmd string, opts ssh.ExecOptions) (domain.CommandResult, error) {
	started := a.now()
	res, err := a.next.Execute(ctx, target, cmd, opts)
	finished := a.now()
	if a.history != nil {
		h := domain.ExecHistory{
			RunID:              RunIDFrom(ctx),
			Host:               target.Address,
			Command:            cmd,
			Stdout:             res.StdoutText(),
			Stderr:             res.StderrText(),
			ExitCode:           res.ExitCode,
			ExitStatusReceived: res.ExitStatusReceived,
			StartedAt:          started,
			FinishedAt:         finished,
			DurationMs:         finished.Sub(started).Milliseconds(),
		}
		if err != nil {
			h.ErrorText = err.Error()
		}
		a.history.Write(h)
	}
	if a.observer != nil {
		a.observer.ObserveCommand(res, err)
	}
	return res, err
}
