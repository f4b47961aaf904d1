package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/QingMing-Bot/provision-check/internal/domain"
	"github.com/QingMing-Bot/provision-check/internal/logging"
	"github.com/QingMing-Bot/provision-check/internal/ssh"
)

// RevertSource 提供还原参数与 agent 参数，*config.Model 满足该接口
type RevertSource interface {
	RevertSpec(domain.OSFamily) (domain.RevertSpec, error)
	AgentFlags() []string
}

// Waiter 等待重启收敛，*Poller 满足该接口
type Waiter interface {
	Wait(ctx context.Context, target domain.HostTarget) (domain.ConvergenceRecord, error)
}

// HostRecorder 运行开始后回写解析出的系统族
type HostRecorder interface {
	RecordRun(addr string, family domain.OSFamily, at time.Time) error
}

// AgentObserver 接收每次 agent 运行结果（用于指标）
type AgentObserver interface {
	ObserveAgentRun(rec domain.AgentRunRecord, res domain.CommandResult)
}

type OrchestratorConfig struct {
	TopN           int
	ProbeTimeout   time.Duration // uname / 重启下发
	CommandTimeout time.Duration // 停止 agent / rsync / agent 运行，0 不限制
	Cycles         int           // 还原+重启的轮数
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{TopN: 5, ProbeTimeout: 10 * time.Second, Cycles: 2}
}

// Orchestrator 针对单台主机串行执行：解析系统 -> (还原 -> 重启 -> 等待) x2 -> 三次 agent 运行
type Orchestrator struct {
	exec     Executor
	waiter   Waiter
	model    RevertSource
	hosts    HostRecorder
	observer AgentObserver
	cfg      OrchestratorConfig
	out      io.Writer
	errOut   io.Writer
	now      func() time.Time
	log      logging.Logger
}

type OrchestratorOption func(*Orchestrator)

// WithReportOutput 设置最慢资源与错误输出的去向（默认 os.Stdout / os.Stderr）
func WithReportOutput(out, errOut io.Writer) OrchestratorOption {
	return func(o *Orchestrator) { o.out, o.errOut = out, errOut }
}

func WithHostRecorder(h HostRecorder) OrchestratorOption {
	return func(o *Orchestrator) { o.hosts = h }
}

func WithAgentObserver(a AgentObserver) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = a }
}

func WithNow(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(exec Executor, waiter Waiter, model RevertSource, cfg OrchestratorConfig, opts ...OrchestratorOption) *Orchestrator {
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	if cfg.Cycles <= 0 {
		cfg.Cycles = 2
	}
	o := &Orchestrator{
		exec:   exec,
		waiter: waiter,
		model:  model,
		cfg:    cfg,
		out:    os.Stdout,
		errOut: os.Stderr,
		now:    time.Now,
		log:    logging.New("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run 执行完整流程。返回的报告总是有效的，ExitCode 即进程退出码：
// 第 1、2 次 agent 运行退出码不符时立即中止；第 3 次不符时流程完成但以该退出码结束。
func (o *Orchestrator) Run(ctx context.Context, target domain.HostTarget) (domain.RunReport, error) {
	started := o.now()
	report := domain.RunReport{RunID: RunIDFrom(ctx), Host: target.Address, StartedAt: started}
	if report.RunID == "" {
		report.RunID = NewRunID(started)
		ctx = WithRunID(ctx, report.RunID)
	}
	log := o.log.WithFields(logrus.Fields{"host": target.Address, "run": report.RunID})

	err := o.run(ctx, log, &target, &report)
	report.FinishedAt = o.now()
	report.ExitCode = ExitCodeOf(err)
	if err != nil {
		report.Error = err.Error()
		log.WithError(err).WithField("exit", report.ExitCode).Error("run failed")
	} else {
		log.Info("run completed")
	}
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, log logrus.FieldLogger, target *domain.HostTarget, report *domain.RunReport) error {
	family, err := o.resolveOS(ctx, *target)
	if err != nil {
		return err
	}
	*target = target.WithOS(family)
	report.OSFamily = family
	log = log.WithField("os", family.String())
	log.Info("resolved os family")
	if o.hosts != nil {
		if err := o.hosts.RecordRun(target.Address, family, report.StartedAt); err != nil {
			log.WithError(err).Warn("unable to record host")
		}
	}

	spec, err := o.model.RevertSpec(family)
	if err != nil {
		return err
	}
	rebootCmd, err := RebootCommand(family)
	if err != nil {
		return err
	}

	for cycle := 1; cycle <= o.cfg.Cycles; cycle++ {
		log.WithField("cycle", cycle).Info("reverting filesystem")
		if err := o.revert(ctx, *target, spec); err != nil {
			return errors.WithMessagef(err, "cycle %d revert", cycle)
		}
		log.WithField("cycle", cycle).Info("rebooting")
		if err := o.reboot(ctx, *target, rebootCmd); err != nil {
			return errors.WithMessagef(err, "cycle %d reboot", cycle)
		}
		rec, err := o.waiter.Wait(ctx, *target)
		rec.Cycle = cycle
		report.Convergences = append(report.Convergences, rec)
		if err != nil {
			return errors.WithMessagef(err, "cycle %d convergence", cycle)
		}
	}

	agentCmd := AgentRunCommand(o.model.AgentFlags())
	var final error
	for i, expected := range ExpectedAgentCodes {
		run := i + 1
		rec, res, err := o.agentRun(ctx, *target, agentCmd, run, expected)
		if err != nil {
			return err
		}
		report.AgentRuns = append(report.AgentRuns, rec)
		if o.observer != nil {
			o.observer.ObserveAgentRun(rec, res)
		}
		PrintSlowest(o.out, run, rec.Slowest)

		if !res.ExitStatusReceived {
			o.printStderr(res)
			return &NoExitStatusError{Host: target.Address, Command: agentCmd}
		}
		if !rec.OK() {
			o.printStderr(res)
			final = &UnexpectedExitCode{Run: run, Expected: expected, Actual: res.ExitCode}
			if run < len(ExpectedAgentCodes) {
				return final
			}
			log.WithError(final).Warn("final agent run did not converge cleanly")
		}
	}
	report.Completed = true
	return final
}

func (o *Orchestrator) resolveOS(ctx context.Context, target domain.HostTarget) (domain.OSFamily, error) {
	res, err := o.exec.Execute(ctx, target, OSProbeCommand, ssh.ExecOptions{CaptureStderr: true, Timeout: o.cfg.ProbeTimeout})
	if err != nil {
		return domain.OSUnknown, errors.WithMessage(err, "resolve os")
	}
	if !res.ExitStatusReceived {
		return domain.OSUnknown, &NoExitStatusError{Host: target.Address, Command: OSProbeCommand}
	}
	if res.ExitCode != 0 {
		return domain.OSUnknown, errors.Errorf("resolve os: '%s' exited %d", OSProbeCommand, res.ExitCode)
	}
	return domain.ParseOSFamily(res.StdoutText())
}

// revert 先停止 agent，再以 rsync 还原文件系统
func (o *Orchestrator) revert(ctx context.Context, target domain.HostTarget, spec domain.RevertSpec) error {
	opts := ssh.ExecOptions{CaptureStderr: true, Timeout: o.cfg.CommandTimeout}
	res, err := o.exec.Execute(ctx, target, StopAgentCommand, opts)
	if err != nil {
		return errors.WithMessage(err, "stop agent")
	}
	if res.ExitCode != 0 {
		// 服务不存在等情况下 puppet apply 也会失败，还原会覆盖它
		o.log.WithField("host", target.Address).Warnf("stop agent exited %d", res.ExitCode)
	}

	cmd := RevertCommand(spec)
	res, err = o.exec.Execute(ctx, target, cmd, opts)
	if err != nil {
		return errors.WithMessage(err, "rsync")
	}
	switch {
	case !res.ExitStatusReceived:
		return &NoExitStatusError{Host: target.Address, Command: cmd}
	case res.ExitCode == rsyncPartialTransfer:
		o.log.WithField("host", target.Address).Warn("rsync reported vanished source files")
	case res.ExitCode != 0:
		o.printStderr(res)
		return errors.Errorf("rsync exited %d", res.ExitCode)
	}
	return nil
}

// reboot 下发重启；命令开始后连接被切断属于正常情况，
// 开始前的连接失败（拨号、握手、开通道）仍然是错误
func (o *Orchestrator) reboot(ctx context.Context, target domain.HostTarget, cmd string) error {
	res, err := o.exec.Execute(ctx, target, cmd, ssh.ExecOptions{CaptureStderr: true, Timeout: o.cfg.ProbeTimeout})
	if err != nil {
		if ssh.IsConnectionLost(err) && ctx.Err() == nil {
			o.log.WithError(err).WithField("host", target.Address).Debug("connection dropped by reboot")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if res.ExitStatusReceived && res.ExitCode != 0 {
		o.printStderr(res)
		return errors.Errorf("'%s' exited %d", cmd, res.ExitCode)
	}
	return nil
}

func (o *Orchestrator) agentRun(ctx context.Context, target domain.HostTarget, cmd string, run, expected int) (domain.AgentRunRecord, domain.CommandResult, error) {
	o.log.WithFields(logrus.Fields{"host": target.Address, "run": run}).Info("starting agent run")
	res, err := o.exec.Execute(ctx, target, cmd, ssh.ExecOptions{CaptureStdout: true, Profile: true, Timeout: o.cfg.CommandTimeout})
	if err != nil {
		return domain.AgentRunRecord{}, res, errors.WithMessagef(err, "agent run %d", run)
	}
	rec := domain.AgentRunRecord{
		Run:          run,
		ExpectedCode: expected,
		ExitCode:     res.ExitCode,
		Slowest:      SlowestResources(res, o.cfg.TopN),
		Resources:    len(res.Metrics),
		DurationMs:   res.Duration.Milliseconds(),
	}
	if !res.ExitStatusReceived {
		rec.ExitCode = ExitNoExitStatus
	}
	return rec, res, nil
}

func (o *Orchestrator) printStderr(res domain.CommandResult) {
	text := res.StderrText()
	if strings.TrimSpace(text) == "" {
		return
	}
	fmt.Fprintf(o.errOut, "--- stderr of '%s' ---\n%s", res.Command, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(o.errOut)
	}
}
