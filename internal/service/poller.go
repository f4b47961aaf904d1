package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/QingMing-Bot/provision-check/internal/domain"
	"github.com/QingMing-Bot/provision-check/internal/logging"
	"github.com/QingMing-Bot/provision-check/internal/ssh"
)

// PollerConfig 重启等待参数
type PollerConfig struct {
	GraceDelay   time.Duration // 下发重启后的固定等待
	ProbeTimeout time.Duration // 单次探测超时
	Interval     time.Duration // 两次探测之间的间隔
	MaxWait      time.Duration // 从首次探测起的最长等待，0 不限制
}

func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		GraceDelay:   30 * time.Second,
		ProbeTimeout: 10 * time.Second,
		Interval:     10 * time.Second,
		MaxWait:      30 * time.Minute,
	}
}

// ProbeObserver 接收每次探测的结果（用于指标）
type ProbeObserver interface {
	ObserveProbe(probe string, outcome string)
	ObserveConvergence(rec domain.ConvergenceRecord)
}

type pollStage int

const (
	stageReachability pollStage = iota
	stageRunlevel
)

// Poller 等待一次重启完成：
// AwaitingDisconnect -> ProbingReachability -> ProbingRunlevel -> Ready。
// 只有 ssh.ConnectionError 会被重试，其余错误立即返回。
type Poller struct {
	exec     Executor
	cfg      PollerConfig
	sleep    Sleeper
	clock    backoff.Clock
	observer ProbeObserver
	log      logging.Logger
}

type PollerOption func(*Poller)

func WithSleeper(s Sleeper) PollerOption { return func(p *Poller) { p.sleep = s } }

func WithClock(c backoff.Clock) PollerOption { return func(p *Poller) { p.clock = c } }

func WithProbeObserver(o ProbeObserver) PollerOption { return func(p *Poller) { p.observer = o } }

func NewPoller(exec Executor, cfg PollerConfig, opts ...PollerOption) *Poller {
	p := &Poller{
		exec:  exec,
		cfg:   cfg,
		sleep: SleepContext,
		clock: backoff.SystemClock,
		log:   logging.New("poller"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Poller) policy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.Interval
	b.MaxInterval = p.cfg.Interval
	b.Multiplier = 1
	b.RandomizationFactor = 0
	b.MaxElapsedTime = p.cfg.MaxWait
	b.Clock = p.clock
	b.Reset()
	return b
}

func (p *Poller) probe(ctx context.Context, target domain.HostTarget, cmd string) (domain.CommandResult, error) {
	return p.exec.Execute(ctx, target, cmd, ssh.ExecOptions{Timeout: p.cfg.ProbeTimeout})
}

func (p *Poller) observe(probe, outcome string) {
	if p.observer != nil {
		p.observer.ObserveProbe(probe, outcome)
	}
}

// Wait 阻塞直到主机以非重启运行级别重新上线
func (p *Poller) Wait(ctx context.Context, target domain.HostTarget) (domain.ConvergenceRecord, error) {
	rec := domain.ConvergenceRecord{State: domain.StateAwaitingDisconnect, StartedAt: p.clock.Now()}
	log := p.log.WithField("host", target.Address)
	finish := func(err error) (domain.ConvergenceRecord, error) {
		rec.FinishedAt = p.clock.Now()
		if p.observer != nil {
			p.observer.ObserveConvergence(rec)
		}
		return rec, err
	}

	log.WithField("grace", p.cfg.GraceDelay).Info("waiting for host to go down")
	if err := p.sleep(ctx, p.cfg.GraceDelay); err != nil {
		return finish(err)
	}

	b := p.policy()
	stage := stageReachability
	for {
		if stage == stageReachability {
			rec.Probes++
			_, err := p.probe(ctx, target, ReachabilityProbe)
			switch {
			case err == nil:
				p.observe("reachability", "ok")
				stage = stageRunlevel
			case ssh.IsConnectionError(err) && ctx.Err() == nil:
				p.observe("reachability", "unreachable")
				rec.State = domain.StateUnreachable
				log.WithError(err).Debug("host not reachable yet")
			default:
				p.observe("reachability", "error")
				return finish(p.abort(ctx, err, "reachability probe"))
			}
		}

		if stage == stageRunlevel {
			rec.Probes++
			res, err := p.probe(ctx, target, RunlevelProbe)
			switch {
			case err == nil:
				level, perr := ParseRunlevel(res.StdoutText())
				if perr == nil && level != RebootRunlevel {
					p.observe("runlevel", "ready")
					rec.State = domain.StateReady
					rec.FinalRunlevel = level
					log.WithFields(logrus.Fields{"runlevel": level, "retries": rec.Retries}).Info("host is ready")
					return finish(nil)
				}
				p.observe("runlevel", "rebooting")
				rec.State = domain.StateRebooting
				if perr != nil {
					log.WithError(perr).Debug("runlevel not readable yet")
				} else {
					log.Debug("host still in runlevel 6")
				}
			case ssh.IsConnectionError(err) && ctx.Err() == nil:
				p.observe("runlevel", "unreachable")
				rec.State = domain.StateUnreachable
				log.WithError(err).Debug("runlevel probe lost connection")
			default:
				p.observe("runlevel", "error")
				return finish(p.abort(ctx, err, "runlevel probe"))
			}
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			return finish(&ConvergenceTimeout{Host: target.Address, Elapsed: b.GetElapsedTime(), LastState: rec.State})
		}
		rec.Retries++
		if err := p.sleep(ctx, next); err != nil {
			return finish(err)
		}
	}
}

// abort 取消优先于探测错误本身
func (p *Poller) abort(ctx context.Context, err error, stage string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.WithMessage(err, stage)
}
