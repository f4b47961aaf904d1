package ssh

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	gssh "golang.org/x/crypto/ssh"

	"github.com/QingMing-Bot/provision-check/internal/domain"
	"github.com/QingMing-Bot/provision-check/internal/logging"
)

const DefaultConnectTimeout = 10 * time.Second

// ExecOptions 单次执行参数
type ExecOptions struct {
	CaptureStdout bool          // 实时镜像 stdout 到本地
	CaptureStderr bool          // 实时镜像 stderr 到本地
	Timeout       time.Duration // <=0 表示只受 ctx 约束
	Profile       bool          // 提取 "Evaluated in" 耗时
}

// AuthSource 为目标主机提供认证方式（见 pkg/secret）
type AuthSource interface {
	AuthMethods(target domain.HostTarget) ([]gssh.AuthMethod, error)
}

// StaticAuth 固定的认证方式列表
type StaticAuth []gssh.AuthMethod

func (s StaticAuth) AuthMethods(domain.HostTarget) ([]gssh.AuthMethod, error) { return s, nil }

// Executor 每次调用建立一条新连接并只开一个通道，不做连接复用：
// 同一主机在重启前后处于不同生命周期阶段，旧连接不可信。
type Executor struct {
	auth           AuthSource
	connectTimeout time.Duration
	stdout         io.Writer
	stderr         io.Writer
	log            logging.Logger
}

type Option func(*Executor)

func WithConnectTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.connectTimeout = d
		}
	}
}

// WithOutput 设置实时镜像的本地输出
func WithOutput(stdout, stderr io.Writer) Option {
	return func(e *Executor) { e.stdout, e.stderr = stdout, stderr }
}

func WithLogger(l logging.Logger) Option {
	return func(e *Executor) { e.log = l }
}

func NewExecutor(auth AuthSource, opts ...Option) *Executor {
	e := &Executor{
		auth:           auth,
		connectTimeout: DefaultConnectTimeout,
		stdout:         os.Stdout,
		stderr:         os.Stderr,
		log:            logging.New("ssh"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute 执行单条命令，阻塞直到通道关闭或超时。
func (e *Executor) Execute(ctx context.Context, target domain.HostTarget, cmd string, opts ExecOptions) (domain.CommandResult, error) {
	res := domain.CommandResult{Command: cmd}
	if target.Address == "" {
		return res, errors.New("target address empty")
	}
	if cmd == "" {
		return res, errors.New("cmd empty")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	start := time.Now()
	addr := target.Addr()

	client, err := e.dial(ctx, target)
	if err != nil {
		return res, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return res, openError(addr, cmd, err)
	}
	defer session.Close()
	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return res, &ChannelError{Addr: addr, Command: cmd, Err: err}
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return res, &ChannelError{Addr: addr, Command: cmd, Err: err}
	}
	if err = session.Start(cmd); err != nil {
		return res, openError(addr, cmd, err)
	}

	d := newDemux(&res, opts, e.stdout, e.stderr)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); pump(stdoutPipe, false, d) }()
	go func() { defer wg.Done(); pump(stderrPipe, true, d) }()

	waitCh := make(chan error, 1)
	go func() {
		wg.Wait()
		waitCh <- session.Wait()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		// 关闭底层连接以中断读取
		_ = client.Close()
		<-waitCh
		d.finish()
		res.Duration = time.Since(start)
		return res, &ConnectionError{Addr: addr, Err: ctx.Err(), Started: true}
	case runErr = <-waitCh:
	}
	d.finish()
	res.Duration = time.Since(start)

	var exitErr *gssh.ExitError
	var missing *gssh.ExitMissingError
	switch {
	case runErr == nil:
		res.ExitStatusReceived = true
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
		res.ExitStatusReceived = true
	case errors.As(runErr, &missing):
		// 默认值 0 并不代表成功，由调用方判断
		e.log.WithField("host", addr).Warnf("'%s' closed without exit status", cmd)
	default:
		// 命令执行中连接断开（例如重启）
		return res, &ConnectionError{Addr: addr, Err: runErr, Started: true}
	}

	e.log.WithField("host", addr).Infof("'%s' exited %d", cmd, res.ExitCode)
	return res, nil
}

// openError 区分远端明确拒绝与打开通道过程中连接断开：
// 只有 OpenChannelError 或 exec 请求被拒绝才是 ChannelError
func openError(addr, cmd string, err error) error {
	var refused *gssh.OpenChannelError
	if errors.As(err, &refused) || strings.HasPrefix(err.Error(), "ssh: command ") {
		return &ChannelError{Addr: addr, Command: cmd, Err: err}
	}
	return &ConnectionError{Addr: addr, Err: err}
}

// dial 建立连接并完成握手；握手受 ctx 截止时间和 connectTimeout 双重约束
func (e *Executor) dial(ctx context.Context, target domain.HostTarget) (*gssh.Client, error) {
	addr := target.Addr()
	if e.auth == nil {
		return nil, &ConnectionError{Addr: addr, Err: errors.New("no auth source configured")}
	}
	methods, err := e.auth.AuthMethods(target)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	conf := &gssh.ClientConfig{
		User:            target.LoginPrincipal,
		Auth:            methods,
		HostKeyCallback: gssh.InsecureIgnoreHostKey(),
		Timeout:         e.connectTimeout,
	}

	dialer := net.Dialer{Timeout: e.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	deadline := time.Now().Add(e.connectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	c, chans, reqs, err := gssh.NewClientConn(conn, addr, conf)
	if err != nil {
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})
	return gssh.NewClient(c, chans, reqs), nil
}
