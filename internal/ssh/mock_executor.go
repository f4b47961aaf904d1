package ssh

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

// MockExecutor 用于测试：按命令脚本化返回结果，输出片段走与真实执行相同的 demux 路径
type MockExecutor struct {
	mu       sync.Mutex
	scripts  map[string][]MockResult // key: command，队列逐次消费，最后一条重复使用
	calls    []string
	stdout   io.Writer
	stderr   io.Writer
	Fallback func(cmd string) (MockResult, bool)
}

type MockResult struct {
	Stdout       []string // 输出片段
	Stderr       []string
	ExitCode     int
	NoExitStatus bool
	Err          error
	DelayMs      int
}

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{scripts: map[string][]MockResult{}, stdout: io.Discard, stderr: io.Discard}
}

// SetOutput 设置镜像输出（默认丢弃）
func (m *MockExecutor) SetOutput(stdout, stderr io.Writer) {
	m.mu.Lock()
	m.stdout, m.stderr = stdout, stderr
	m.mu.Unlock()
}

// Set 覆盖该命令的脚本
func (m *MockExecutor) Set(cmd string, res ...MockResult) {
	m.mu.Lock()
	m.scripts[cmd] = res
	m.mu.Unlock()
}

// Calls 返回按顺序执行过的命令
func (m *MockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CountCalls 统计某条命令被执行的次数
func (m *MockExecutor) CountCalls(cmd string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == cmd {
			n++
		}
	}
	return n
}

func (m *MockExecutor) next(cmd string) (MockResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, cmd)
	queue, ok := m.scripts[cmd]
	if !ok || len(queue) == 0 {
		if m.Fallback != nil {
			return m.Fallback(cmd)
		}
		return MockResult{}, false
	}
	r := queue[0]
	if len(queue) > 1 {
		m.scripts[cmd] = queue[1:]
	}
	return r, true
}

func (m *MockExecutor) Execute(ctx context.Context, target domain.HostTarget, cmd string, opts ExecOptions) (domain.CommandResult, error) {
	res := domain.CommandResult{Command: cmd}
	r, ok := m.next(cmd)
	if !ok {
		res.ExitCode = 127
		res.ExitStatusReceived = true
		return res, nil
	}
	if r.DelayMs > 0 {
		select {
		case <-ctx.Done():
			return res, &ConnectionError{Addr: target.Addr(), Err: ctx.Err(), Started: true}
		case <-time.After(time.Duration(r.DelayMs) * time.Millisecond):
		}
	}
	if r.Err != nil {
		return res, r.Err
	}
	m.mu.Lock()
	d := newDemux(&res, opts, m.stdout, m.stderr)
	m.mu.Unlock()
	for _, c := range r.Stdout {
		d.onChunk([]byte(c), false)
	}
	for _, c := range r.Stderr {
		d.onChunk([]byte(c), true)
	}
	d.finish()
	if !r.NoExitStatus {
		res.ExitCode = r.ExitCode
		res.ExitStatusReceived = true
	}
	return res, nil
}
