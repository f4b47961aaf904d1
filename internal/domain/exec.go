package domain

import (
	"strings"
	"time"
)

// CommandResult 单条远程命令的结果，通道关闭后不再变化。
type CommandResult struct {
	Command  string
	ExitCode int
	// ExitStatusReceived 为 false 表示通道关闭前未收到 exit-status，此时 ExitCode 为默认值 0
	ExitStatusReceived bool
	Stdout             []string // 按到达顺序的输出片段
	Stderr             []string
	Metrics            map[string]float64 // 资源名 -> 耗时(秒)，仅 profile 模式
	MetricKeys         []string           // Metrics 的首次出现顺序
	Duration           time.Duration
}

func (r CommandResult) StdoutText() string { return strings.Join(r.Stdout, "") }
func (r CommandResult) StderrText() string { return strings.Join(r.Stderr, "") }

// ConvergenceState 重启过程中主机的可达状态，不落盘。
type ConvergenceState string

const (
	StateAwaitingDisconnect ConvergenceState = "awaiting-disconnect"
	StateUnreachable        ConvergenceState = "unreachable"
	StateRebooting          ConvergenceState = "rebooting"
	StateReady              ConvergenceState = "ready"
)

// ConvergenceRecord 一次重启等待的记录
type ConvergenceRecord struct {
	Cycle         int              `json:"cycle" yaml:"cycle"`
	State         ConvergenceState `json:"state" yaml:"state"`
	Probes        int              `json:"probes" yaml:"probes"`
	Retries       int              `json:"retries" yaml:"retries"`
	FinalRunlevel string           `json:"final_runlevel,omitempty" yaml:"final_runlevel,omitempty"`
	StartedAt     time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time        `json:"finished_at" yaml:"finished_at"`
}

type ResourceTiming struct {
	Resource string  `json:"resource" yaml:"resource"`
	Seconds  float64 `json:"seconds" yaml:"seconds"`
}

type AgentRunRecord struct {
	Run          int              `json:"run" yaml:"run"`
	ExpectedCode int              `json:"expected_code" yaml:"expected_code"`
	ExitCode     int              `json:"exit_code" yaml:"exit_code"`
	Slowest      []ResourceTiming `json:"slowest" yaml:"slowest"`
	Resources    int              `json:"resources" yaml:"resources"`
	DurationMs   int64            `json:"duration_ms" yaml:"duration_ms"`
}

func (r AgentRunRecord) OK() bool { return r.ExitCode == r.ExpectedCode }

// RunReport 一次完整运行的汇总，写入 data/reports。
type RunReport struct {
	RunID        string              `json:"run_id" yaml:"run_id"`
	Host         string              `json:"host" yaml:"host"`
	OSFamily     OSFamily            `json:"os_family" yaml:"os_family"`
	StartedAt    time.Time           `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time           `json:"finished_at" yaml:"finished_at"`
	Convergences []ConvergenceRecord `json:"convergences" yaml:"convergences"`
	AgentRuns    []AgentRunRecord    `json:"agent_runs" yaml:"agent_runs"`
	Completed    bool                `json:"completed" yaml:"completed"`
	ExitCode     int                 `json:"exit_code" yaml:"exit_code"`
	Error        string              `json:"error,omitempty" yaml:"error,omitempty"`
}
