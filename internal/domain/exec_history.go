package domain

import "time"

// ExecHistory 记录一次运行中每条远程命令的结果（审计用）
type ExecHistory struct {
	ID                 int64     `json:"id"`
	RunID              string    `json:"run_id"`
	Host               string    `json:"host"`
	Command            string    `json:"command"`
	Stdout             string    `json:"stdout"`
	Stderr             string    `json:"stderr"`
	ExitCode           int       `json:"exit_code"`
	ExitStatusReceived bool      `json:"exit_status_received"`
	ErrorText          string    `json:"error,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	DurationMs         int64     `json:"duration_ms"`
}
