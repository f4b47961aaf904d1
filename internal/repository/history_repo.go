package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

type HistoryRepo struct{ db *sql.DB }

func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{db: db} }

// EnsureSchema 建表 (幂等)
func (r *HistoryRepo) EnsureSchema() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS exec_history(
        id INTEGER PRIMARY KEY AUTOINCREMENT, run_id TEXT, host TEXT, command TEXT, stdout TEXT, stderr TEXT,
        exit_code INTEGER, exit_status_received INTEGER, error_text TEXT, started_at TIMESTAMP, finished_at TIMESTAMP, duration_ms INTEGER )`)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_exec_history_run ON exec_history(run_id)`)
	return err
}

func (r *HistoryRepo) Insert(h *domain.ExecHistory) error {
	now := time.Now()
	if h.StartedAt.IsZero() {
		h.StartedAt = now
	}
	if h.FinishedAt.IsZero() {
		h.FinishedAt = now
	}
	res, err := r.db.Exec(`INSERT INTO exec_history(run_id,host,command,stdout,stderr,exit_code,exit_status_received,error_text,started_at,finished_at,duration_ms)
        VALUES (?,?,?,?,?,?,?,?,?,?,?)`, h.RunID, h.Host, h.Command, h.Stdout, h.Stderr, h.ExitCode, h.ExitStatusReceived, h.ErrorText, h.StartedAt, h.FinishedAt, h.DurationMs)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	h.ID = id
	return nil
}

const historyColumns = `id,run_id,host,command,stdout,stderr,exit_code,exit_status_received,error_text,started_at,finished_at,duration_ms`

func scanHistory(rows *sql.Rows) ([]domain.ExecHistory, error) {
	defer rows.Close()
	var list []domain.ExecHistory
	for rows.Next() {
		var h domain.ExecHistory
		if err := rows.Scan(&h.ID, &h.RunID, &h.Host, &h.Command, &h.Stdout, &h.Stderr, &h.ExitCode, &h.ExitStatusReceived, &h.ErrorText, &h.StartedAt, &h.FinishedAt, &h.DurationMs); err != nil {
			return nil, err
		}
		list = append(list, h)
	}
	return list, rows.Err()
}

func (r *HistoryRepo) ListRecent(limit int) ([]domain.ExecHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`SELECT `+historyColumns+` FROM exec_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

// ListByRun 按执行顺序返回某次运行的全部命令
func (r *HistoryRepo) ListByRun(runID string) ([]domain.ExecHistory, error) {
	rows, err := r.db.Query(`SELECT `+historyColumns+` FROM exec_history WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

// Cleanup 根据保留天数与最大行数裁剪
func (r *HistoryRepo) Cleanup(retentionDays, maxRows int) error {
	if retentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		if _, err := r.db.Exec(`DELETE FROM exec_history WHERE started_at < ?`, cutoff); err != nil {
			return fmt.Errorf("cleanup by age: %w", err)
		}
	}
	if maxRows > 0 {
		// 删除超过 maxRows 的最旧行
		if _, err := r.db.Exec(`DELETE FROM exec_history WHERE id IN (SELECT id FROM exec_history ORDER BY id DESC LIMIT -1 OFFSET ?)`, maxRows); err != nil {
			return fmt.Errorf("cleanup by rows: %w", err)
		}
	}
	return nil
}
