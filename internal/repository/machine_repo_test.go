package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

func openMemDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// :memory: 每条连接一个独立库
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, NewMachineRepo(db).EnsureSchema())
	require.NoError(t, NewHistoryRepo(db).EnsureSchema())
	return db
}

func TestMachineRepo_SaveAndGet(t *testing.T) {
	repo := NewMachineRepo(openMemDB(t))
	m := domain.Machine{Address: "10.0.0.1", SSHUser: "admin", SSHPort: 2222, KeyPath: "/keys/lab"}
	require.NoError(t, repo.Save(&m))
	assert.NotZero(t, m.ID)

	got, err := repo.GetByAddress("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "admin", got.SSHUser)
	assert.Equal(t, 2222, got.SSHPort)
	assert.Equal(t, "/keys/lab", got.KeyPath)

	m.SSHUser = "root"
	require.NoError(t, repo.Save(&m))
	got, _ = repo.GetByAddress("10.0.0.1")
	assert.Equal(t, "root", got.SSHUser)
	assert.Equal(t, m.ID, got.ID)

	_, err = repo.GetByAddress("10.0.0.2")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMachineRepo_RecordRun(t *testing.T) {
	repo := NewMachineRepo(openMemDB(t))
	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.RecordRun("10.0.0.9", domain.OSAIX, at))
	got, err := repo.GetByAddress("10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, domain.OSAIX, got.OSFamily)
	assert.True(t, got.LastRunAt.Equal(at))

	require.NoError(t, repo.RecordRun("10.0.0.9", domain.OSLinux, at.Add(time.Hour)))
	got, _ = repo.GetByAddress("10.0.0.9")
	assert.Equal(t, domain.OSLinux, got.OSFamily)

	require.NoError(t, repo.DeleteByAddress("10.0.0.9"))
	assert.Error(t, repo.DeleteByAddress(" "))
}

func TestHistoryRepo_ListByRunAndCleanup(t *testing.T) {
	repo := NewHistoryRepo(openMemDB(t))
	now := time.Now()
	for i := 0; i < 5; i++ {
		h := domain.ExecHistory{RunID: "run-a", Host: "h", Command: "cmd", ExitCode: i, ExitStatusReceived: true,
			StartedAt: now.Add(-time.Duration(i) * 24 * time.Hour), FinishedAt: now.Add(-time.Duration(i) * 24 * time.Hour)}
		require.NoError(t, repo.Insert(&h))
	}
	h := domain.ExecHistory{RunID: "run-b", Host: "h", Command: "reboot"}
	require.NoError(t, repo.Insert(&h))

	rows, err := repo.ListByRun("run-a")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, 0, rows[0].ExitCode, "insertion order")
	assert.True(t, rows[0].ExitStatusReceived)

	// keep only last 2 days
	require.NoError(t, repo.Cleanup(2, 0))
	rows, err = repo.ListRecent(10)
	require.NoError(t, err)
	for _, r := range rows {
		assert.LessOrEqual(t, now.Sub(r.StartedAt), 48*time.Hour)
	}
	require.NoError(t, repo.Cleanup(0, 1))
	rows, err = repo.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "run-b", rows[0].RunID)
}
