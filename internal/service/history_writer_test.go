package service

import (
	"bytes"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/QingMing-Bot/provision-check/internal/domain"
	"github.com/QingMing-Bot/provision-check/internal/repository"
)

type memSink struct {
	mu   sync.Mutex
	rows []domain.ExecHistory
	fail bool
}

func (m *memSink) Insert(h *domain.ExecHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.rows = append(m.rows, *h)
	return nil
}

func (m *memSink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func TestHistoryWriter_FlushOnClose(t *testing.T) {
	sink := &memSink{}
	w := NewHistoryWriter(sink, 60, 100)
	for i := 0; i < 7; i++ {
		w.Write(domain.ExecHistory{Command: "ls /", ExitCode: i})
	}
	w.Close()
	w.Close()
	require.Equal(t, 7, sink.len())
	assert.Equal(t, 6, sink.rows[6].ExitCode)
}

func TestHistoryWriter_SinkErrorsAreSwallowed(t *testing.T) {
	sink := &memSink{fail: true}
	w := NewHistoryWriter(sink, 60, 1)
	w.Write(domain.ExecHistory{Command: "reboot"})
	w.Close()
	assert.Equal(t, 0, sink.len())
}

// blockingSink 在 release 关闭前阻塞所有写入
type blockingSink struct {
	memSink
	release chan struct{}
}

func (b *blockingSink) Insert(h *domain.ExecHistory) error {
	<-b.release
	return b.memSink.Insert(h)
}

func TestHistoryWriter_ReportsDroppedOnClose(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	w := NewHistoryWriter(sink, 60, 1)
	var logs bytes.Buffer
	l := logrus.New()
	l.SetOutput(&logs)
	w.log = l

	for i := 0; i < 50; i++ {
		w.Write(domain.ExecHistory{Command: "who -r", ExitCode: i})
	}
	dropped := w.Dropped()
	// 通道容量 4，加上最多一条正在写入
	assert.GreaterOrEqual(t, dropped, 45)
	close(sink.release)
	w.Close()

	assert.Equal(t, 50-dropped, sink.len())
	assert.Contains(t, logs.String(), "history entries dropped")
	assert.Contains(t, logs.String(), "dropped=")
}

func TestHistoryWriter_NoWarningWithoutDrops(t *testing.T) {
	w := NewHistoryWriter(&memSink{}, 60, 10)
	var logs bytes.Buffer
	l := logrus.New()
	l.SetOutput(&logs)
	w.log = l
	w.Write(domain.ExecHistory{Command: "uname -s"})
	w.Close()
	assert.Equal(t, 0, w.Dropped())
	assert.NotContains(t, logs.String(), "dropped")
}

func TestHistoryWriter_Sqlite(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()
	repo := repository.NewHistoryRepo(db)
	require.NoError(t, repo.EnsureSchema())

	w := NewHistoryWriter(repo, 1, 2)
	w.Write(domain.ExecHistory{RunID: "r1", Host: "h", Command: "uname -s", Stdout: "Linux\n", ExitStatusReceived: true})
	w.Write(domain.ExecHistory{RunID: "r1", Host: "h", Command: "who -r"})
	w.Write(domain.ExecHistory{RunID: "r1", Host: "h", Command: "ls /"})
	w.Close()

	rows, err := repo.ListByRun("r1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "uname -s", rows[0].Command)
	assert.Equal(t, "Linux\n", rows[0].Stdout)
}
