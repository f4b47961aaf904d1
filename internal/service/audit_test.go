package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QingMing-Bot/provision-check/internal/domain"
	"github.com/QingMing-Bot/provision-check/internal/ssh"
)

type historySlice struct{ rows []domain.ExecHistory }

func (h *historySlice) Write(e domain.ExecHistory) { h.rows = append(h.rows, e) }

type commandCounter struct{ ok, failed int }

func (c *commandCounter) ObserveCommand(res domain.CommandResult, err error) {
	if err != nil {
		c.failed++
		return
	}
	c.ok++
}

func TestAuditedExecutor_RecordsEveryCommand(t *testing.T) {
	mock := ssh.NewMockExecutor()
	mock.Set(OSProbeCommand, ssh.MockResult{Stdout: []string{"Linux\n"}})
	mock.Set(ReachabilityProbe, unreachable())
	hist := &historySlice{}
	obs := &commandCounter{}
	exec := NewAuditedExecutor(mock, hist, obs)
	ctx := WithRunID(context.Background(), "run-7")

	res, err := exec.Execute(ctx, pollTarget, OSProbeCommand, ssh.ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Linux\n", res.StdoutText())
	_, err = exec.Execute(ctx, pollTarget, ReachabilityProbe, ssh.ExecOptions{})
	require.Error(t, err)

	require.Len(t, hist.rows, 2)
	assert.Equal(t, "run-7", hist.rows[0].RunID)
	assert.Equal(t, "10.0.0.5", hist.rows[0].Host)
	assert.Equal(t, "Linux\n", hist.rows[0].Stdout)
	assert.True(t, hist.rows[0].ExitStatusReceived)
	assert.Contains(t, hist.rows[1].ErrorText, "connection refused")
	assert.Equal(t, 1, obs.ok)
	assert.Equal(t, 1, obs.failed)
}

type fakeLookup map[string]domain.Machine

func (f fakeLookup) GetByAddress(addr string) (domain.Machine, error) {
	if addr == "broken" {
		return domain.Machine{}, errors.New("database is locked")
	}
	m, ok := f[addr]
	if !ok {
		return domain.Machine{}, sql.ErrNoRows
	}
	return m, nil
}

func TestResolveTarget(t *testing.T) {
	defaults := TargetDefaults{User: "root", Port: 22, KeyPath: "/root/.ssh/id_rsa"}
	hosts := fakeLookup{"10.0.0.9": {Address: "10.0.0.9", SSHUser: "admin", SSHPort: 2222}}

	tgt, err := ResolveTarget(hosts, " 10.0.0.9 ", defaults)
	require.NoError(t, err)
	assert.Equal(t, "admin", tgt.LoginPrincipal)
	assert.Equal(t, "10.0.0.9:2222", tgt.Addr())
	assert.Equal(t, "/root/.ssh/id_rsa", tgt.KeyPath)
	assert.Equal(t, domain.OSUnknown, tgt.OSFamily)

	tgt, err = ResolveTarget(hosts, "10.0.0.1", defaults)
	require.NoError(t, err)
	assert.Equal(t, "root", tgt.LoginPrincipal)
	assert.Equal(t, "10.0.0.1:22", tgt.Addr())

	_, err = ResolveTarget(hosts, "broken", defaults)
	assert.Error(t, err)
	_, err = ResolveTarget(nil, "", defaults)
	assert.Error(t, err)
}
