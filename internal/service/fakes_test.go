package service

import (
	"context"
	"sync"
	"time"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

// fakeClock 由 sleeper 推进，测试无需真实等待
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

type fakeModel struct {
	spec  domain.RevertSpec
	flags []string
}

func (m fakeModel) RevertSpec(f domain.OSFamily) (domain.RevertSpec, error) {
	if !f.Supported() {
		return domain.RevertSpec{}, domain.ErrUnsupportedOS
	}
	return m.spec, nil
}

func (m fakeModel) AgentFlags() []string { return m.flags }

type fakeWaiter struct {
	calls int
	err   error
}

func (w *fakeWaiter) Wait(ctx context.Context, target domain.HostTarget) (domain.ConvergenceRecord, error) {
	w.calls++
	if w.err != nil {
		return domain.ConvergenceRecord{State: domain.StateRebooting}, w.err
	}
	return domain.ConvergenceRecord{State: domain.StateReady, Probes: 2, FinalRunlevel: "3"}, nil
}

type recordedRun struct {
	addr   string
	family domain.OSFamily
}

type fakeHosts struct{ runs []recordedRun }

func (h *fakeHosts) RecordRun(addr string, family domain.OSFamily, at time.Time) error {
	h.runs = append(h.runs, recordedRun{addr, family})
	return nil
}
