package service

import (
	"context"
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/QingMing-Bot/provision-check/internal/ssh"
)

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, 0, ExitCodeOf(nil))
	assert.Equal(t, 3, ExitCodeOf(&UnexpectedExitCode{Run: 1, Expected: 2, Actual: 3}))
	assert.Equal(t, 1, ExitCodeOf(pkgerrors.WithMessage(&UnexpectedExitCode{Run: 3, Expected: 0, Actual: 1}, "final")))
	assert.Equal(t, 255, ExitCodeOf(&NoExitStatusError{Host: "h", Command: "puppet"}))
	assert.Equal(t, 130, ExitCodeOf(&ssh.ConnectionError{Addr: "h:22", Err: context.Canceled}))
	assert.Equal(t, 1, ExitCodeOf(&ConvergenceTimeout{Host: "h"}))
	assert.Equal(t, 1, ExitCodeOf(errors.New("boom")))
}
