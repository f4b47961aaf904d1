package logging

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSplitHookRoutesByLevel(t *testing.T) {
	var out, errOut bytes.Buffer
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.AddHook(NewSplitHook(&out, logrus.InfoLevel, logrus.WarnLevel))
	l.AddHook(NewSplitHook(&errOut, logrus.ErrorLevel))

	l.Info("probe ok")
	l.Error("channel rejected")

	assert.Contains(t, out.String(), "probe ok")
	assert.NotContains(t, out.String(), "channel rejected")
	assert.Contains(t, errOut.String(), "channel rejected")
	assert.NotContains(t, errOut.String(), "probe ok")
}

func TestLevelFallsBackToInfo(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	assert.NoError(t, Level("bogus")(l))
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.NoError(t, Level("debug")(l))
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
}
