package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// SplitHook directs matched levels to its configured output.
type SplitHook struct {
	output io.Writer
	levels []logrus.Level
}

func NewSplitHook(output io.Writer, levels ...logrus.Level) *SplitHook {
	return &SplitHook{output: output, levels: levels}
}

// Fire is invoked when logrus tries to log any message.
func (hook *SplitHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	for _, level := range hook.levels {
		if level == entry.Level {
			_, err := hook.output.Write([]byte(line))
			return err
		}
	}
	return nil
}

// Levels returns the log levels this hook is being applied to
func (hook *SplitHook) Levels() []logrus.Level {
	return hook.levels
}
