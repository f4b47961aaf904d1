package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

type Setter func(*logrus.Logger) error

var root = struct {
	logger *logrus.Logger
	mutex  *sync.Mutex
}{
	logger: newRoot(),
	mutex:  &sync.Mutex{},
}

type Logger interface {
	logrus.FieldLogger
}

func newRoot() *logrus.Logger {
	l := logrus.New()
	// 按级别拆分输出：错误进 stderr，其余进 stdout
	l.SetOutput(io.Discard)
	l.AddHook(&SplitHook{output: os.Stdout, levels: []logrus.Level{
		logrus.WarnLevel, logrus.InfoLevel, logrus.DebugLevel, logrus.TraceLevel}})
	l.AddHook(&SplitHook{output: os.Stderr, levels: []logrus.Level{
		logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}})
	return l
}

// New 返回带 component 字段的日志器
func New(component string, setters ...Setter) Logger {
	for _, setter := range setters {
		_ = Set(setter)
	}
	return root.logger.WithField("component", component)
}

func Set(setter Setter) error {
	root.mutex.Lock()
	err := setter(root.logger)
	root.mutex.Unlock()
	return err
}

// Level 解析失败时回退到 info
func Level(lvl string) Setter {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		if lvl != "" {
			root.logger.WithError(err).Warnf("unable to parse provided level %q", lvl)
		}
		l = logrus.InfoLevel
	}
	return func(r *logrus.Logger) error {
		r.SetLevel(l)
		return nil
	}
}

// Output 把所有级别重定向到同一个 writer（测试用）。
func Output(w io.Writer) Setter {
	return func(r *logrus.Logger) error {
		r.ReplaceHooks(make(logrus.LevelHooks))
		r.SetOutput(w)
		return nil
	}
}

// Discard 静默日志器，供未注入日志器的组件使用
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
