package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Render 序列化运行报告
func Render(r domain.RunReport, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		return json.MarshalIndent(r, "", "  ")
	case FormatYAML, "yml", "":
		return yaml.Marshal(r)
	}
	return nil, errors.Errorf("unknown report format %q", format)
}

// WriteFile 写入 <dir>/<run id>.<format>，返回文件路径
func WriteFile(dir string, r domain.RunReport, format string) (string, error) {
	if format == "" {
		format = FormatYAML
	}
	b, err := Render(r, format)
	if err != nil {
		return "", err
	}
	return write(dir, r.RunID, strings.ToLower(format), b)
}

// WriteTimingsFile 在报告旁写入 <run id>.timings.csv
func WriteTimingsFile(dir string, r domain.RunReport) (string, error) {
	return write(dir, r.RunID, "timings.csv", []byte(RenderTimingsCSV(r)))
}

func write(dir, runID, ext string, b []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "create report dir")
	}
	name := strings.NewReplacer("/", "_", " ", "_").Replace(runID)
	if name == "" {
		name = "run"
	}
	path := filepath.Join(dir, name+"."+ext)
	if err := os.WriteFile(path, b, 0644); err != nil {
		return "", errors.Wrapf(err, "write report %s", path)
	}
	return path, nil
}

// RenderTimingsCSV 输出每次 agent 运行的最慢资源 (含 header)
func RenderTimingsCSV(r domain.RunReport) string {
	var b strings.Builder
	b.WriteString("run,exit_code,expected,rank,resource,seconds\n")
	for _, run := range r.AgentRuns {
		for i, t := range run.Slowest {
			b.WriteString(strings.Join([]string{
				strconv.Itoa(run.Run), strconv.Itoa(run.ExitCode), strconv.Itoa(run.ExpectedCode),
				strconv.Itoa(i + 1), escapeCSV(t.Resource), strconv.FormatFloat(t.Seconds, 'f', -1, 64),
			}, ","))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\n\"") {
		return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
	}
	return s
}
