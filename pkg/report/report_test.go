package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

func sampleReport() domain.RunReport {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	return domain.RunReport{
		RunID:      "20240101_100000.000",
		Host:       "10.0.0.5",
		OSFamily:   domain.OSLinux,
		StartedAt:  start,
		FinishedAt: start.Add(40 * time.Minute),
		Convergences: []domain.ConvergenceRecord{
			{Cycle: 1, State: domain.StateReady, Probes: 4, Retries: 2, FinalRunlevel: "3", StartedAt: start, FinishedAt: start.Add(3 * time.Minute)},
		},
		AgentRuns: []domain.AgentRunRecord{
			{Run: 1, ExpectedCode: 2, ExitCode: 2, Resources: 2, Slowest: []domain.ResourceTiming{
				{Resource: "File[/etc/motd]", Seconds: 2.1}, {Resource: "Package[nginx,extra]", Seconds: 0.5}}},
		},
		Completed: true,
	}
}

func TestRender_YAMLAndJSON(t *testing.T) {
	r := sampleReport()
	decode := map[string]func([]byte, interface{}) error{FormatYAML: yaml.Unmarshal, FormatJSON: json.Unmarshal}
	for format, unmarshal := range decode {
		b, err := Render(r, format)
		require.NoError(t, err, format)
		var back domain.RunReport
		require.NoError(t, unmarshal(b, &back), format)
		assert.Equal(t, r.Host, back.Host)
		assert.Equal(t, r.AgentRuns, back.AgentRuns)
		assert.True(t, r.FinishedAt.Equal(back.FinishedAt))
	}
	y, _ := Render(r, FormatYAML)
	assert.Contains(t, string(y), "os_family: linux")
	assert.Contains(t, string(y), "final_runlevel: \"3\"")

	_, err := Render(r, "xml")
	assert.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	path, err := WriteFile(dir, sampleReport(), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240101_100000.000.json"), path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"completed": true`)
}

func TestRenderTimingsCSV(t *testing.T) {
	out := RenderTimingsCSV(sampleReport())
	assert.Equal(t, "run,exit_code,expected,rank,resource,seconds\n"+
		"1,2,2,1,File[/etc/motd],2.1\n"+
		"1,2,2,2,\"Package[nginx,extra]\",0.5\n", out)
}

func TestWriteTimingsFile(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteTimingsFile(dir, sampleReport())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240101_100000.000.timings.csv"), path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, RenderTimingsCSV(sampleReport()), string(b))
}
