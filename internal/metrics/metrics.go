package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

const namespace = "provcheck"

// Recorder 收集一次运行的遥测数据，使用独立 registry，运行结束后可写成 textfile
type Recorder struct {
	registry *prometheus.Registry

	commands          *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	probes            *prometheus.CounterVec
	convergence       *prometheus.HistogramVec
	agentRuns         *prometheus.CounterVec
	agentResources    *prometheus.GaugeVec
	resourceSeconds   *prometheus.GaugeVec
	runExitCode       prometheus.Gauge
	runCompletedStamp prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ssh",
				Name:      "commands_total",
				Help:      "Remote commands by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ssh",
				Name:      "command_duration_seconds",
				Help:      "Remote command duration in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"kind"},
		),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "convergence",
				Name:      "probes_total",
				Help:      "Convergence probes by stage and outcome.",
			},
			[]string{"probe", "outcome"},
		),
		convergence: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "convergence",
				Name:      "duration_seconds",
				Help:      "Time from reboot dispatch to a ready host.",
				Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"state"},
		),
		agentRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "runs_total",
				Help:      "Agent runs by run index and exit code.",
			},
			[]string{"run", "exit_code", "expected"},
		),
		agentResources: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "resources_evaluated",
				Help:      "Resources with evaluation timing per agent run.",
			},
			[]string{"run"},
		),
		resourceSeconds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "resource_evaluation_seconds",
				Help:      "Evaluation time of the slowest resources per agent run.",
			},
			[]string{"run", "resource"},
		),
		runExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_exit_code",
			Help:      "Exit code of the last run.",
		}),
		runCompletedStamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_finished_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	r.registry.MustRegister(
		r.commands, r.commandDuration, r.probes, r.convergence,
		r.agentRuns, r.agentResources, r.resourceSeconds,
		r.runExitCode, r.runCompletedStamp,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// CommandKind 取命令的第一个词作为标签，避免参数带来的基数膨胀
func CommandKind(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}

func (r *Recorder) ObserveCommand(res domain.CommandResult, err error) {
	kind := CommandKind(res.Command)
	outcome := "exit_" + strconv.Itoa(res.ExitCode)
	switch {
	case err != nil:
		outcome = "error"
	case !res.ExitStatusReceived:
		outcome = "no_exit_status"
	}
	r.commands.WithLabelValues(kind, outcome).Inc()
	if err == nil {
		r.commandDuration.WithLabelValues(kind).Observe(res.Duration.Seconds())
	}
}

func (r *Recorder) ObserveProbe(probe, outcome string) {
	r.probes.WithLabelValues(probe, outcome).Inc()
}

func (r *Recorder) ObserveConvergence(rec domain.ConvergenceRecord) {
	r.convergence.WithLabelValues(string(rec.State)).Observe(rec.FinishedAt.Sub(rec.StartedAt).Seconds())
}

func (r *Recorder) ObserveAgentRun(rec domain.AgentRunRecord, res domain.CommandResult) {
	run := strconv.Itoa(rec.Run)
	r.agentRuns.WithLabelValues(run, strconv.Itoa(rec.ExitCode), strconv.FormatBool(rec.OK())).Inc()
	r.agentResources.WithLabelValues(run).Set(float64(len(res.Metrics)))
	for _, t := range rec.Slowest {
		r.resourceSeconds.WithLabelValues(run, t.Resource).Set(t.Seconds)
	}
}

// ObserveRun 记录运行结束状态
func (r *Recorder) ObserveRun(report domain.RunReport) {
	r.runExitCode.Set(float64(report.ExitCode))
	r.runCompletedStamp.Set(float64(report.FinishedAt.Unix()))
}

// WriteTextfile 以 node_exporter textfile 格式原子写出
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
