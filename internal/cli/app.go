package cli

import (
	"context"
	"database/sql"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/QingMing-Bot/provision-check/internal/domain"
	"github.com/QingMing-Bot/provision-check/internal/logging"
	"github.com/QingMing-Bot/provision-check/internal/metrics"
	"github.com/QingMing-Bot/provision-check/internal/repository"
	"github.com/QingMing-Bot/provision-check/internal/service"
	"github.com/QingMing-Bot/provision-check/internal/ssh"
	"github.com/QingMing-Bot/provision-check/pkg/config"
	"github.com/QingMing-Bot/provision-check/pkg/report"
	"github.com/QingMing-Bot/provision-check/pkg/secret"
)

// app 一次运行所需的全部组件
type app struct {
	settings *config.Settings
	db       *sql.DB
	hosts    *repository.MachineRepo
	history  *repository.HistoryRepo
	writer   *service.HistoryWriter
	keyring  *secret.Keyring
	recorder *metrics.Recorder
	orch     *service.Orchestrator
	log      logging.Logger
}

func bootstrap(settings *config.Settings, ov overrides, stdout, stderr io.Writer) (*app, error) {
	log := logging.New("cli")
	model, err := config.LoadModel(settings.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(settings.DataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}
	db, err := sql.Open("sqlite", settings.DBPath())
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(1)
	a := &app{settings: settings, db: db, log: log, recorder: metrics.NewRecorder()}
	a.hosts = repository.NewMachineRepo(db)
	a.history = repository.NewHistoryRepo(db)
	if err := a.hosts.EnsureSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "hosts schema")
	}
	if err := a.history.EnsureSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "history schema")
	}
	if err := a.history.Cleanup(settings.HistoryRetentionDays, settings.HistoryMaxRows); err != nil {
		log.WithError(err).Warn("history cleanup failed")
	}
	machines, err := model.Machines()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	for i := range machines {
		if err := a.hosts.Save(&machines[i]); err != nil {
			log.WithError(err).WithField("host", machines[i].Address).Warn("unable to save host")
		}
	}
	a.writer = service.NewHistoryWriter(a.history, settings.HistoryFlushInterval, settings.HistoryBatchSize)

	var exec service.Executor = ov.executor
	if exec == nil {
		a.keyring = secret.NewKeyring(settings.SSHKey, settings.SSHPassphrase)
		exec = ssh.NewExecutor(a.keyring, ssh.WithConnectTimeout(settings.ConnectTimeout), ssh.WithOutput(stdout, stderr))
	}
	exec = service.NewAuditedExecutor(exec, a.writer, a.recorder)

	pollOpts := []service.PollerOption{service.WithProbeObserver(a.recorder)}
	if ov.sleeper != nil {
		pollOpts = append(pollOpts, service.WithSleeper(ov.sleeper))
	}
	poller := service.NewPoller(exec, service.PollerConfig{
		GraceDelay:   settings.GraceDelay,
		ProbeTimeout: settings.ProbeTimeout,
		Interval:     settings.BackoffInterval,
		MaxWait:      settings.MaxWait,
	}, pollOpts...)
	a.orch = service.NewOrchestrator(exec, poller, model, service.OrchestratorConfig{
		TopN:           settings.TopN,
		ProbeTimeout:   settings.ProbeTimeout,
		CommandTimeout: settings.CommandTimeout,
	}, service.WithReportOutput(stdout, stderr), service.WithHostRecorder(a.hosts), service.WithAgentObserver(a.recorder))
	return a, nil
}

// Run 解析目标主机并执行，结束后写出报告与指标
func (a *app) Run(ctx context.Context, address string) (domain.RunReport, error) {
	target, err := service.ResolveTarget(a.hosts, address, service.TargetDefaults{
		User:    a.settings.SSHUser,
		Port:    a.settings.SSHPort,
		KeyPath: a.settings.SSHKey,
	})
	if err != nil {
		return domain.RunReport{Host: address, ExitCode: service.ExitFailure}, err
	}
	a.log.WithFields(logrus.Fields{"host": target.Address, "login": target.LoginPrincipal}).Info("starting run")

	rep, runErr := a.orch.Run(ctx, target)
	a.recorder.ObserveRun(rep)
	if path, err := report.WriteFile(a.settings.ReportDir(), rep, a.settings.ReportFormat); err != nil {
		a.log.WithError(err).Warn("unable to write report")
	} else {
		a.log.WithField("path", path).Info("report written")
	}
	if len(rep.AgentRuns) > 0 {
		if _, err := report.WriteTimingsFile(a.settings.ReportDir(), rep); err != nil {
			a.log.WithError(err).Warn("unable to write resource timings")
		}
	}
	if a.settings.MetricsFile != "" {
		if err := a.recorder.WriteTextfile(a.settings.MetricsFile); err != nil {
			a.log.WithError(err).Warn("unable to write metrics textfile")
		}
	}
	return rep, runErr
}

func (a *app) Close() {
	a.writer.Close()
	if a.keyring != nil {
		_ = a.keyring.Close()
	}
	_ = a.db.Close()
}
