package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/QingMing-Bot/provision-check/internal/logging"
	"github.com/QingMing-Bot/provision-check/internal/service"
	"github.com/QingMing-Bot/provision-check/pkg/config"
)

const longHelp = `provision-check reverts a host to its snapshot, reboots it twice and then
runs the puppet agent three times, expecting exit codes 2, 2 and 0.

The process exit code is the exit code of the last agent run (or of the
run that failed early). Runtime settings come from PROVCHECK_* environment
variables, e.g. PROVCHECK_CONFIG, PROVCHECK_SSH_USER, PROVCHECK_MAX_WAIT.`

// Execute 运行根命令并返回进程退出码
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], config.Load(), overrides{}, os.Stdout, os.Stderr)
}

// overrides 测试注入点
type overrides struct {
	executor service.Executor
	sleeper  service.Sleeper
}

func run(ctx context.Context, args []string, settings *config.Settings, ov overrides, stdout, stderr io.Writer) int {
	exitCode := service.ExitOK
	cmd := &cobra.Command{
		Use:           "provision-check <host>",
		Short:         "Revert, reboot and converge one host with puppet",
		Long:          longHelp,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = logging.Set(logging.Level(settings.LogLevel))
			a, err := bootstrap(settings, ov, stdout, stderr)
			if err != nil {
				exitCode = service.ExitFailure
				return err
			}
			defer a.Close()
			report, err := a.Run(cmd.Context(), args[0])
			exitCode = report.ExitCode
			return err
		},
	}
	if args == nil {
		// nil 会让 cobra 回退到 os.Args
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if exitCode == service.ExitOK && service.ExitCodeOf(err) != service.ExitOK {
			// 参数错误等在 RunE 之前失败的情况
			exitCode = service.ExitFailure
		}
	}
	return exitCode
}
