package service

import (
	"fmt"
	"strings"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

const (
	OSProbeCommand    = "uname -s"
	ReachabilityProbe = "ls /"
	RunlevelProbe     = "who -r"

	// StopAgentCommand 停止并禁用 agent 服务，防止还原过程中被自动拉起
	StopAgentCommand = `puppet apply -e "service { 'puppet': ensure => stopped, enable => false }"`

	// RebootRunlevel who -r 报告的该运行级别表示系统仍在重启
	RebootRunlevel = "6"

	// rsyncPartialTransfer rsync 的 "源文件在传输中消失"，还原时可以容忍
	rsyncPartialTransfer = 24
)

// ExpectedAgentCodes 三次 agent 运行的期望退出码：前两次有变更 (2)，第三次无变更 (0)
var ExpectedAgentCodes = []int{2, 2, 0}

// RebootCommand 按系统族选择重启命令
func RebootCommand(family domain.OSFamily) (string, error) {
	switch family {
	case domain.OSLinux:
		return "reboot", nil
	case domain.OSAIX:
		return "shutdown -Fr", nil
	case domain.OSSunOS:
		return "init 6", nil
	}
	return "", fmt.Errorf("%w: no reboot command for %s", domain.ErrUnsupportedOS, family)
}

// RevertCommand 生成 rsync 还原命令，排除项逐条单引号转义
func RevertCommand(spec domain.RevertSpec) string {
	parts := []string{"rsync"}
	parts = append(parts, spec.Flags...)
	for _, ex := range spec.Excludes {
		parts = append(parts, "--exclude="+shellQuote(ex))
	}
	parts = append(parts, shellQuote(spec.Source), shellQuote(spec.Destination))
	return strings.Join(parts, " ")
}

// AgentRunCommand 以 evaltrace 方式运行 agent，输出每个资源的耗时
func AgentRunCommand(flags []string) string {
	parts := append([]string{"puppet", "agent", "-t", "--evaltrace"}, flags...)
	return strings.Join(parts, " ")
}

// ParseRunlevel 解析 `who -r` 输出中 run-level 之后的字段
//
//	"         run-level 3  2024-01-01 10:00                   last=S"
func ParseRunlevel(out string) (string, error) {
	fields := strings.Fields(out)
	for i, f := range fields {
		if f == "run-level" && i+1 < len(fields) {
			return fields[i+1], nil
		}
	}
	return "", fmt.Errorf("no run-level in %q", strings.TrimSpace(out))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
