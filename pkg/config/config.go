package config

// 统一配置加载：运行参数全部来自 PROVCHECK_* 环境变量（命令行只接受主机地址），
// 声明式的 rsync/puppet 配置见 model.go。

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "PROVCHECK"

// Settings 保存运行时关键参数。
type Settings struct {
	ConfigFile      string // 声明式配置文件 (yaml|toml)
	DataDir         string // 数据目录 (sqlite / 报告)
	SSHUser         string
	SSHPort         int
	SSHKey          string // 私钥路径
	SSHPassphrase   string
	ConnectTimeout  time.Duration
	ProbeTimeout    time.Duration // 探测/重启命令的单次超时
	CommandTimeout  time.Duration // rsync / puppet 的超时，0 不限制
	GraceDelay      time.Duration // 下发重启后首次探测前的等待
	BackoffInterval time.Duration
	MaxWait         time.Duration // 单次重启等待上限，0 不限制
	TopN            int

	HistoryRetentionDays int
	HistoryMaxRows       int
	HistoryFlushInterval int
	HistoryBatchSize     int

	MetricsFile  string // 非空则写出 prometheus textfile
	ReportFormat string // yaml | json
	LogLevel     string
}

var (
	once   sync.Once
	global *Settings
)

// Load 读取全局运行参数（只初始化一次）。
// 环境变量：
//
//	PROVCHECK_CONFIG         声明式配置文件 (默认 provision-check.yaml)
//	PROVCHECK_DATA_DIR       数据目录 (默认 data)
//	PROVCHECK_SSH_USER       登录用户 (默认 root)
//	PROVCHECK_SSH_KEY        私钥路径 (默认 ~/.ssh/id_rsa)
//	PROVCHECK_MAX_WAIT       单次重启最长等待 (默认 30m, 0 不限)
func Load() *Settings {
	once.Do(func() {
		global = LoadFrom(NewViper())
		_ = os.MkdirAll(global.DataDir, 0755)
	})
	return global
}

// NewViper 绑定环境变量并设置默认值
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("config", "provision-check.yaml")
	v.SetDefault("data_dir", "data")
	v.SetDefault("ssh_user", "root")
	v.SetDefault("ssh_port", 22)
	v.SetDefault("ssh_key", "")
	v.SetDefault("ssh_passphrase", "")
	v.SetDefault("connect_timeout", "10s")
	v.SetDefault("probe_timeout", "10s")
	v.SetDefault("command_timeout", "0s")
	v.SetDefault("grace_delay", "30s")
	v.SetDefault("backoff_interval", "10s")
	v.SetDefault("max_wait", "30m")
	v.SetDefault("top_n", 5)
	v.SetDefault("history_retention_days", 30)
	v.SetDefault("history_max_rows", 10000)
	v.SetDefault("history_flush_interval", 2)
	v.SetDefault("history_batch_size", 20)
	v.SetDefault("metrics_file", "")
	v.SetDefault("report_format", "yaml")
	v.SetDefault("log_level", "info")
}

// LoadFrom 从已配置的 viper 实例构建 Settings（测试可直接注入）
func LoadFrom(v *viper.Viper) *Settings {
	s := &Settings{
		ConfigFile:           v.GetString("config"),
		DataDir:              v.GetString("data_dir"),
		SSHUser:              v.GetString("ssh_user"),
		SSHPort:              v.GetInt("ssh_port"),
		SSHKey:               v.GetString("ssh_key"),
		SSHPassphrase:        v.GetString("ssh_passphrase"),
		ConnectTimeout:       v.GetDuration("connect_timeout"),
		ProbeTimeout:         v.GetDuration("probe_timeout"),
		CommandTimeout:       v.GetDuration("command_timeout"),
		GraceDelay:           v.GetDuration("grace_delay"),
		BackoffInterval:      v.GetDuration("backoff_interval"),
		MaxWait:              v.GetDuration("max_wait"),
		TopN:                 v.GetInt("top_n"),
		HistoryRetentionDays: v.GetInt("history_retention_days"),
		HistoryMaxRows:       v.GetInt("history_max_rows"),
		HistoryFlushInterval: v.GetInt("history_flush_interval"),
		HistoryBatchSize:     v.GetInt("history_batch_size"),
		MetricsFile:          v.GetString("metrics_file"),
		ReportFormat:         strings.ToLower(v.GetString("report_format")),
		LogLevel:             v.GetString("log_level"),
	}
	if s.DataDir == "" {
		s.DataDir = "data"
	}
	if s.TopN <= 0 {
		s.TopN = 5
	}
	if s.ReportFormat != "json" {
		s.ReportFormat = "yaml"
	}
	return s
}

// DBPath 返回 sqlite 文件路径。
func (s *Settings) DBPath() string { return filepath.Join(s.DataDir, "provision-check.db") }

// ReportDir 运行报告目录
func (s *Settings) ReportDir() string { return filepath.Join(s.DataDir, "reports") }
