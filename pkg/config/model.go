package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

// CommonExcludes 所有系统族都要追加的排除列表的键
const CommonExcludes = "common"

const (
	DefaultRevertSource      = "/var/lib/provision-check/snapshot/"
	DefaultRevertDestination = "/"
)

// Model 声明式配置文件的类型化视图：
//
//	rsync:
//	  excludes: {linux: [...], aix: [...], sunos: [...], common: [...]}
//	  flags: [-aHAX, --delete]
//	puppet:
//	  flags: [--environment, production]
//	hosts:
//	  - {address: 10.0.0.5, user: admin, port: 2222, key: ~/.ssh/lab}
type Model struct {
	Rsync  RsyncSection  `mapstructure:"rsync"`
	Puppet PuppetSection `mapstructure:"puppet"`
	Hosts  []HostEntry   `mapstructure:"hosts"`
}

// HostEntry 主机清单条目，启动时同步进 sqlite
type HostEntry struct {
	Address string `mapstructure:"address"`
	User    string `mapstructure:"user"`
	Port    int    `mapstructure:"port"`
	Key     string `mapstructure:"key"`
	Remark  string `mapstructure:"remark"`
}

type RsyncSection struct {
	Excludes    map[string][]string `mapstructure:"excludes"`
	Flags       []string            `mapstructure:"flags"`
	Source      string              `mapstructure:"source"`
	Destination string              `mapstructure:"destination"`
}

type PuppetSection struct {
	Flags []string `mapstructure:"flags"`
}

// LoadModel 读取 yaml / toml 配置（按扩展名判断）
func LoadModel(path string) (*Model, error) {
	if path == "" {
		return nil, errors.New("config path empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return ModelFrom(v)
}

// ModelFrom 从已读取的 viper 实例解析并校验
func ModelFrom(v *viper.Viper) (*Model, error) {
	v.SetDefault("rsync.source", DefaultRevertSource)
	v.SetDefault("rsync.destination", DefaultRevertDestination)
	m := &Model{}
	if err := v.Unmarshal(m); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if !v.IsSet("rsync.excludes." + CommonExcludes) {
		return nil, errors.Errorf("rsync.excludes.%s must be defined", CommonExcludes)
	}
	// viper 的键不区分大小写，这里统一为小写
	normalized := make(map[string][]string, len(m.Rsync.Excludes))
	for k, list := range m.Rsync.Excludes {
		normalized[strings.ToLower(k)] = list
	}
	m.Rsync.Excludes = normalized
	return m, nil
}

// RevertSpec 组合某系统族的还原参数。系统族列表与 common 列表必须同时生效，
// 缺少任何一个都可能还原到运行中的系统目录。
func (m *Model) RevertSpec(family domain.OSFamily) (domain.RevertSpec, error) {
	if !family.Supported() {
		return domain.RevertSpec{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedOS, family)
	}
	perOS, ok := m.Rsync.Excludes[string(family)]
	if !ok {
		return domain.RevertSpec{}, errors.Errorf("rsync.excludes.%s is not defined", family)
	}
	common := m.Rsync.Excludes[CommonExcludes]
	excludes := make([]string, 0, len(perOS)+len(common))
	excludes = append(excludes, perOS...)
	excludes = append(excludes, common...)
	return domain.RevertSpec{
		Excludes:    excludes,
		Flags:       append([]string(nil), m.Rsync.Flags...),
		Source:      m.Rsync.Source,
		Destination: m.Rsync.Destination,
	}, nil
}

// Machines 把 hosts 段转换为主机清单记录，地址为空的条目视为配置错误
func (m *Model) Machines() ([]domain.Machine, error) {
	out := make([]domain.Machine, 0, len(m.Hosts))
	for i, h := range m.Hosts {
		addr := strings.TrimSpace(h.Address)
		if addr == "" {
			return nil, errors.Errorf("hosts[%d]: empty address", i)
		}
		out = append(out, domain.Machine{
			Address: addr,
			SSHUser: strings.TrimSpace(h.User),
			SSHPort: h.Port,
			KeyPath: strings.TrimSpace(h.Key),
			Remark:  h.Remark,
		})
	}
	return out, nil
}

// AgentFlags puppet 附加参数
func (m *Model) AgentFlags() []string { return append([]string(nil), m.Puppet.Flags...) }
