package service

import (
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

// MachineLookup 按地址查询主机清单，*repository.MachineRepo 满足该接口
type MachineLookup interface {
	GetByAddress(string) (domain.Machine, error)
}

// TargetDefaults 主机清单未覆盖时使用的登录参数
type TargetDefaults struct {
	User    string
	Port    int
	KeyPath string
}

// ResolveTarget 用主机清单中的覆盖项补全目标主机；清单中没有该主机时使用默认值
func ResolveTarget(hosts MachineLookup, address string, defaults TargetDefaults) (domain.HostTarget, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return domain.HostTarget{}, errors.New("empty host address")
	}
	t := domain.HostTarget{
		Address:        address,
		Port:           defaults.Port,
		LoginPrincipal: defaults.User,
		KeyPath:        defaults.KeyPath,
	}
	if hosts == nil {
		return t, nil
	}
	m, err := hosts.GetByAddress(address)
	if errors.Is(err, sql.ErrNoRows) {
		return t, nil
	}
	if err != nil {
		return t, errors.Wrapf(err, "lookup host %s", address)
	}
	if m.SSHUser != "" {
		t.LoginPrincipal = m.SSHUser
	}
	if m.SSHPort > 0 {
		t.Port = m.SSHPort
	}
	if m.KeyPath != "" {
		t.KeyPath = m.KeyPath
	}
	return t, nil
}
