package domain

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// OSFamily 目标主机的操作系统族，封闭枚举。
type OSFamily string

const (
	OSUnknown OSFamily = ""
	OSLinux   OSFamily = "linux"
	OSAIX     OSFamily = "aix"
	OSSunOS   OSFamily = "sunos"
)

// SupportedOSFamilies 所有可以驱动的系统族（不含 OSUnknown）。
var SupportedOSFamilies = []OSFamily{OSLinux, OSAIX, OSSunOS}

var ErrUnsupportedOS = errors.New("unsupported os family")

func (f OSFamily) String() string {
	if f == OSUnknown {
		return "unknown"
	}
	return string(f)
}

// Supported 判断是否为已知系统族。
func (f OSFamily) Supported() bool {
	switch f {
	case OSLinux, OSAIX, OSSunOS:
		return true
	}
	return false
}

// ParseOSFamily 解析 `uname -s` 的输出。
func ParseOSFamily(uname string) (OSFamily, error) {
	switch strings.ToLower(strings.TrimSpace(uname)) {
	case "linux":
		return OSLinux, nil
	case "aix":
		return OSAIX, nil
	case "sunos":
		return OSSunOS, nil
	}
	return OSUnknown, fmt.Errorf("%w: %q", ErrUnsupportedOS, strings.TrimSpace(uname))
}

const DefaultSSHPort = 22

// HostTarget 一次运行所针对的主机。OSFamily 在运行开始时解析一次，此后不变。
type HostTarget struct {
	Address        string   `json:"address" yaml:"address"`
	Port           int      `json:"port,omitempty" yaml:"port,omitempty"`
	LoginPrincipal string   `json:"login" yaml:"login"`
	KeyPath        string   `json:"-" yaml:"-"`
	OSFamily       OSFamily `json:"os_family" yaml:"os_family"`
}

// Addr 返回 host:port；Address 自带端口时原样使用。
func (h HostTarget) Addr() string {
	if _, _, err := net.SplitHostPort(h.Address); err == nil {
		return h.Address
	}
	port := h.Port
	if port <= 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(h.Address, strconv.Itoa(port))
}

// WithOS 返回解析出系统族后的副本。
func (h HostTarget) WithOS(f OSFamily) HostTarget {
	h.OSFamily = f
	return h
}

// RevertSpec 一次还原所需的全部参数。Excludes 总是 "该系统族列表 + common 列表"。
type RevertSpec struct {
	Excludes    []string
	Flags       []string
	Source      string
	Destination string
}
