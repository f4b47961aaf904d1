package repository

import (
	"time"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

// MachineRepoIface 抽象主机清单。
type MachineRepoIface interface {
	GetByAddress(string) (domain.Machine, error)
	Save(*domain.Machine) error
	RecordRun(string, domain.OSFamily, time.Time) error
	DeleteByAddress(string) error
	EnsureSchema() error
}

// HistoryRepoIface 抽象历史仓库。
type HistoryRepoIface interface {
	Insert(*domain.ExecHistory) error
	ListRecent(int) ([]domain.ExecHistory, error)
	ListByRun(string) ([]domain.ExecHistory, error)
	Cleanup(int, int) error
	EnsureSchema() error
}

// 编译期断言本地实现满足接口
var _ MachineRepoIface = (*MachineRepo)(nil)
var _ HistoryRepoIface = (*HistoryRepo)(nil)
