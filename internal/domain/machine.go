package domain

import "time"

// Machine 主机清单中的一条记录，用于覆盖默认的 SSH 登录参数。
// 注意: os_family 在每次运行解析后回写，仅作记录，不参与下一次运行的判定
type Machine struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"`   // 目标主机地址 (唯一)
	SSHUser   string    `json:"ssh_user"`  // 为空则使用全局默认
	SSHPort   int       `json:"ssh_port"`  // 0 表示默认端口
	KeyPath   string    `json:"-"`         // 私钥路径（不序列化）
	OSFamily  OSFamily  `json:"os_family"` // 最近一次解析结果
	Remark    string    `json:"remark,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
}
