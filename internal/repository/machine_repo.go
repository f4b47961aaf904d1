package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

type MachineRepo struct {
	db *sql.DB
}

func NewMachineRepo(db *sql.DB) *MachineRepo {
	return &MachineRepo{db: db}
}

// EnsureSchema 可以在启动时调用 (幂等)。
func (r *MachineRepo) EnsureSchema() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS machines(
        id INTEGER PRIMARY KEY AUTOINCREMENT, address TEXT UNIQUE, ssh_user TEXT, ssh_port INTEGER, key_path TEXT,
        os_family TEXT, remark TEXT, created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP, last_run_at TIMESTAMP )`)
	return err
}

func (r *MachineRepo) GetByAddress(addr string) (domain.Machine, error) {
	var m domain.Machine
	var osFamily string
	var lastRun sql.NullTime
	row := r.db.QueryRow(`SELECT id, address, COALESCE(ssh_user,''), COALESCE(ssh_port,0), COALESCE(key_path,''), COALESCE(os_family,''), COALESCE(remark,''), created_at, last_run_at FROM machines WHERE address = ? LIMIT 1`, addr)
	if err := row.Scan(&m.ID, &m.Address, &m.SSHUser, &m.SSHPort, &m.KeyPath, &osFamily, &m.Remark, &m.CreatedAt, &lastRun); err != nil {
		return domain.Machine{}, err
	}
	m.OSFamily = domain.OSFamily(osFamily)
	if lastRun.Valid {
		m.LastRunAt = lastRun.Time
	}
	return m, nil
}

// Save 插入或更新（以 address 作为唯一键）
func (r *MachineRepo) Save(m *domain.Machine) error {
	if strings.TrimSpace(m.Address) == "" {
		return errors.New("empty address")
	}
	ex, err := r.GetByAddress(m.Address)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if ex.ID == 0 { // insert
		res, err := r.db.Exec(`INSERT INTO machines (address, ssh_user, ssh_port, key_path, os_family, remark, created_at) VALUES (?,?,?,?,?,?,?)`,
			m.Address, m.SSHUser, m.SSHPort, m.KeyPath, string(m.OSFamily), m.Remark, time.Now())
		if err != nil {
			return err
		}
		id, _ := res.LastInsertId()
		m.ID = id
		return nil
	}
	_, err = r.db.Exec(`UPDATE machines SET ssh_user=?, ssh_port=?, key_path=?, os_family=?, remark=? WHERE address=?`,
		m.SSHUser, m.SSHPort, m.KeyPath, string(m.OSFamily), m.Remark, m.Address)
	if err != nil {
		return err
	}
	m.ID = ex.ID
	return nil
}

// RecordRun 回写解析出的系统族与运行时间；主机不存在时自动登记
func (r *MachineRepo) RecordRun(addr string, family domain.OSFamily, at time.Time) error {
	res, err := r.db.Exec(`UPDATE machines SET os_family=?, last_run_at=? WHERE address=?`, string(family), at, addr)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = r.db.Exec(`INSERT INTO machines (address, os_family, created_at, last_run_at) VALUES (?,?,?,?)`, addr, string(family), at, at)
	return err
}

// DeleteByAddress 删除机器
func (r *MachineRepo) DeleteByAddress(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	_, err := r.db.Exec(`DELETE FROM machines WHERE address=?`, addr)
	return err
}
