package secret

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

// EnvAgentSock ssh-agent 套接字
const EnvAgentSock = "SSH_AUTH_SOCK"

var ErrNoCredentials = errors.New("no ssh credentials available (set SSH_AUTH_SOCK or provide a private key)")

// Keyring 提供单一受信任的密钥登录方式：优先 ssh-agent，其次私钥文件。
// 解析过的私钥按路径缓存，一次运行内多次连接只读一次文件。
type Keyring struct {
	defaultKey string
	passphrase []byte
	agentSock  string

	mu        sync.Mutex
	signers   map[string]gssh.Signer
	agentConn net.Conn
	agent     agent.ExtendedAgent
}

// NewKeyring defaultKey 为空时使用 ~/.ssh/id_rsa
func NewKeyring(defaultKey string, passphrase string) *Keyring {
	if defaultKey == "" {
		defaultKey = DefaultKeyPath()
	}
	k := &Keyring{
		defaultKey: defaultKey,
		agentSock:  os.Getenv(EnvAgentSock),
		signers:    map[string]gssh.Signer{},
	}
	if passphrase != "" {
		k.passphrase = []byte(passphrase)
	}
	return k
}

// DefaultKeyPath 获取本地 SSH 私钥路径（跨平台）
func DefaultKeyPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".ssh", "id_rsa")
}

// ExpandPath 展开 ~/ 前缀
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, strings.TrimPrefix(p, "~"))
	}
	return p
}

// AuthMethods 实现 ssh.AuthSource
func (k *Keyring) AuthMethods(target domain.HostTarget) ([]gssh.AuthMethod, error) {
	var methods []gssh.AuthMethod
	if a := k.agentClient(); a != nil {
		methods = append(methods, gssh.PublicKeysCallback(a.Signers))
	}
	path := target.KeyPath
	if path == "" {
		path = k.defaultKey
	}
	signer, err := k.signer(ExpandPath(path))
	switch {
	case err == nil:
		methods = append(methods, gssh.PublicKeys(signer))
	case errors.Is(err, os.ErrNotExist) && len(methods) > 0:
		// 有 agent 时私钥文件可选
	default:
		if len(methods) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrNoCredentials, err)
		}
	}
	return methods, nil
}

func (k *Keyring) signer(path string) (gssh.Signer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if s, ok := k.signers[path]; ok {
		return s, nil
	}
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := gssh.ParsePrivateKey(keyData)
	var missing *gssh.PassphraseMissingError
	if errors.As(err, &missing) {
		if len(k.passphrase) == 0 {
			return nil, fmt.Errorf("parse key %s: passphrase required", path)
		}
		signer, err = gssh.ParsePrivateKeyWithPassphrase(keyData, k.passphrase)
	}
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", path, err)
	}
	k.signers[path] = signer
	return signer, nil
}

// agentClient 懒连接 ssh-agent；连接失败视为没有 agent
func (k *Keyring) agentClient() agent.ExtendedAgent {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.agent != nil || k.agentSock == "" {
		return k.agent
	}
	conn, err := net.Dial("unix", k.agentSock)
	if err != nil {
		k.agentSock = ""
		return nil
	}
	k.agentConn = conn
	k.agent = agent.NewClient(conn)
	return k.agent
}

// Close 关闭 agent 连接
func (k *Keyring) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.agentConn == nil {
		return nil
	}
	err := k.agentConn.Close()
	k.agentConn, k.agent = nil, nil
	return err
}
