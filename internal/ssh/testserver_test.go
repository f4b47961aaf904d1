package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	gssh "golang.org/x/crypto/ssh"
)

// handler 处理一次 exec；返回 nil 表示不发送 exit-status
type handler func(ch gssh.Channel) *uint32

type testServer struct {
	t        *testing.T
	ln       net.Listener
	config   *gssh.ServerConfig
	mu       sync.Mutex
	handlers map[string]handler
	rejectCh bool
	dropOpen bool
	sessions int
}

func newTestServer(t *testing.T) *testServer {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := gssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	cfg := &gssh.ServerConfig{
		PasswordCallback: func(c gssh.ConnMetadata, pass []byte) (*gssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(signer)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &testServer{t: t, ln: ln, config: cfg, handlers: map[string]handler{}}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *testServer) addr() string { return s.ln.Addr().String() }

func (s *testServer) handle(cmd string, h handler) {
	s.mu.Lock()
	s.handlers[cmd] = h
	s.mu.Unlock()
}

func (s *testServer) rejectSessions() {
	s.mu.Lock()
	s.rejectCh = true
	s.mu.Unlock()
}

// dropOnOpen 收到通道请求时直接断开连接，模拟正在关机的主机
func (s *testServer) dropOnOpen() {
	s.mu.Lock()
	s.dropOpen = true
	s.mu.Unlock()
}

func exitWith(code uint32, stdout, stderr string) handler {
	return func(ch gssh.Channel) *uint32 {
		if stdout != "" {
			_, _ = ch.Write([]byte(stdout))
		}
		if stderr != "" {
			_, _ = ch.Stderr().Write([]byte(stderr))
		}
		return &code
	}
}

func (s *testServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serveConn(conn)
	}
}

func (s *testServer) serveConn(conn net.Conn) {
	_, chans, reqs, err := gssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	go gssh.DiscardRequests(reqs)
	for nc := range chans {
		s.mu.Lock()
		reject, drop := s.rejectCh, s.dropOpen
		s.sessions++
		s.mu.Unlock()
		if drop {
			_ = conn.Close()
			return
		}
		if nc.ChannelType() != "session" || reject {
			_ = nc.Reject(gssh.Prohibited, "sessions disabled")
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, creqs)
	}
}

func (s *testServer) serveSession(ch gssh.Channel, reqs <-chan *gssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := gssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		s.mu.Lock()
		h, ok := s.handlers[payload.Command]
		s.mu.Unlock()
		if !ok {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)
		if code := h(ch); code != nil {
			_, _ = ch.SendRequest("exit-status", false, gssh.Marshal(struct{ Status uint32 }{*code}))
		}
		return
	}
}
