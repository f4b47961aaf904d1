package ssh

import (
	"bytes"
	"io"
	"regexp"
	"strconv"
	"sync"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

// puppet --evaltrace 的单行格式
var evaluatedPattern = regexp.MustCompile(`Info: (.+?): Evaluated in ([0-9]+(?:\.[0-9]+)?) seconds`)

// 单行缓存上限；超出的行直到下一个换行前都被丢弃
const maxPartialLine = 64 << 10

// ProfileScanner 从流式输出中增量提取 "Evaluated in" 耗时。
// 片段不保证按行对齐，未完成的行会缓存到下一个片段。
type ProfileScanner struct {
	partial  []byte
	overflow bool
	metrics  map[string]float64
	keys     []string
}

func NewProfileScanner() *ProfileScanner {
	return &ProfileScanner{metrics: map[string]float64{}}
}

// Write 实现 io.Writer，永不返回错误
func (p *ProfileScanner) Write(chunk []byte) (int, error) {
	rest := chunk
	for len(rest) > 0 {
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			p.buffer(rest)
			break
		}
		p.buffer(rest[:idx])
		if !p.overflow {
			p.scanLine(p.partial)
		}
		p.partial = p.partial[:0]
		p.overflow = false
		rest = rest[idx+1:]
	}
	return len(chunk), nil
}

func (p *ProfileScanner) buffer(b []byte) {
	if p.overflow {
		return
	}
	if len(p.partial)+len(b) > maxPartialLine {
		p.partial = p.partial[:0]
		p.overflow = true
		return
	}
	p.partial = append(p.partial, b...)
}

// Flush 处理流结束时残留的半行
func (p *ProfileScanner) Flush() {
	if len(p.partial) > 0 && !p.overflow {
		p.scanLine(p.partial)
	}
	p.partial = nil
	p.overflow = false
}

func (p *ProfileScanner) scanLine(line []byte) {
	m := evaluatedPattern.FindSubmatch(bytes.TrimRight(line, "\r"))
	if m == nil {
		return
	}
	secs, err := strconv.ParseFloat(string(m[2]), 64)
	if err != nil {
		return
	}
	name := string(m[1])
	if _, seen := p.metrics[name]; !seen {
		p.keys = append(p.keys, name)
	}
	p.metrics[name] = secs
}

func (p *ProfileScanner) Metrics() map[string]float64 { return p.metrics }

// Keys 按首次出现顺序
func (p *ProfileScanner) Keys() []string { return p.keys }

// demux 串行分发 stdout/stderr 片段：追加到结果、按需实时镜像、profile 模式下喂给 scanner。
type demux struct {
	mu      sync.Mutex
	res     *domain.CommandResult
	stdout  io.Writer // nil 表示不镜像
	stderr  io.Writer
	scanner *ProfileScanner
}

func newDemux(res *domain.CommandResult, opts ExecOptions, stdout, stderr io.Writer) *demux {
	d := &demux{res: res}
	if opts.CaptureStdout {
		d.stdout = stdout
	}
	if opts.CaptureStderr {
		d.stderr = stderr
	}
	if opts.Profile {
		d.scanner = NewProfileScanner()
	}
	return d
}

func (d *demux) onChunk(b []byte, isErr bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if isErr {
		d.res.Stderr = append(d.res.Stderr, string(b))
		if d.stderr != nil {
			_, _ = d.stderr.Write(b)
		}
		return
	}
	d.res.Stdout = append(d.res.Stdout, string(b))
	if d.stdout != nil {
		_, _ = d.stdout.Write(b)
	}
	if d.scanner != nil {
		_, _ = d.scanner.Write(b)
	}
}

func (d *demux) finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scanner == nil {
		return
	}
	d.scanner.Flush()
	d.res.Metrics = d.scanner.Metrics()
	d.res.MetricKeys = d.scanner.Keys()
}

// pump 读取管道直到 EOF，每次读取作为一个片段
func pump(r io.Reader, isErr bool, d *demux) {
	buf := make([]byte, 4096)
	for {
		n, er := r.Read(buf)
		if n > 0 {
			d.onChunk(buf[:n], isErr)
		}
		if er != nil {
			return
		}
	}
}
