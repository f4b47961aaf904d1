package service

import (
	"sync"
	"time"

	"github.com/QingMing-Bot/provision-check/internal/domain"
	"github.com/QingMing-Bot/provision-check/internal/logging"
)

// HistorySink 历史落盘目标，repository.HistoryRepo 满足该接口
type HistorySink interface {
	Insert(*domain.ExecHistory) error
}

// HistoryWriter 异步批量写入命令历史，避免 sqlite 写入阻塞远程执行
type HistoryWriter struct {
	sink          HistorySink
	ch            chan domain.ExecHistory
	stop          chan struct{}
	flushInterval time.Duration
	batchSize     int
	wg            sync.WaitGroup
	closeOnce     sync.Once
	log           logging.Logger

	mu      sync.Mutex
	dropped int
}

func NewHistoryWriter(sink HistorySink, flushSec int, batchSize int) *HistoryWriter {
	if flushSec <= 0 {
		flushSec = 2
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	hw := &HistoryWriter{
		sink:          sink,
		ch:            make(chan domain.ExecHistory, batchSize*4),
		stop:          make(chan struct{}),
		flushInterval: time.Duration(flushSec) * time.Second,
		batchSize:     batchSize,
		log:           logging.New("history"),
	}
	hw.wg.Add(1)
	go hw.loop()
	return hw
}

func (w *HistoryWriter) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	batch := make([]domain.ExecHistory, 0, w.batchSize)
	flush := func() {
		for i := range batch {
			h := batch[i]
			if err := w.sink.Insert(&h); err != nil {
				w.log.WithError(err).WithField("command", h.Command).Warn("unable to persist history")
			}
		}
		batch = batch[:0]
	}
	for {
		select {
		case h := <-w.ch:
			batch = append(batch, h)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush()
			}
		case <-w.stop:
			// 排空通道中剩余的记录
			for {
				select {
				case h := <-w.ch:
					batch = append(batch, h)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Write 非阻塞写入，通道满时丢弃
func (w *HistoryWriter) Write(h domain.ExecHistory) {
	select {
	case w.ch <- h:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
}

// Dropped 因通道满被丢弃的条数
func (w *HistoryWriter) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close 刷出剩余记录；有丢弃时记一条告警
func (w *HistoryWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.stop)
		w.wg.Wait()
		if n := w.Dropped(); n > 0 {
			w.log.WithField("dropped", n).Warn("history entries dropped, channel was full")
		}
	})
}
