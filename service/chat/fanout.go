package chat

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"

	"PPSignal/logger"

	"go.uber.org/zap"
)

type fanoutJob struct {
	users []int64
	n     Notification
}

// Fanout 按 key 分片的推送协程池；同一 key 的任务落到同一个 worker，保证顺序
type Fanout struct {
	reg    *Registry
	shards []chan fanoutJob
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewFanout(reg *Registry, workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{reg: reg, shards: make([]chan fanoutJob, workers)}
	for i := range f.shards {
		ch := make(chan fanoutJob, queue)
		f.shards[i] = ch
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			for job := range ch {
				f.reg.Broadcast(job.users, job.n)
			}
		}()
	}
	return f
}

// Submit 入队；队列满时阻塞直到 ctx 结束
func (f *Fanout) Submit(ctx context.Context, key int64, users []int64, n Notification) bool {
	if len(users) == 0 {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.stopped {
		logger.Warn("[fanout] stopped, drop job", zap.Int64("key", key), zap.String("type", n.Type))
		return false
	}
	ch := f.shards[f.shard(key)]
	select {
	case ch <- fanoutJob{users: users, n: n}:
		return true
	case <-ctx.Done():
		logger.Warn("[fanout] drop job", zap.Int64("key", key), zap.String("type", n.Type), zap.Error(ctx.Err()))
		return false
	}
}

func (f *Fanout) shard(key int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(key, 10)))
	return int(h.Sum32() % uint32(len(f.shards)))
}

// Stop 关闭队列并等已入队任务发完；之后的 Submit 直接丢弃
func (f *Fanout) Stop() {
	f.mu.Lock()
	if !f.stopped {
		f.stopped = true
		for _, ch := range f.shards {
			close(ch)
		}
	}
	f.mu.Unlock()
	f.wg.Wait()
}
