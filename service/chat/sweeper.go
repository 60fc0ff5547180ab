package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"PPSignal/logger"

	"go.uber.org/zap"
)

type SweeperConf struct {
	Interval     time.Duration // 清理周期
	ProbeTimeout time.Duration // 单次探活上限
	Parallel     int           // 同时探活的会话数
}

func (c *SweeperConf) norm() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.Parallel <= 0 {
		c.Parallel = 64
	}
}

// Sweeper 周期探活，失败的会话被驱逐；与每连接的读循环互不依赖
type Sweeper struct {
	reg     *Registry
	router  *Router
	conf    SweeperConf
	metrics *Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewSweeper(router *Router, conf SweeperConf, m *Metrics) *Sweeper {
	conf.norm()
	return &Sweeper{
		reg:     router.Registry(),
		router:  router,
		conf:    conf,
		metrics: m,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (w *Sweeper) Start() {
	go w.loop()
}

func (w *Sweeper) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

func (w *Sweeper) loop() {
	defer close(w.done)
	t := time.NewTicker(w.conf.Interval)
	defer t.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-w.stopCh:
					cancel()
				case <-ctx.Done():
				}
			}()
			probed, evicted := w.SweepOnce(ctx)
			cancel()
			if evicted > 0 {
				logger.Info("[sweeper] sweep done", zap.Int("probed", probed), zap.Int("evicted", evicted))
			}
		}
	}
}

// SweepOnce 快照后释放锁再探活，慢连接不会拖住其他会话
func (w *Sweeper) SweepOnce(ctx context.Context) (probed, evicted int) {
	start := time.Now()
	sessions := w.reg.Snapshot()

	var (
		wg      sync.WaitGroup
		dropped atomic.Int64
		sem     = make(chan struct{}, w.conf.Parallel)
	)
	for _, s := range sessions {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return probed, int(dropped.Load())
		}
		probed++
		wg.Add(1)
		go func(s *Session) {
			defer func() {
				<-sem
				wg.Done()
			}()
			pctx, cancel := context.WithTimeout(ctx, w.conf.ProbeTimeout)
			defer cancel()
			if err := s.Channel.Probe(pctx); err != nil {
				logger.Info("[sweeper] probe failed", zap.Int64("user", s.UserID), zap.String("conn", s.ConnID), zap.Error(err))
				if w.reg.evictSession(s, ReasonProbe) {
					dropped.Add(1)
				}
				return
			}
			w.router.TouchPresence(pctx, s.UserID)
		}(s)
	}
	wg.Wait()
	w.metrics.sweep(time.Since(start).Seconds())
	return probed, int(dropped.Load())
}
