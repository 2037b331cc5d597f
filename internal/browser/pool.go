package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Pool hands out Chromium instances through a FIFO queue. An instance
// is checked for liveness and restart policy on the way out, so dead
// browsers never reach a caller.
type Pool struct {
	cfg    *Config
	logger *zap.Logger

	mu        sync.RWMutex
	instances []*Instance
	queue     chan int

	activeFetches atomic.Int32
	totalFetches  atomic.Int64
	totalRestarts atomic.Int64
	createdAt     time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// PoolStats is a point-in-time snapshot.
type PoolStats struct {
	TotalInstances     int
	AvailableInstances int
	ActiveInstances    int
	TotalFetches       int64
	TotalRestarts      int64
	Uptime             time.Duration
}

// NewPool launches all instances up front. Failing to launch any of
// them aborts the pool.
func NewPool(cfg *Config, logger *zap.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid browser config: %w", err)
	}

	size := cfg.CalculatePoolSize()
	logger.Info("Initializing browser pool", zap.Int("pool_size", size))

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:       cfg,
		logger:    logger,
		instances: make([]*Instance, size),
		queue:     make(chan int, size),
		createdAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < size; i++ {
		inst, err := newInstance(i, cfg, logger)
		if err != nil {
			p.Shutdown()
			return nil, fmt.Errorf("create browser instance %d: %w", i, err)
		}
		p.instances[i] = inst
		p.queue <- i
	}

	logger.Info("Browser pool initialized", zap.Int("instances", size))
	return p, nil
}

// acquire blocks until an instance is free or either context ends.
func (p *Pool) acquire(ctx context.Context) (*Instance, error) {
	select {
	case <-p.ctx.Done():
		return nil, ErrPoolShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	case id := <-p.queue:
		select {
		case <-p.ctx.Done():
			select {
			case p.queue <- id:
			default:
			}
			return nil, ErrPoolShutdown
		default:
		}

		p.activeFetches.Add(1)

		p.mu.RLock()
		inst := p.instances[id]
		p.mu.RUnlock()

		if !inst.IsAlive() {
			p.logger.Warn("Browser instance is dead, restarting",
				zap.Int("instance_id", id))
			if err := inst.Restart(p.cfg); err != nil {
				select {
				case p.queue <- id:
				case <-p.ctx.Done():
				}
				p.activeFetches.Add(-1)
				return nil, fmt.Errorf("%w: instance %d", ErrInstanceDead, id)
			}
			p.totalRestarts.Add(1)
		} else if inst.ShouldRestart(p.cfg) {
			p.logger.Info("Browser instance hit restart policy",
				zap.Int("instance_id", id),
				zap.Int32("fetches_done", inst.fetchesDone.Load()),
				zap.Duration("age", inst.Age()))
			if err := inst.Restart(p.cfg); err != nil {
				// Keep serving with the old process.
				p.logger.Error("Policy restart failed",
					zap.Int("instance_id", id),
					zap.Error(err))
			} else {
				p.totalRestarts.Add(1)
			}
		}

		inst.status.Store(int32(statusFetching))
		return inst, nil
	}
}

// release returns an instance to the queue.
func (p *Pool) release(inst *Instance) {
	inst.status.Store(int32(statusIdle))
	inst.noteFetch()
	p.totalFetches.Add(1)
	p.activeFetches.Add(-1)

	select {
	case p.queue <- inst.id:
	case <-p.ctx.Done():
		// Shutting down, instance is discarded.
	default:
		p.logger.Error("Browser queue full on release, instance leaked",
			zap.Int("instance_id", inst.id))
	}
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	total := len(p.instances)
	p.mu.RUnlock()

	return PoolStats{
		TotalInstances:     total,
		AvailableInstances: len(p.queue),
		ActiveInstances:    int(p.activeFetches.Load()),
		TotalFetches:       p.totalFetches.Load(),
		TotalRestarts:      p.totalRestarts.Load(),
		Uptime:             time.Since(p.createdAt),
	}
}

// Shutdown drains active fetches up to the configured timeout, then
// terminates every instance.
func (p *Pool) Shutdown() error {
	p.cancel()

	if !p.waitForActiveFetches(p.cfg.ShutdownTimeout) {
		p.logger.Warn("Browser shutdown timeout, terminating with fetches in flight",
			zap.Int32("stuck_fetches", p.activeFetches.Load()))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var failed int
	for i, inst := range p.instances {
		if inst == nil {
			continue
		}
		if err := inst.Terminate(); err != nil {
			p.logger.Error("Error terminating browser instance",
				zap.Int("instance_id", i),
				zap.Error(err))
			failed++
		}
	}

	p.logger.Info("Browser pool shut down",
		zap.Int64("total_fetches", p.totalFetches.Load()),
		zap.Int64("total_restarts", p.totalRestarts.Load()))

	if failed > 0 {
		return fmt.Errorf("%d instances failed to terminate", failed)
	}
	return nil
}

func (p *Pool) waitForActiveFetches(timeout time.Duration) bool {
	deadline := time.Now().UTC().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.activeFetches.Load() == 0 {
			return true
		}
		<-ticker.C
		if time.Now().UTC().After(deadline) {
			return false
		}
	}
}
