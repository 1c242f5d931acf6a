package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Fleet/internal/core"
	"github.com/dkeye/Fleet/internal/domain"
	"github.com/rs/zerolog/log"
)

type workerSlot struct {
	id     domain.WorkerID
	rooms  int
	closed bool
}

// PoolStats is the health view consumed by /health.
type PoolStats struct {
	Total   int `json:"total"`
	Healthy int `json:"healthy"`
	Closed  int `json:"closed"`
}

// WorkerPool owns the fixed worker set created at startup and
// load-balances new room placement across it. Rooms never rebalance
// once placed, so placement always picks the least-loaded slot.
type WorkerPool struct {
	engine core.MediaEngine

	mu      sync.Mutex
	workers []*workerSlot
}

func NewWorkerPool(engine core.MediaEngine) *WorkerPool {
	return &WorkerPool{engine: engine}
}

// Start creates n engine workers. Any creation failure aborts startup;
// a partially built pool is torn down before returning.
func (p *WorkerPool) Start(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("worker pool size must be positive, got %d", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) > 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		id := domain.WorkerID(fmt.Sprintf("worker-%d", i))
		if err := p.engine.CreateWorker(ctx, id); err != nil {
			p.shutdownLocked(ctx)
			return fmt.Errorf("create %s: %w", id, err)
		}
		p.workers = append(p.workers, &workerSlot{id: id})
		log.Info().Str("module", "app.pool").Str("worker", string(id)).Msg("worker created")
	}
	return nil
}

// Acquire binds a new room to the healthy worker with the fewest
// rooms. Fails when every worker is closed.
func (p *WorkerPool) Acquire() (domain.WorkerID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *workerSlot
	for _, w := range p.workers {
		if w.closed {
			continue
		}
		if best == nil || w.rooms < best.rooms {
			best = w
		}
	}
	if best == nil {
		return "", core.ErrWorkerUnavailable
	}
	best.rooms++
	return best.id, nil
}

// Release drops one room binding when a room closes.
func (p *WorkerPool) Release(id domain.WorkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.id == id && w.rooms > 0 {
			w.rooms--
			return
		}
	}
}

// MarkClosed idempotently removes a worker from placement. Rooms
// already bound to it are unaffected.
func (p *WorkerPool) MarkClosed(id domain.WorkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.id == id && !w.closed {
			w.closed = true
			log.Warn().Str("module", "app.pool").Str("worker", string(id)).Msg("worker marked closed")
			return
		}
	}
}

func (p *WorkerPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PoolStats{Total: len(p.workers)}
	for _, w := range p.workers {
		if w.closed {
			s.Closed++
		}
	}
	s.Healthy = s.Total - s.Closed
	return s
}

// Shutdown closes every worker. Per-worker failures are logged and
// swallowed so one stuck worker cannot block process exit.
func (p *WorkerPool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdownLocked(ctx)
}

func (p *WorkerPool) shutdownLocked(ctx context.Context) {
	for _, w := range p.workers {
		if err := p.engine.CloseWorker(ctx, w.id); err != nil {
			log.Error().Err(err).Str("module", "app.pool").Str("worker", string(w.id)).Msg("worker close")
		}
		w.closed = true
	}
	p.workers = nil
}
