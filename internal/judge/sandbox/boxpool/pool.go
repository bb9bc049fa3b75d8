// Package boxpool hands out sandbox box ids to concurrent executions and
// takes them back when the execution is done.
package boxpool

import (
	"context"
	"sync"

	appErr "judgelet/pkg/errors"
)

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Total int `json:"total_boxes"`
	InUse int `json:"in_use"`
	Free  int `json:"available"`
}

// Pool is a bounded FIFO pool of box ids. Waiters on Acquire are served in
// arrival order by the free channel.
type Pool struct {
	free  chan int
	total int

	mu    sync.Mutex
	inUse map[int]struct{}
}

// New builds a pool over the inclusive id range [minID, maxID].
func New(minID, maxID int) (*Pool, error) {
	if minID < 0 || maxID < minID {
		return nil, appErr.Newf(appErr.InvalidParams, "invalid box id range [%d, %d]", minID, maxID)
	}
	total := maxID - minID + 1
	p := &Pool{
		free:  make(chan int, total),
		total: total,
		inUse: make(map[int]struct{}, total),
	}
	for id := minID; id <= maxID; id++ {
		p.free <- id
	}
	return p, nil
}

// Acquire blocks until a box id is free or the context is done.
func (p *Pool) Acquire(ctx context.Context) (int, error) {
	select {
	case id := <-p.free:
		p.mu.Lock()
		p.inUse[id] = struct{}{}
		p.mu.Unlock()
		return id, nil
	case <-ctx.Done():
		return 0, appErr.Wrap(ctx.Err(), appErr.SandboxPoolBusy)
	}
}

// Release returns a box id to the pool. Releasing an id that is not
// currently held is a no-op, so a double release cannot corrupt the pool.
func (p *Pool) Release(id int) {
	p.mu.Lock()
	if _, held := p.inUse[id]; !held {
		p.mu.Unlock()
		return
	}
	delete(p.inUse, id)
	p.mu.Unlock()
	p.free <- id
}

// Stats reports occupancy without blocking acquirers.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	inUse := len(p.inUse)
	p.mu.Unlock()
	return Stats{
		Total: p.total,
		InUse: inUse,
		Free:  p.total - inUse,
	}
}
