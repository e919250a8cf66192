package hass

import (
	"fmt"
	"sync"
)

// outcome is what a waiting caller receives: a response or an error.
type outcome struct {
	resp *Response
	err  error
}

// pendingTable is the correlation engine. It holds one single-use slot per
// outstanding message identifier.
//
// Invariants:
//   - At most one slot exists per identifier.
//   - A slot is removed by the first resolve for its identifier; later
//     resolves for the same identifier are no-ops.
//   - After cancelAll, every slot has received the failure and register
//     fails with the same error.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[uint64]chan outcome
	closed  error
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		waiters: make(map[uint64]chan outcome),
	}
}

// register creates the slot for id. It must be called before the command
// carrying id is handed to the writer loop.
func (p *pendingTable) register(id uint64) (<-chan outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed != nil {
		return nil, p.closed
	}
	if _, exists := p.waiters[id]; exists {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}

	// Buffered so resolve never blocks, even if the caller stopped waiting.
	ch := make(chan outcome, 1)
	p.waiters[id] = ch
	return ch, nil
}

// resolve delivers o to the slot for id and removes it.
// It reports whether a slot existed.
func (p *pendingTable) resolve(id uint64, o outcome) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- o
	return true
}

// forget drops the slot for id without delivering anything. Used when the
// command never reached the writer loop.
func (p *pendingTable) forget(id uint64) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// cancelAll fails every outstanding slot with err and refuses new slots.
// It returns the number of slots that were failed.
func (p *pendingTable) cancelAll(err error) int {
	p.mu.Lock()
	if p.closed == nil {
		p.closed = err
	}
	waiters := p.waiters
	p.waiters = make(map[uint64]chan outcome)
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- outcome{err: err}
	}
	return len(waiters)
}

// len returns the number of outstanding slots.
func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
