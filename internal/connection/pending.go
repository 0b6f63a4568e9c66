package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marpi82/bragerconnect/internal/wrkfnc"
)

// result is what a pending slot resolves to.
type result struct {
	resp *wrkfnc.Response
	err  error
}

// pendingTable maps request numbers to single-use result slots.
//
// A slot is removed from the map before it is fulfilled, so it can never be
// resolved twice. Slots are buffered so resolve never blocks the read loop.
type pendingTable struct {
	mu    sync.Mutex
	last  int64
	slots map[int64]chan result
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		last:  -1,
		slots: make(map[int64]chan result),
	}
}

// allocate takes the next request number and registers its slot in one
// critical section.
func (t *pendingTable) allocate() (int64, <-chan result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last++
	ch, err := t.registerLocked(t.last)
	return t.last, ch, err
}

func (t *pendingTable) register(id int64) (<-chan result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registerLocked(id)
}

func (t *pendingTable) registerLocked(id int64) (<-chan result, error) {
	if _, ok := t.slots[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	ch := make(chan result, 1)
	t.slots[id] = ch
	return ch, nil
}

// resolve fulfils and removes the slot for resp.Number. It reports false
// when no such slot exists (late or duplicate response).
func (t *pendingTable) resolve(resp *wrkfnc.Response) bool {
	ch, ok := t.take(resp.Number)
	if !ok {
		return false
	}
	ch <- result{resp: resp}
	return true
}

// remove drops the slot for id without fulfilling it.
func (t *pendingTable) remove(id int64) bool {
	_, ok := t.take(id)
	return ok
}

func (t *pendingTable) take(id int64) (chan result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.slots[id]
	if ok {
		delete(t.slots, id)
	}
	return ch, ok
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// wait blocks until the slot for id resolves, timeout elapses or ctx ends.
// On timeout or cancellation the slot is removed; a resolution that won the
// race is still returned.
func (t *pendingTable) wait(ctx context.Context, id int64, ch <-chan result, timeout time.Duration) (*wrkfnc.Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cause error
	select {
	case r := <-ch:
		return r.resp, r.err
	case <-timer.C:
		cause = fmt.Errorf("%w: nr %d after %v", ErrTimeout, id, timeout)
	case <-ctx.Done():
		cause = ctx.Err()
	}

	if !t.remove(id) {
		r := <-ch
		return r.resp, r.err
	}
	return nil, cause
}
