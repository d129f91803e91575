package channel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openrovo/rovo/internal/logging"
	"github.com/openrovo/rovo/roboproto"
)

// rpcTable correlates in-flight request ids to their reply slots. Each slot
// is a buffered channel of capacity one: resolve pops the slot under the
// lock and completes it without blocking, so a reply arriving after the
// waiter gave up is simply dropped on the floor of a dead channel.
type rpcTable struct {
	mu    sync.Mutex
	slots map[int]chan *roboproto.Message
}

func newRPCTable() *rpcTable {
	return &rpcTable{slots: make(map[int]chan *roboproto.Message)}
}

// add reserves a reply slot for the request id. Fails when the id is
// already in flight.
func (t *rpcTable) add(id int) (chan *roboproto.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.slots[id]; exists {
		return nil, NewDuplicateRequestError(id)
	}
	ch := make(chan *roboproto.Message, 1)
	t.slots[id] = ch
	return ch, nil
}

// remove frees the slot, typically after a timeout. The id becomes
// immediately reusable.
func (t *rpcTable) remove(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, id)
}

// resolve completes the slot for the id, if one is still waiting. Returns
// whether a waiter was found.
func (t *rpcTable) resolve(id int, msg *roboproto.Message) bool {
	t.mu.Lock()
	ch, ok := t.slots[id]
	if ok {
		delete(t.slots, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

// failAll closes every waiting slot, waking all waiters with a nil reply.
// Used when the underlying connection is lost or the channel closes.
func (t *rpcTable) failAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.slots {
		close(ch)
		delete(t.slots, id)
	}
}

// awaitReply blocks until the slot completes, the timeout elapses or the
// context is cancelled. On timeout or cancellation the slot is freed so the
// id can be reused.
func (t *rpcTable) awaitReply(ctx context.Context, id int, ch <-chan *roboproto.Message, timeout time.Duration) (*roboproto.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, NewSessionError("connection lost while waiting for reply", nil)
		}
		return msg, nil
	case <-timer.C:
		t.remove(id)
		return nil, NewTimeoutError(id)
	case <-ctx.Done():
		t.remove(id)
		return nil, NewSessionError("command cancelled", ctx.Err())
	}
}

type callbackEntry struct {
	fn Callback
}

// callbackSet is the subscriber registry shared by both channel flavours.
type callbackSet struct {
	mu      sync.Mutex
	entries []*callbackEntry
}

func (s *callbackSet) add(cb Callback) func() {
	entry := &callbackEntry{fn: cb}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.entries {
			if e == entry {
				s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
				return
			}
		}
	}
}

// dispatch delivers the message to every registered callback. A panicking
// callback is logged and does not break delivery to the others.
func (s *callbackSet) dispatch(msg roboproto.Message) {
	s.mu.Lock()
	entries := append([]*callbackEntry(nil), s.entries...)
	s.mu.Unlock()
	for _, entry := range entries {
		invokeCallback(entry.fn, msg)
	}
}

func invokeCallback(cb Callback, msg roboproto.Message) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("panic in channel subscriber", zap.Any("panic", r))
		}
	}()
	cb(msg)
}
