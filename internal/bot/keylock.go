package bot

import "sync"

// chatQueue runs work for one key in the order tickets were reserved. Each ticket
// waits for the one reserved before it. Entries are dropped once no ticket for the
// key is outstanding.
type chatQueue struct {
	mu    sync.Mutex
	tails map[string]*queueTail
}

type queueTail struct {
	last chan struct{}
	refs int
}

// ticket is a reserved place in a key's queue.
type ticket struct {
	q      *chatQueue
	key    string
	prev   chan struct{}
	done   chan struct{}
	waited bool
}

func newChatQueue() *chatQueue {
	return &chatQueue{tails: make(map[string]*queueTail)}
}

// Reserve appends a ticket for key. It never blocks, so callers reserve in arrival
// order and wait later on their own goroutine.
func (q *chatQueue) Reserve(key string) *ticket {
	q.mu.Lock()
	defer q.mu.Unlock()
	tail, ok := q.tails[key]
	if !ok {
		tail = &queueTail{}
		q.tails[key] = tail
	}
	t := &ticket{q: q, key: key, prev: tail.last, done: make(chan struct{})}
	tail.last = t.done
	tail.refs++
	return t
}

// Wait blocks until every earlier ticket for the key is released.
func (t *ticket) Wait() {
	if t.waited {
		return
	}
	t.waited = true
	if t.prev != nil {
		<-t.prev
	}
}

// Release lets the next ticket run. A ticket released without Wait still waits for
// its predecessors first so the order holds.
func (t *ticket) Release() {
	t.Wait()
	close(t.done)

	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	tail := t.q.tails[t.key]
	tail.refs--
	if tail.refs == 0 {
		delete(t.q.tails, t.key)
	}
}

func (q *chatQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
