package session

import "sync"

// lane admits callers one at a time in the order they called acquire.
type lane struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func newLane() *lane {
	l := &lane{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *lane) acquire() {
	l.mu.Lock()
	ticket := l.next
	l.next++
	for ticket != l.serving {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

func (l *lane) release() {
	l.mu.Lock()
	l.serving++
	l.cond.Broadcast()
	l.mu.Unlock()
}
