package buffered

import "sync"

// gate is the writer loop's pause primitive. An open gate is a closed
// channel, so waiting writers can select on it together with the stop
// channel instead of blocking on a condition variable.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

// Open releases waiters. Idempotent.
func (g *gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}

// Shut makes subsequent waits block. Idempotent.
func (g *gate) Shut() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

// Opened returns a channel that is closed while the gate is open.
func (g *gate) Opened() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}
