package sink

import (
	"sync"
	"time"
)

// Mock is a test double collecting everything written to it. An
// optional per-write delay emulates a real device consuming samples,
// which paces the engine's writer loop in timing-sensitive tests.
type Mock struct {
	mu         sync.Mutex
	written    []byte
	writes     int
	flushes    int
	closed     bool
	failNext   int
	writeErr   error
	writeDelay time.Duration
}

// NewMock creates a mock sink.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Write(p []byte) error {
	m.mu.Lock()
	delay := m.writeDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.failNext > 0 {
		m.failNext--
		return m.writeErr
	}
	m.written = append(m.written, p...)
	m.writes++
	return nil
}

func (m *Mock) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Test helpers

// FailWrites makes the next n writes return err.
func (m *Mock) FailWrites(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.writeErr = err
}

// SetWriteDelay makes every write block for d before completing.
func (m *Mock) SetWriteDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeDelay = d
}

// Written returns a copy of all bytes accepted so far.
func (m *Mock) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.written))
	copy(out, m.written)
	return out
}

// Writes returns the number of successful writes.
func (m *Mock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Flushes returns the number of Flush calls.
func (m *Mock) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Verify Mock implements Sink at compile time.
var _ Sink = (*Mock)(nil)
