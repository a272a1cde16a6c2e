package ws

import (
	"sync"
)

type mockConn struct {
	id     string
	user   string
	mu     sync.Mutex
	frames [][]byte
	closed bool
	fail   bool
}

func newMockConn(id string) *mockConn {
	return &mockConn{id: id, user: "user-" + id}
}

func (m *mockConn) ID() string       { return m.id }
func (m *mockConn) UserID() string   { return m.user }
func (m *mockConn) UserName() string { return "User " + m.id }

func (m *mockConn) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.fail {
		return ErrSendBufferFull
	}
	m.frames = append(m.frames, append([]byte(nil), frame...))
	return nil
}

func (m *mockConn) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) Frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	copy(out, m.frames)
	return out
}
