package replication

import (
	"sync"
	"testing"
	"time"

	"github.com/relaykv/relaykv/pkg/binlog"
)

// readStep is one scripted ReadRecords result.
type readStep struct {
	records []binlog.Record
	err     error
}

// mockReader returns its scripted steps in order, then blocks like a tailing
// reader until Close, after which it returns ErrReaderExit.
type mockReader struct {
	mu     sync.Mutex
	steps  []readStep
	number uint64
	offset uint64

	closed chan struct{}
	once   sync.Once
}

func newMockReader(steps ...readStep) *mockReader {
	return &mockReader{steps: steps, closed: make(chan struct{})}
}

func (r *mockReader) ReadRecords() ([]binlog.Record, error) {
	r.mu.Lock()
	if len(r.steps) > 0 {
		step := r.steps[0]
		r.steps = r.steps[1:]
		r.mu.Unlock()
		return step.records, step.err
	}
	r.mu.Unlock()

	<-r.closed
	return nil, binlog.ErrReaderExit
}

func (r *mockReader) Offset() (uint64, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.number, r.offset
}

func (r *mockReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

var _ binlog.Reader = (*mockReader)(nil)

// mockManager records NewReader calls and delegates reader construction to
// the configurable newReader hook.
type mockManager struct {
	mu        sync.Mutex
	calls     [][2]uint64
	newReader func(number, offset uint64) (binlog.Reader, error)
}

func (m *mockManager) NewReader(number, offset uint64) (binlog.Reader, error) {
	m.mu.Lock()
	m.calls = append(m.calls, [2]uint64{number, offset})
	fn := m.newReader
	m.mu.Unlock()

	if fn != nil {
		return fn(number, offset)
	}
	return newMockReader(), nil
}

func (m *mockManager) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockManager) call(i int) [2]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

var _ binlog.Manager = (*mockManager)(nil)

// mockClient is a scripted Client for testing loops without real sockets.
type mockClient struct {
	mu         sync.Mutex
	connectErr error
	sendErr    error
	recvReply  []string
	recvErr    error

	addrs  []string
	sent   [][]byte
	closed bool

	// sendCh, when non-nil, receives a signal on every Send call.
	sendCh chan struct{}
}

func (c *mockClient) Connect(addr string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.addrs = append(c.addrs, addr)
	return nil
}

func (c *mockClient) Send(data []byte, timeout time.Duration) error {
	c.mu.Lock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	err := c.sendErr
	ch := c.sendCh
	c.mu.Unlock()

	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return err
}

func (c *mockClient) Recv(timeout time.Duration) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvReply, c.recvErr
}

func (c *mockClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockClient) Descriptor() int {
	return 42
}

func (c *mockClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *mockClient) connectedAddrs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.addrs...)
}

// sentData concatenates everything written through Send.
func (c *mockClient) sentData() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var all []byte
	for _, d := range c.sent {
		all = append(all, d...)
	}
	return all
}

var _ Client = (*mockClient)(nil)

// mockClientFactory hands out scripted clients in order, then empty ones.
type mockClientFactory struct {
	mu      sync.Mutex
	clients []*mockClient
	created []*mockClient
}

func (f *mockClientFactory) NewClient() Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c *mockClient
	if len(f.clients) > 0 {
		c = f.clients[0]
		f.clients = f.clients[1:]
	} else {
		c = &mockClient{}
	}
	f.created = append(f.created, c)
	return c
}

var _ ClientFactory = (*mockClientFactory)(nil)

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
