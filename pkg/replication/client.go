package replication

import (
	"bufio"
	"fmt"
	"net"
	"time"
)

// Client is a connection to a peer node. Implementations must bound every
// operation by the given timeout; none may block indefinitely.
// This interface abstracts the underlying transport (TCP, or a mock for
// testing).
type Client interface {
	Connect(addr string, timeout time.Duration) error
	Send(data []byte, timeout time.Duration) error
	Recv(timeout time.Duration) ([]string, error)
	Close() error
	// Descriptor returns the connection's file descriptor, -1 when not
	// connected.
	Descriptor() int
}

// ClientFactory creates clients. Implementations can provide real TCP
// clients or mocks for testing.
type ClientFactory interface {
	NewClient() Client
}

// TCPClientFactory produces tcpClient instances.
type TCPClientFactory struct{}

// NewClient returns an unconnected TCP client.
func (TCPClientFactory) NewClient() Client {
	return &tcpClient{fd: -1}
}

// tcpClient speaks the array-of-bulk-strings protocol over a raw TCP
// connection with explicit per-call deadlines.
type tcpClient struct {
	conn   net.Conn
	reader *bufio.Reader
	fd     int
}

func (c *tcpClient) Connect(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.fd = -1
	if tc, ok := conn.(*net.TCPConn); ok {
		if raw, err := tc.SyscallConn(); err == nil {
			raw.Control(func(fd uintptr) { c.fd = int(fd) })
		}
	}
	return nil
}

func (c *tcpClient) Send(data []byte, timeout time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("replication: not connected")
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (c *tcpClient) Recv(timeout time.Duration) ([]string, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("replication: not connected")
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	reply, err := readReply(c.reader)
	if err != nil {
		return nil, fmt.Errorf("recv: %w", err)
	}
	return reply, nil
}

func (c *tcpClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	c.fd = -1
	return err
}

func (c *tcpClient) Descriptor() int {
	return c.fd
}

var _ Client = (*tcpClient)(nil)
