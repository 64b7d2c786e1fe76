// Package conn frames a net.Conn into request/response messages, growing
// its read buffer on demand the way the Rust source's BytesMut-backed
// Connection does rather than allocating a fixed maximum message size.
package conn

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/epokhe/kvs/internal/protocol"
)

const initialBufSize = 4 * 1024

// ErrConnReset reports the peer closing mid-message: bytes were buffered
// but the stream ended before a full frame arrived.
var ErrConnReset = errors.New("conn: connection reset by peer")

// FramedConn reads and writes length-framed protocol messages over a
// net.Conn, buffering partial reads across calls.
type FramedConn struct {
	nc  net.Conn
	buf []byte // unconsumed bytes read so far
}

func New(nc net.Conn) *FramedConn {
	return &FramedConn{nc: nc, buf: make([]byte, 0, initialBufSize)}
}

// ReadRequest blocks until a full Request has been read, or returns
// io.EOF if the peer closed the connection cleanly with no partial
// message pending.
func (c *FramedConn) ReadRequest() (protocol.Request, error) {
	for {
		req, n, err := protocol.DecodeRequest(c.buf)
		if err == nil {
			c.advance(n)
			return req, nil
		}
		if !errors.Is(err, protocol.ErrIncomplete) {
			return protocol.Request{}, fmt.Errorf("conn: decode request: %w", err)
		}
		if err := c.fill(); err != nil {
			return protocol.Request{}, err
		}
	}
}

// ReadResponse blocks until a full Response has been read.
func (c *FramedConn) ReadResponse() (protocol.Response, error) {
	for {
		resp, n, err := protocol.DecodeResponse(c.buf)
		if err == nil {
			c.advance(n)
			return resp, nil
		}
		if !errors.Is(err, protocol.ErrIncomplete) {
			return protocol.Response{}, fmt.Errorf("conn: decode response: %w", err)
		}
		if err := c.fill(); err != nil {
			return protocol.Response{}, err
		}
	}
}

// WriteRequest writes req as a single frame.
func (c *FramedConn) WriteRequest(req protocol.Request) error {
	_, err := c.nc.Write(protocol.EncodeRequest(req))
	if err != nil {
		return fmt.Errorf("conn: write request: %w", err)
	}
	return nil
}

// WriteResponse writes resp as a single frame.
func (c *FramedConn) WriteResponse(resp protocol.Response) error {
	_, err := c.nc.Write(protocol.EncodeResponse(resp))
	if err != nil {
		return fmt.Errorf("conn: write response: %w", err)
	}
	return nil
}

func (c *FramedConn) Close() error { return c.nc.Close() }

// fill reads more bytes from the network into buf, growing it (doubling)
// if it's already full. It reports io.EOF when the peer closed cleanly
// with nothing buffered, and ErrConnReset when it closed mid-message.
func (c *FramedConn) fill() error {
	if len(c.buf) == cap(c.buf) {
		grown := make([]byte, len(c.buf), cap(c.buf)*2)
		copy(grown, c.buf)
		c.buf = grown
	}

	n, err := c.nc.Read(c.buf[len(c.buf):cap(c.buf)])
	c.buf = c.buf[:len(c.buf)+n]

	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			if len(c.buf) == 0 {
				return io.EOF
			}
			return ErrConnReset
		}
		return fmt.Errorf("conn: read: %w", err)
	}
	return nil
}

func (c *FramedConn) advance(n int) {
	remaining := copy(c.buf, c.buf[n:])
	c.buf = c.buf[:remaining]
}
