// Package client implements the kvs wire client: connect, then issue
// Get/Set/Remove request-response round-trips.
package client

import (
	"fmt"
	"net"

	"github.com/epokhe/kvs/internal/conn"
	"github.com/epokhe/kvs/internal/protocol"
)

// KeyNotFound is the literal payload the server sends back for a Get/Remove
// on an absent key; the client surfaces it verbatim rather than turning it
// into a Go error.
const KeyNotFound = "Key not found"

// Client holds one connection to a kvs server.
type Client struct {
	fc *conn.FramedConn
	nc net.Conn
}

// Connect dials addr and wraps the connection as a framed client.
func Connect(addr string) (*Client, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect %q: %w", addr, err)
	}
	return &Client{fc: conn.New(nc), nc: nc}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.nc.Close() }

func (c *Client) roundTrip(req protocol.Request) (string, error) {
	if err := c.fc.WriteRequest(req); err != nil {
		return "", err
	}
	resp, err := c.fc.ReadResponse()
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Get fetches key. A missing key is not an error: the response equals
// KeyNotFound, mirroring the server's wire convention.
func (c *Client) Get(key string) (string, error) {
	return c.roundTrip(protocol.NewGet(key))
}

// Set stores value for key. On success the response is the empty string.
func (c *Client) Set(key, value string) (string, error) {
	return c.roundTrip(protocol.NewSet(key, value))
}

// Remove deletes key. On success the response is the empty string; on a
// missing key the response equals KeyNotFound.
func (c *Client) Remove(key string) (string, error) {
	return c.roundTrip(protocol.NewRemove(key))
}
