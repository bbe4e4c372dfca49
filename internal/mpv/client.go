// Package mpv implements the streaming playback engine: a long-lived
// mpv process plays disc chapters directly and is driven over its
// JSON IPC socket. A monitor goroutine polls the process to detect
// when audio actually starts and when a chapter boundary is crossed.
package mpv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Response is a single mpv IPC reply. mpv reports success through the
// error field ("success") rather than by omitting it.
type Response struct {
	Err  string          `json:"error"`
	Data json.RawMessage `json:"data"`
}

// OK reports whether mpv accepted the command.
func (r *Response) OK() bool { return r.Err == "success" }

type request struct {
	Command []any `json:"command"`
}

// Client talks to one mpv IPC socket. It keeps a persistent
// connection and transparently falls back to a fresh one-shot
// connection when the persistent one fails mid-request. A single
// mutex serializes requests: one in flight at a time.
type Client struct {
	path    string
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewClient prepares a client for the socket at path. No connection
// is made until the first request.
func NewClient(path string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	return &Client{path: path, timeout: timeout}
}

// Command sends one command array and returns the first response
// line.
func (c *Client) Command(args ...any) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := json.Marshal(request{Command: args})
	if err != nil {
		return nil, fmt.Errorf("mpv: encode command: %w", err)
	}
	payload = append(payload, '\n')

	resp, err := c.roundTrip(payload)
	if err == nil {
		return resp, nil
	}

	// The persistent connection is poisoned; retry the request once
	// on a fresh one.
	c.dropConn()
	return c.roundTrip(payload)
}

func (c *Client) roundTrip(payload []byte) (*Response, error) {
	if c.conn == nil {
		conn, err := net.DialTimeout("unix", c.path, c.timeout)
		if err != nil {
			return nil, fmt.Errorf("mpv: dial %s: %w", c.path, err)
		}
		c.conn = conn
		c.reader = bufio.NewReader(conn)
	}

	deadline := time.Now().Add(c.timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(payload); err != nil {
		return nil, fmt.Errorf("mpv: write: %w", err)
	}

	// mpv interleaves asynchronous events on the same socket; skip
	// them until a command reply (a line with an "error" key) shows
	// up.
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("mpv: read: %w", err)
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.Err == "" {
			continue
		}
		return &resp, nil
	}
}

// GetProperty fetches a property's raw JSON value. A nil value with a
// nil error means mpv has no data for it yet.
func (c *Client) GetProperty(name string) (json.RawMessage, error) {
	resp, err := c.Command("get_property", name)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, nil
	}
	return resp.Data, nil
}

// GetFloat fetches a numeric property. ok is false when the property
// is unavailable or the socket is unreachable.
func (c *Client) GetFloat(name string) (v float64, ok bool) {
	raw, err := c.GetProperty(name)
	if err != nil || raw == nil {
		return 0, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// GetInt fetches an integer property.
func (c *Client) GetInt(name string) (v int, ok bool) {
	f, ok := c.GetFloat(name)
	return int(f), ok
}

// GetBool fetches a boolean property.
func (c *Client) GetBool(name string) (v, ok bool) {
	raw, err := c.GetProperty(name)
	if err != nil || raw == nil {
		return false, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}

// GetString fetches a string property.
func (c *Client) GetString(name string) (v string, ok bool) {
	raw, err := c.GetProperty(name)
	if err != nil || raw == nil {
		return "", false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// SetProperty assigns a property value.
func (c *Client) SetProperty(name string, value any) error {
	resp, err := c.Command("set_property", name, value)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("mpv: set_property %s: %s", name, resp.Err)
	}
	return nil
}

func (c *Client) dropConn() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

// Close releases the persistent connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropConn()
}
