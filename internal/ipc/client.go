package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/highbeam/settingswatch/internal/settings"
)

// Client communicates with the daemon over a Unix domain socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client that connects to the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// Ping tests if the daemon is alive.
func (c *Client) Ping() error {
	_, err := c.send(Request{Command: CmdPing})
	return err
}

// Status returns the daemon's status data.
func (c *Client) Status() (*StatusData, error) {
	resp, err := c.send(Request{Command: CmdStatus})
	if err != nil {
		return nil, err
	}
	var status StatusData
	if err := decodeData(resp, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// RequestStop asks the daemon to shut down gracefully.
func (c *Client) RequestStop() error {
	_, err := c.send(Request{Command: CmdStop})
	return err
}

// Reload asks the daemon to reload the settings file now.
func (c *Client) Reload() (*settings.Record, error) {
	resp, err := c.send(Request{Command: CmdReload})
	if err != nil {
		return nil, err
	}
	var rec settings.Record
	if err := decodeData(resp, &rec); err != nil {
		return nil, fmt.Errorf("decode reload: %w", err)
	}
	return &rec, nil
}

// SetDebug turns daemon trace logging on or off and returns the new setting.
func (c *Client) SetDebug(enabled bool) (bool, error) {
	resp, err := c.send(Request{
		Command: CmdDebug,
		Args:    map[string]string{"enabled": strconv.FormatBool(enabled)},
	})
	if err != nil {
		return false, err
	}
	var d DebugData
	if err := decodeData(resp, &d); err != nil {
		return false, fmt.Errorf("decode debug: %w", err)
	}
	return d.Debug, nil
}

// decodeData converts resp.Data, a generic value after JSON unmarshal,
// into v by re-marshalling it.
func decodeData(resp *Response, v any) error {
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// send dials the socket, sends a JSON request, reads the JSON response.
func (c *Client) send(req Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("empty response from daemon")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if !resp.OK {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}

	return &resp, nil
}
