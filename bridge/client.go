package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const dialTimeout = 10 * time.Second

// Client is the caller side of the bridge protocol: one persistent
// websocket connection, one request in flight at a time. Multiple Clients
// may be open against the same bridge concurrently; ordering between them
// is the caller's responsibility.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial opens a connection and validates it with the version handshake, so
// a listener that is not actually the bridge is rejected up front.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing bridge at %s: %w", url, err)
	}
	c := &Client{conn: conn}
	version, err := c.Version(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bridge handshake failed: %w", err)
	}
	if version == "" {
		conn.Close()
		return nil, fmt.Errorf("endpoint at %s did not identify as a bridge", url)
	}
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Command sends one request and waits for its single response.
func (c *Client) Command(ctx context.Context, command string, params map[string]interface{}) (map[string]interface{}, error) {
	req := map[string]interface{}{"command": command}
	if params != nil {
		req["params"] = params
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(dialTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("sending %s: %w", command, err)
	}

	c.conn.SetReadDeadline(deadline)
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", command, err)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", command, err)
	}
	return resp, nil
}

// Version runs the handshake probe and returns the bridge's version.
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.Command(ctx, "version", nil)
	if err != nil {
		return "", err
	}
	version, _ := resp["version"].(string)
	return version, nil
}

// Screenshot requests a capture and decodes the base64 image payload.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := c.Command(ctx, "screenshot", nil)
	if err != nil {
		return nil, err
	}
	if ok, _ := resp["success"].(bool); !ok {
		msg, _ := resp["error"].(string)
		return nil, fmt.Errorf("screenshot failed: %s", msg)
	}
	encoded, _ := resp["image"].(string)
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	return img, nil
}

// ScreenSize requests the device resolution.
func (c *Client) ScreenSize(ctx context.Context) (int, int, error) {
	resp, err := c.Command(ctx, "get_screen_size", nil)
	if err != nil {
		return 0, 0, err
	}
	if ok, _ := resp["success"].(bool); !ok {
		msg, _ := resp["error"].(string)
		return 0, 0, fmt.Errorf("get_screen_size failed: %s", msg)
	}
	size, _ := resp["size"].(map[string]interface{})
	w, _ := size["width"].(float64)
	h, _ := size["height"].(float64)
	return int(w), int(h), nil
}
