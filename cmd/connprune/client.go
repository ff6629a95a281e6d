package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eliteGoblin/connprune/internal/daemon"
	"github.com/eliteGoblin/connprune/internal/domain"
	"github.com/eliteGoblin/connprune/internal/transport"
)

// daemonClient talks to a running "connprune serve".
type daemonClient struct {
	base string
	http *http.Client
}

func newDaemonClient(addr string) *daemonClient {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &daemonClient{
		base: strings.TrimSuffix(addr, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// call sends body (if any) as JSON and decodes the response into out. Error
// responses are returned as errors carrying the server's message.
func (c *daemonClient) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach connprune service at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e daemon.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			return fmt.Errorf("%s: %s", e.Error, e.Message)
		}
		if resp.StatusCode == http.StatusConflict && bytes.Contains(data, []byte("already_running")) {
			return domain.ErrAlreadyRunning
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// subscribe opens the progress stream. The service sends its latest report
// first, so a caller that starts a fresh load must skip a stale terminal one.
func (c *daemonClient) subscribe(ctx context.Context) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(c.base, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress stream: %w", err)
	}
	return conn, nil
}

// follow reads events until a complete terminal report arrives, skipping the
// first skip terminal reports.
func follow(ctx context.Context, conn *websocket.Conn, skip int, onEvent func(transport.Event)) ([]domain.Contact, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var asm transport.Assembler
	for {
		var e transport.Event
		if err := conn.ReadJSON(&e); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("progress stream closed: %w", err)
		}

		contacts, done, err := asm.Add(e)
		if err != nil {
			return nil, err
		}
		if skip > 0 {
			if done {
				skip--
			}
			continue
		}
		onEvent(e)
		if done {
			return contacts, nil
		}
	}
}
