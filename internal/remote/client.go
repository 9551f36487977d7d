// Package remote is the HTTP client of the bridge served by internal/server.
// A Client lets a display surface in another process follow the bus, send
// control commands, and share the persisted turn list.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ghostwriter/internal/bus"
	"ghostwriter/internal/completion"
	"ghostwriter/internal/logger"
	"ghostwriter/internal/menu"
	"ghostwriter/internal/notify"
	"ghostwriter/internal/protocol"
	"ghostwriter/internal/sse"
)

const (
	defaultRequestTimeout = 10 * time.Second

	noticeBuffer = 8
	eventNotice  = "notice"
)

// ErrUnavailable indicates the bridge is running but cannot serve the request.
var ErrUnavailable = errors.New("ghostwriter service unavailable")

// StatusError is a non-2xx bridge response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge returned %d: %s", e.Code, e.Message)
}

// Client talks to one bridge.
type Client struct {
	base    string
	http    *http.Client
	notices *notify.Channel
}

// New returns a client for baseURL, e.g. "http://127.0.0.1:7420".
// httpClient may be nil. It must not set a global timeout since event
// streams are long-lived.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, http: httpClient, notices: notify.NewChannel(noticeBuffer)}
}

// Notices delivers the user notifications carried by event streams opened
// with Events. Notifications arriving while the buffer is full are dropped.
func (c *Client) Notices() <-chan notify.Notification {
	return c.notices.C
}

// Events subscribes to lifecycle messages. The channel closes when ctx is
// done or the stream ends.
func (c *Client) Events(ctx context.Context) (<-chan protocol.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readStatusError(resp)
	}

	out := make(chan protocol.Message, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		reader := sse.NewReader(resp.Body, sse.WithDropHandler(func(derr *sse.DecodeError) {
			logger.Warn("dropped event record", "err", derr)
		}))
		for {
			record, err := reader.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					logger.Warn("event stream ended", "err", err)
				}
				return
			}
			if record.Event == eventNotice {
				var n notify.Notification
				if err := json.Unmarshal([]byte(record.Data), &n); err != nil {
					logger.Warn("decode notification", "err", err)
					continue
				}
				_ = c.notices.Notify(ctx, n)
				continue
			}
			var msg protocol.Message
			if err := json.Unmarshal([]byte(record.Data), &msg); err != nil {
				logger.Warn("decode lifecycle message", "err", err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SendControl delivers a control command to the session.
func (c *Client) SendControl(cmd protocol.Control) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()
	err := c.do(ctx, http.MethodPost, "/control", cmd, nil)
	var status *StatusError
	if errors.As(err, &status) && status.Code == http.StatusServiceUnavailable {
		return fmt.Errorf("%w: %s", bus.ErrNoReceiver, status.Message)
	}
	return err
}

// Activate starts a generation and returns its turn id.
func (c *Client) Activate(ctx context.Context, triggerID, selection string) (string, error) {
	var resp struct {
		TurnID string `json:"turnId"`
	}
	err := c.do(ctx, http.MethodPost, "/triggers/"+triggerID, map[string]string{"selectionText": selection}, &resp)
	var status *StatusError
	if errors.As(err, &status) {
		switch status.Code {
		case http.StatusNotFound:
			return "", fmt.Errorf("%w: %s", menu.ErrUnknownTrigger, triggerID)
		case http.StatusConflict:
			return "", completion.ErrBusy
		case http.StatusBadRequest:
			return "", fmt.Errorf("%w: %s", menu.ErrEmptySelection, status.Message)
		case http.StatusServiceUnavailable:
			return "", fmt.Errorf("%w: %s", ErrUnavailable, status.Message)
		}
	}
	if err != nil {
		return "", err
	}
	return resp.TurnID, nil
}

// Triggers lists the registered triggers.
func (c *Client) Triggers(ctx context.Context) ([]menu.Trigger, error) {
	var triggers []menu.Trigger
	if err := c.do(ctx, http.MethodGet, "/triggers", nil, &triggers); err != nil {
		return nil, err
	}
	return triggers, nil
}

// LoadTurns reads the shared turn list.
func (c *Client) LoadTurns(ctx context.Context) ([]protocol.Turn, error) {
	var turns []protocol.Turn
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// SaveTurns merges turns into the shared list by id.
func (c *Client) SaveTurns(ctx context.Context, upserts []protocol.Turn, removed []string) error {
	body := map[string]any{"upserts": upserts, "removed": removed}
	return c.do(ctx, http.MethodPost, "/chats", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		message = body.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: message}
}
