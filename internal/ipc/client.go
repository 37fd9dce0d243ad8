package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"focusd/internal/engine"
	"focusd/internal/health"
	"focusd/internal/record"
	"focusd/internal/registry"
)

// Common errors
var (
	ErrNotConnected     = errors.New("ipc: not connected to daemon")
	ErrDaemonNotRunning = errors.New("ipc: daemon is not running")
	ErrAddressInUse     = errors.New("ipc: socket already in use")
	ErrBadFrame         = errors.New("ipc: malformed message")
	ErrUnexpectedReply  = errors.New("ipc: unexpected response")
)

// IPCClient is a synchronous client of the focusd daemon. Calls are
// serialized over a single connection.
type IPCClient struct {
	mu        sync.Mutex
	conn      net.Conn
	nextReqID uint32
	config    ClientConfig
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns the client defaults for the daemon listening
// on socketPath.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Dial connects to the daemon. It returns ErrDaemonNotRunning when nothing
// listens on the socket.
func Dial(ctx context.Context, cfg ClientConfig) (*IPCClient, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "unix", cfg.SocketPath)
	if err != nil {
		if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s", ErrDaemonNotRunning, cfg.SocketPath)
		}
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &IPCClient{conn: conn, config: cfg}, nil
}

// Close closes the connection.
func (c *IPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Call sends a request of type reqType and decodes a response of type
// respType into resp. A remote failure is returned as *ErrorResponse.
func (c *IPCClient) Call(ctx context.Context, reqType, respType MessageType, req, resp any) error {
	payload, err := Encode(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", reqType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.config.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	c.nextReqID++
	reqID := c.nextReqID
	if err := NewMessage(reqType, reqID, payload).Write(c.conn); err != nil {
		return fmt.Errorf("write %s request: %w", reqType, err)
	}

	msg, err := ReadMessage(c.conn)
	if err != nil {
		return fmt.Errorf("read %s response: %w", reqType, err)
	}
	if msg.Header.RequestID != reqID && msg.Header.RequestID != 0 {
		return fmt.Errorf("%w: request id %d, want %d", ErrUnexpectedReply, msg.Header.RequestID, reqID)
	}

	switch msg.Header.Type {
	case MsgError:
		var e ErrorResponse
		if err := Decode(msg.Payload, &e); err != nil {
			return fmt.Errorf("decode error response: %w", err)
		}
		return &e
	case respType:
		if resp == nil {
			return nil
		}
		if err := Decode(msg.Payload, resp); err != nil {
			return fmt.Errorf("decode %s: %w", respType, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s for %s", ErrUnexpectedReply, msg.Header.Type, reqType)
	}
}

// Ping checks that the daemon answers.
func (c *IPCClient) Ping(ctx context.Context) error {
	return c.Call(ctx, MsgPing, MsgPong, nil, nil)
}

// Status returns the daemon status.
func (c *IPCClient) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.Call(ctx, MsgStatusRequest, MsgStatusResponse, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Metrics returns a metrics snapshot, with the Prometheus text when asked.
func (c *IPCClient) Metrics(ctx context.Context, prometheus bool) (*MetricsResponse, error) {
	var resp MetricsResponse
	if err := c.Call(ctx, MsgMetricsRequest, MsgMetricsResponse, &MetricsRequest{Prometheus: prometheus}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health runs the daemon's health checks.
func (c *IPCClient) Health(ctx context.Context) (*health.Report, error) {
	var r health.Report
	if err := c.Call(ctx, MsgHealthRequest, MsgHealthResponse, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReadRange returns the records overlapping [start, end), clipped to the
// range.
func (c *IPCClient) ReadRange(ctx context.Context, start, end int64) ([]record.FocusRecord, error) {
	var resp RecordsResponse
	req := &ReadRangeRequest{Start: start, End: end}
	if err := c.Call(ctx, MsgReadRange, MsgReadRangeResp, req, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// ReadCursor returns one page of the record log.
func (c *IPCClient) ReadCursor(ctx context.Context, cursor uint64, limit int, dir engine.Direction) (engine.Page, error) {
	var page engine.Page
	req := &ReadCursorRequest{Cursor: cursor, Limit: limit, Backward: dir == engine.Backward}
	if err := c.Call(ctx, MsgReadCursor, MsgReadCursorResp, req, &page); err != nil {
		return engine.Page{}, err
	}
	return page, nil
}

// Days lists the indexed days.
func (c *IPCClient) Days(ctx context.Context) ([]engine.DayEntry, error) {
	var resp DaysResponse
	if err := c.Call(ctx, MsgDays, MsgDaysResp, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Days, nil
}

// StartTimestamp returns the first millisecond of history.
func (c *IPCClient) StartTimestamp(ctx context.Context) (int64, error) {
	var resp StartTimestampResponse
	if err := c.Call(ctx, MsgStartTimestamp, MsgStartTimestampResp, nil, &resp); err != nil {
		return 0, err
	}
	return resp.StartTimestamp, nil
}

// Apps lists the registered applications.
func (c *IPCClient) Apps(ctx context.Context) ([]registry.App, error) {
	var resp AppsResponse
	if err := c.Call(ctx, MsgApps, MsgAppsResp, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Apps, nil
}

// AppPath returns the path registered under id.
func (c *IPCClient) AppPath(ctx context.Context, id record.AppID) (string, error) {
	var app registry.App
	if err := c.Call(ctx, MsgAppPath, MsgAppPathResp, &AppPathRequest{ID: id}, &app); err != nil {
		return "", err
	}
	return app.Path, nil
}

// AppID returns the id of path.
func (c *IPCClient) AppID(ctx context.Context, path string) (record.AppID, error) {
	var app registry.App
	if err := c.Call(ctx, MsgAppID, MsgAppIDResp, &AppIDRequest{Path: path}, &app); err != nil {
		return 0, err
	}
	return app.ID, nil
}

// Suspend stops the daemon from persisting spans.
func (c *IPCClient) Suspend(ctx context.Context) (string, error) {
	var resp StateResponse
	if err := c.Call(ctx, MsgSuspend, MsgSuspendResp, nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

// Resume re-enables persisting spans.
func (c *IPCClient) Resume(ctx context.Context) (string, error) {
	var resp StateResponse
	if err := c.Call(ctx, MsgResume, MsgResumeResp, nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

// IsNotFound reports whether err is a remote not-found failure.
func IsNotFound(err error) bool {
	var e *ErrorResponse
	return errors.As(err, &e) && e.Code == ErrNotFound
}
