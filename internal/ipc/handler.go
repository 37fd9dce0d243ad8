package ipc

import (
	"bytes"
	"context"
	"errors"
	"time"

	"focusd/internal/engine"
	"focusd/internal/health"
	"focusd/internal/metrics"
	"focusd/internal/registry"
	"focusd/internal/tracking"
)

// StatusProvider reports the tracking service status.
type StatusProvider interface {
	Status() tracking.Status
}

// DaemonHandler answers requests from the storage engine, the tracking
// service and the metrics registry of a running daemon.
type DaemonHandler struct {
	engine    *engine.Engine
	tracker   StatusProvider
	metrics   *metrics.Registry
	focus     *metrics.FocusMetrics
	health    *health.Checker
	version   string
	startedAt time.Time
	clients   func() int
}

// DaemonHandlerConfig configures the daemon handler
type DaemonHandlerConfig struct {
	Engine  *engine.Engine
	Tracker StatusProvider
	Metrics *metrics.FocusMetrics
	Health  *health.Checker
	Version string
}

// NewDaemonHandler creates a new daemon handler
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	h := &DaemonHandler{
		engine:    cfg.Engine,
		tracker:   cfg.Tracker,
		focus:     cfg.Metrics,
		health:    cfg.Health,
		version:   cfg.Version,
		startedAt: time.Now(),
	}
	if cfg.Metrics != nil {
		h.metrics = cfg.Metrics.Registry()
	}
	return h
}

// AttachServer lets status responses report the connected client count.
func (h *DaemonHandler) AttachServer(s *Server) {
	h.clients = s.ClientCount
}

// HandleMessage processes an IPC message
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	reqID := msg.Header.RequestID

	switch msg.Header.Type {
	case MsgStatusRequest:
		return NewResponse(MsgStatusResponse, reqID, h.status())

	case MsgMetricsRequest:
		return h.handleMetrics(msg)

	case MsgHealthRequest:
		if h.health == nil {
			return NewErrorMessage(reqID, ErrUnsupported, "health checks disabled"), nil
		}
		return NewResponse(MsgHealthResponse, reqID, h.health.Report(ctx))

	case MsgReadRange:
		var req ReadRangeRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(reqID, ErrInvalidRequest, "invalid read_range request"), nil
		}
		if req.End < req.Start {
			return NewErrorMessage(reqID, ErrInvalidRequest, "end before start"), nil
		}
		return NewResponse(MsgReadRangeResp, reqID, &RecordsResponse{Records: h.engine.ReadByTimestamp(req.Start, req.End)})

	case MsgReadCursor:
		var req ReadCursorRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(reqID, ErrInvalidRequest, "invalid read_cursor request"), nil
		}
		dir := engine.Forward
		if req.Backward {
			dir = engine.Backward
		}
		return NewResponse(MsgReadCursorResp, reqID, h.engine.ReadByCursor(req.Cursor, req.Limit, dir))

	case MsgDays:
		return NewResponse(MsgDaysResp, reqID, &DaysResponse{Days: h.engine.Days()})

	case MsgStartTimestamp:
		return NewResponse(MsgStartTimestampResp, reqID, &StartTimestampResponse{StartTimestamp: h.engine.StartTimestamp()})

	case MsgApps:
		return NewResponse(MsgAppsResp, reqID, &AppsResponse{Apps: h.engine.Apps()})

	case MsgAppPath:
		var req AppPathRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(reqID, ErrInvalidRequest, "invalid app_path request"), nil
		}
		path, err := h.engine.AppPath(req.ID)
		if err != nil {
			return lookupError(reqID, err)
		}
		return NewResponse(MsgAppPathResp, reqID, &registry.App{ID: req.ID, Path: path})

	case MsgAppID:
		var req AppIDRequest
		if err := Decode(msg.Payload, &req); err != nil || req.Path == "" {
			return NewErrorMessage(reqID, ErrInvalidRequest, "invalid app_id request"), nil
		}
		id, err := h.engine.AppID(req.Path)
		if err != nil {
			return lookupError(reqID, err)
		}
		return NewResponse(MsgAppIDResp, reqID, &registry.App{ID: id, Path: req.Path})

	case MsgSuspend:
		h.engine.Suspend()
		return NewResponse(MsgSuspendResp, reqID, &StateResponse{State: h.engine.State().String()})

	case MsgResume:
		h.engine.Resume()
		return NewResponse(MsgResumeResp, reqID, &StateResponse{State: h.engine.State().String()})

	default:
		return NewErrorMessage(reqID, ErrInvalidRequest, "unknown message type "+msg.Header.Type.String()), nil
	}
}

func (h *DaemonHandler) status() *StatusResponse {
	resp := &StatusResponse{
		Version:   h.version,
		Ready:     h.health == nil || h.health.IsReady(),
		StartedAt: h.startedAt,
		Uptime:    time.Since(h.startedAt),
		DataDir:   h.engine.Dir(),
		Meta:      h.engine.Meta(),
		Engine:    h.engine.Stats(),
	}
	if h.tracker != nil {
		st := h.tracker.Status()
		resp.Tracking = &st
	}
	if h.clients != nil {
		resp.Clients = h.clients()
	}
	return resp
}

func (h *DaemonHandler) handleMetrics(msg *Message) (*Message, error) {
	reqID := msg.Header.RequestID
	if h.metrics == nil {
		return NewErrorMessage(reqID, ErrUnsupported, "metrics disabled"), nil
	}

	var req MetricsRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(reqID, ErrInvalidRequest, "invalid metrics request"), nil
	}

	h.focus.SetSizes(h.engine.Stats().Records, len(h.engine.Apps()))
	resp := &MetricsResponse{Values: h.metrics.Snapshot()}
	if req.Prometheus {
		var buf bytes.Buffer
		if err := h.metrics.WritePrometheus(&buf); err != nil {
			return nil, err
		}
		resp.Prometheus = buf.String()
	}
	return NewResponse(MsgMetricsResponse, reqID, resp)
}

func lookupError(reqID uint32, err error) (*Message, error) {
	if errors.Is(err, registry.ErrNotFound) {
		return NewErrorMessage(reqID, ErrNotFound, err.Error()), nil
	}
	if errors.Is(err, registry.ErrReadOnly) {
		return NewErrorMessage(reqID, ErrPermissionDenied, err.Error()), nil
	}
	return nil, err
}
