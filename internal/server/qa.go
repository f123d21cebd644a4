package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/revlens-ai/revlens/internal/engine"
	"github.com/revlens-ai/revlens/internal/session"
	"github.com/revlens-ai/revlens/internal/telemetry"
)

// QAHandler serves the question answering endpoints.
type QAHandler struct {
	Engine   *engine.Engine
	Sessions *session.Manager
	Timeout  time.Duration
	Metrics  *telemetry.Metrics
	Logger   *log.Logger
}

// Register mounts the QA routes on the group.
func (h *QAHandler) Register(g *echo.Group) {
	g.POST("/qa", h.answer)
	g.POST("/qa/stream", h.stream)
}

type qaRequest struct {
	Question      string `json:"question"`
	SessionID     string `json:"session_id,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

type qaResponse struct {
	SessionID string `json:"session_id"`
	*engine.Response
}

func (h *QAHandler) parse(c echo.Context) (engine.Question, error) {
	var req qaRequest
	if err := c.Bind(&req); err != nil {
		return engine.Question{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return engine.Question{}, echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	sid := req.SessionID
	if sid == "" {
		sid = uuid.New().String()
	}
	return engine.Question{
		Text:          strings.TrimSpace(req.Question),
		SessionID:     sid,
		MaxIterations: req.MaxIterations,
	}, nil
}

// answer runs the loop synchronously and returns the terminal payload.
func (h *QAHandler) answer(c echo.Context) error {
	q, err := h.parse(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	st := h.Sessions.Get(ctx, q.SessionID)
	resp := h.Engine.Answer(ctx, q, st)
	if resp.Status != engine.StatusFault {
		h.Sessions.RecordTurn(c.Request().Context(), q.SessionID, q.Text, resp.AnswerText)
	}
	return c.JSON(http.StatusOK, qaResponse{SessionID: q.SessionID, Response: resp})
}

// stream runs the loop while emitting trace phase events over SSE, followed
// by one terminal result event. Client disconnect cancels the run.
func (h *QAHandler) stream(c echo.Context) error {
	q, err := h.parse(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	if h.Metrics != nil {
		h.Metrics.ActiveStreams.Inc()
		defer h.Metrics.ActiveStreams.Dec()
	}

	send := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("event: " + event + "\n")); err != nil {
			return err
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	st := h.Sessions.Get(ctx, q.SessionID)
	events := h.Engine.Stream(ctx, q, st)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-heartbeat.C:
			if _, err := resp.Write([]byte(": keep-alive\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case "trace":
				if err := send("trace", ev.Trace); err != nil {
					h.Logger.Printf("stream write failed for session %s: %v", q.SessionID, err)
					return nil
				}
			case "result":
				if ev.Response.Status != engine.StatusFault {
					h.Sessions.RecordTurn(c.Request().Context(), q.SessionID, q.Text, ev.Response.AnswerText)
				}
				if err := send("result", qaResponse{SessionID: q.SessionID, Response: ev.Response}); err != nil {
					h.Logger.Printf("stream write failed for session %s: %v", q.SessionID, err)
				}
				return nil
			}
		}
	}
}
