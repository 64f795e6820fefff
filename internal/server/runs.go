package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	core "github.com/gqy20/issuelab-secondme/internal/agent/core"
	"github.com/gqy20/issuelab-secondme/internal/queue/streams"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var runsTracer = otel.Tracer("issuelab/server/runs")

// Runner executes one orchestration, emitting events to sink.
type Runner interface {
	Run(ctx context.Context, req core.RunRequest, sink core.EventSink) *core.RunState
}

// RunStore is the read side of persisted runs.
type RunStore interface {
	GetRunState(ctx context.Context, runID string) (*core.RunState, bool, error)
	ListRuns(ctx context.Context, userID string, limit int) ([]core.RunSummary, error)
}

// EventMirror copies live events aside and replays them later.
type EventMirror interface {
	Sink(ctx context.Context, runID string) core.EventSink
	Replay(ctx context.Context, runID string) ([]streams.Envelope, error)
}

type RunsHandler struct {
	orch   Runner
	store  RunStore
	mirror EventMirror
	logger *log.Logger
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId"`
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("/ask", h.ask)
	g.GET("/runs", h.listRuns)
	g.GET("/runs/:run_id", h.getRun)
	g.GET("/runs/:run_id/events", h.runEvents)
}

// ask runs one debate and streams its events as SSE. The run follows the
// request context, so a client disconnect cancels outstanding model calls.
func (h *RunsHandler) ask(c echo.Context) error {
	var body askRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	question := strings.TrimSpace(body.Question)
	if question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}

	req := core.RunRequest{
		RunID:     uuid.NewString(),
		TaskID:    strings.TrimSpace(body.TaskID),
		UserID:    userID(c),
		SessionID: strings.TrimSpace(body.SessionID),
		Question:  question,
	}
	ctx, span := runsTracer.Start(c.Request().Context(), "RunsHandler.ask")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", req.RunID))

	c.Response().Header().Set("X-Run-ID", req.RunID)
	w, err := newSSEWriter(c, h.logger)
	if err != nil {
		span.SetStatus(codes.Error, "streaming unsupported")
		return err
	}

	var sink core.EventSink = w
	if h.mirror != nil {
		sink = core.Tee(w, h.mirror.Sink(ctx, req.RunID))
	}
	st := h.orch.Run(ctx, req, sink)
	if st != nil {
		span.SetAttributes(attribute.String("status", string(st.Status)))
		h.logger.Printf("run %s finished: %s", st.RunID, st.Status)
	}
	return nil
}

func (h *RunsHandler) listRuns(c echo.Context) error {
	if h.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run storage disabled")
	}
	limit := 0
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		limit = n
	}
	runs, err := h.store.ListRuns(c.Request().Context(), userID(c), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *RunsHandler) getRun(c echo.Context) error {
	if h.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run storage disabled")
	}
	st, ok, err := h.store.GetRunState(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok || !owns(c, st.UserID) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, st)
}

// runEvents replays a run's mirrored events as JSON, or as SSE when the
// client asks for text/event-stream.
func (h *RunsHandler) runEvents(c echo.Context) error {
	if h.mirror == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event mirror disabled")
	}
	ctx := c.Request().Context()
	runID := c.Param("run_id")
	if h.store != nil {
		st, ok, err := h.store.GetRunState(ctx, runID)
		if err == nil && ok && !owns(c, st.UserID) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
	}
	envs, err := h.mirror.Replay(ctx, runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if len(envs) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no events for run")
	}
	if !strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream") {
		return c.JSON(http.StatusOK, envs)
	}
	w, err := newSSEWriter(c, h.logger)
	if err != nil {
		return err
	}
	for _, env := range envs {
		w.write(env.EventType, env.Data)
	}
	return nil
}

func userID(c echo.Context) string {
	id, _ := c.Get("user_id").(string)
	return id
}

// owns reports whether the caller may see a run owned by runUser. Without
// auth every run is visible.
func owns(c echo.Context, runUser string) bool {
	caller := userID(c)
	return caller == "" || caller == runUser
}
