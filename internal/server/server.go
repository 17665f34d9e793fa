package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/veritas/config"
	"github.com/mohammad-safakhou/veritas/internal/agent"
	"github.com/mohammad-safakhou/veritas/internal/llm"
	"github.com/mohammad-safakhou/veritas/internal/llm/openai"
	"github.com/mohammad-safakhou/veritas/internal/store"
	"github.com/mohammad-safakhou/veritas/internal/telemetry"
)

// Run wires the adapters and serves the fact-check API.
func Run(cfg *config.Config) error {
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.NewMetrics()
	}

	var providers []llm.Gateway
	for name, pc := range cfg.LLM.Providers {
		p := openai.New(pc)
		if metrics != nil && cfg.Telemetry.CostTracking {
			prov := p
			p.OnUsage = func(model string, in, out int64) {
				metrics.RecordUsage(model, in, out, prov.CalculateCost(in, out, model))
			}
		}
		baseLogger.Printf("provider %s: %d models", name, len(pc.Models))
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return fmt.Errorf("no LLM providers configured")
	}
	gateway := llm.NewMux(providers...)

	var graphDB *store.GraphStore
	if dsn := cfg.Storage.Postgres.DSN(); cfg.Storage.Postgres.URL != "" || cfg.Storage.Postgres.Host != "" {
		if err := store.Migrate("file://migrations", dsn); err != nil {
			return fmt.Errorf("migrate graph store: %w", err)
		}
		db, err := store.Open(dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		graphDB = db
	} else {
		baseLogger.Printf("graph persistence disabled (no postgres configured)")
	}

	manager := NewManager(cfg, gateway, metrics, graphDB, baseLogger)
	h := &Handler{manager: manager}

	e.POST("/start-fact-check", h.startFactCheck)
	e.GET("/agents/:id/events", h.streamEvents)
	e.POST("/agents/:id/resume", h.resume)
	e.POST("/agents/:id/interrupt", h.interrupt)
	e.GET("/agents/:id/state", h.state)
	e.GET("/agents/:id/graph", h.sessionGraph)

	return e.Start(cfg.Server.Address)
}

// Handler exposes the session API.
type Handler struct {
	manager *Manager
}

type startRequest struct {
	NewsText string        `json:"news_text"`
	Config   SessionConfig `json:"config"`
}

func (h *Handler) startFactCheck(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.NewsText) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "news_text is required")
	}
	s, err := h.manager.Start(req.NewsText, req.Config)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"session_id": s.ID})
}

// streamEvents forwards the session's event stream as SSE. Closing the
// consumer cancels the session.
func (h *Handler) streamEvents(c echo.Context) error {
	s, ok := h.manager.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
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

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			s.Cancel()
			return nil
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Topic, data); err != nil {
				s.Cancel()
				return nil
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) resume(c echo.Context) error {
	s, ok := h.manager.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	var decision agent.ResumeDecision
	if err := c.Bind(&decision); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if decision.Action == "" {
		decision.Action = "continue"
	}
	if decision.Action != "continue" && decision.Action != "revise" {
		return echo.NewHTTPError(http.StatusBadRequest, "action must be continue or revise")
	}
	if err := h.manager.Resume(s, decision); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": s.Status()})
}

func (h *Handler) interrupt(c echo.Context) error {
	s, ok := h.manager.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	s.Cancel()
	return c.JSON(http.StatusOK, map[string]string{"status": s.Status()})
}

func (h *Handler) state(c echo.Context) error {
	s, ok := h.manager.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	snap, found, err := s.State(c.Request().Context())
	if err != nil {
		return err
	}
	if !found {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": s.Status()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":            s.Status(),
		"next":              snap.Next,
		"interrupted":       snap.Interrupted,
		"interrupt_payload": snap.InterruptPayload,
		"state":             snap.State,
		"updated_at":        snap.UpdatedAt,
	})
}

func (h *Handler) sessionGraph(c echo.Context) error {
	if h.manager.graphDB == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "graph persistence disabled")
	}
	g, err := h.manager.graphDB.LoadSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, g)
}
