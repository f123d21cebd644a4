package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/revlens-ai/revlens/config"
	"github.com/revlens-ai/revlens/internal/engine"
	"github.com/revlens-ai/revlens/internal/llm"
	"github.com/revlens-ai/revlens/internal/schema"
	"github.com/revlens-ai/revlens/internal/session"
	"github.com/revlens-ai/revlens/internal/telemetry"
	"github.com/revlens-ai/revlens/internal/tools"
)

// Run wires the whole service and blocks on the HTTP listener.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
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
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Schema summary is owned by ingestion; an unreadable or empty summary
	// still boots the service, questions just dead-end until a refresh.
	sum, err := schema.Load(cfg.Engine.SchemaPath)
	if err != nil {
		baseLogger.Printf("schema summary unavailable at %s: %v", cfg.Engine.SchemaPath, err)
		sum = &schema.Summary{}
	}
	matcher, err := schema.NewMatcher(sum)
	if err != nil {
		return err
	}

	adapters, err := BuildAdapters(cfg)
	if err != nil {
		return err
	}

	var provider llm.Provider
	if cfg.LLM.APIKey != "" {
		provider = llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model,
			cfg.LLM.Temperature, cfg.LLM.MaxTokens, cfg.LLM.Timeout)
	} else {
		baseLogger.Printf("no model API key configured, running rule-based planning only")
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.New()
	}

	eng := engine.New(engine.Config{
		MaxIterations:       cfg.Engine.MaxIterations,
		ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
		ToolTimeout:         cfg.Engine.ToolTimeout,
	}, adapters, provider, matcher, nil, metrics)

	var history session.HistoryStore
	if addr := cfg.Databases.Redis.Addr(); addr != "" {
		rdb, err := session.NewRedisClient(context.Background(), addr, cfg.Databases.Redis.Password, cfg.Databases.Redis.DB)
		if err != nil {
			return err
		}
		history = session.NewRedisHistory(rdb, cfg.Databases.Redis.TTL)
	}
	sessions := session.NewManager(cfg.Sessions.TTL, history)

	qa := &QAHandler{
		Engine:   eng,
		Sessions: sessions,
		Timeout:  cfg.Engine.RequestTimeout,
		Metrics:  metrics,
		Logger:   log.New(log.Writer(), "[QA] ", log.LstdFlags),
	}
	qa.Register(e.Group("/api"))

	sched := &Scheduler{
		Matcher:  matcher,
		Path:     cfg.Engine.SchemaPath,
		CronSpec: cfg.Engine.SchemaRefreshCron,
		Stop:     make(chan struct{}),
	}
	sched.Start()

	addr := cfg.General.Listen
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// BuildAdapters wires whichever backends are configured. Missing backends
// are fine; the planner only escalates across tools the schema summary and
// adapter set both support.
func BuildAdapters(cfg *config.Config) ([]engine.ToolAdapter, error) {
	var adapters []engine.ToolAdapter
	if dsn := cfg.Databases.Postgres.DSN(); dsn != "" {
		a, err := tools.NewRelationalAdapter(dsn)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Databases.Neo4j.URI != "" {
		a, err := tools.NewGraphAdapter(cfg.Databases.Neo4j.URI, cfg.Databases.Neo4j.User, cfg.Databases.Neo4j.Password)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Databases.Weaviate.Host != "" {
		a, err := tools.NewVectorAdapter(cfg.Databases.Weaviate.Host, cfg.Databases.Weaviate.Scheme)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}
