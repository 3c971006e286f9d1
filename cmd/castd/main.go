package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/castline/castd/internal/ai"
	"github.com/castline/castd/internal/api"
	"github.com/castline/castd/internal/broker"
	"github.com/castline/castd/internal/config"
	"github.com/castline/castd/internal/engage"
	"github.com/castline/castd/internal/eventbus"
	"github.com/castline/castd/internal/news"
	"github.com/castline/castd/internal/orchestrator"
	"github.com/castline/castd/internal/persona"
	"github.com/castline/castd/internal/respond"
	"github.com/castline/castd/internal/scenario"
	"github.com/castline/castd/internal/social"
	"github.com/castline/castd/internal/state"
	"github.com/castline/castd/internal/web"
	"github.com/castline/castd/internal/workflow"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal("create data dir", zap.Error(err))
	}

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		log.Fatal("open db", zap.String("path", cfg.DBPath), zap.Error(err))
	}
	defer db.Close()

	roster, err := persona.LoadRoster(cfg.RosterPath)
	if err != nil {
		log.Warn("roster unavailable, using built-in cast",
			zap.String("path", cfg.RosterPath), zap.Error(err))
		roster = persona.DefaultRoster()
	}

	var provider ai.Provider
	if cfg.GeminiAPIKey != "" {
		provider, err = ai.NewGemini(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatal("gemini client", zap.Error(err))
		}
	} else {
		log.Warn("no model API key configured; responses will fall back")
		provider = ai.Unavailable{}
	}

	bus := eventbus.NewBus(db)
	kv := state.NewKV(db)
	newsStore := news.NewStore(db)
	socialProvider := social.NewLocal(db)
	generator := respond.NewGenerator(provider)
	runner := workflow.NewRunner(engage.NewEngine(), generator, socialProvider, bus, log)

	orch := orchestrator.New(db, roster, runner, generator, newsStore, bus, log, orchestrator.Options{
		SessionID:        cfg.SessionID,
		AutoPublish:      cfg.AutoPublish,
		MaxThreadReplies: cfg.MaxThreadReplies,
	})
	defer orch.Shutdown()

	scenarios := scenario.NewRegistry(bus, log)
	scenarios.RegisterDefaults()
	cmdBroker := broker.NewBroker(kv, bus, broker.NewDispatcher(orch, scenarios), log)

	apiServer := &api.Server{
		Broker:    cmdBroker,
		Orch:      orch,
		Scenarios: scenarios,
		Bus:       bus,
		News:      newsStore,
		SessionID: cfg.SessionID,
		StartedAt: time.Now().UTC(),
	}
	webServer := &web.Server{Dir: cfg.WebDir}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Handler())
	mux.Handle("/", webServer.Handler())

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Fatal("listen", zap.String("addr", cfg.HTTPAddr), zap.Error(err))
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Handler:           loggingMiddleware(log, mux),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return serverCtx
		},
	}

	go func() {
		log.Info("castd listening",
			zap.String("addr", listener.Addr().String()),
			zap.String("session_id", cfg.SessionID),
			zap.Int("characters", len(roster)))
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	serverCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	_ = httpServer.Close()
}

func loggingMiddleware(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}
