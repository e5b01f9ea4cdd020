package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nradhesh/code-sync/internal/relay"
	"github.com/nradhesh/code-sync/internal/routers"
	"github.com/nradhesh/code-sync/internal/session"
	"github.com/nradhesh/code-sync/internal/store"
	mongostore "github.com/nradhesh/code-sync/internal/store/mongo"
)

func newStore(ctx context.Context, logger *zap.Logger) store.Store {
	switch os.Getenv("SESSION_STORE") {
	case "mongo":
		client, err := mongostore.NewClient(ctx)
		if err != nil {
			log.Fatalf("mongo connect failed: %v", err)
		}
		repo, err := mongostore.NewSessionRepo(client)
		if err != nil {
			log.Fatalf("mongo session repo init failed: %v", err)
		}
		logger.Info("using mongo session store")
		return repo
	case "redis":
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			addr = "redis:6379"
		}
		logger.Info("using redis session store", zap.String("addr", addr))
		return store.NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}))
	default:
		logger.Info("using in-memory session store")
		return store.NewMemoryStore()
	}
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := newStore(ctx, logger)
	reg := session.NewRegistry()
	rel := relay.New(st, reg, logger)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Mount("/", routers.New(logger, rel, reg))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = "10000"
	}
	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Printf("codesync-svc listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reg.CloseAll("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
