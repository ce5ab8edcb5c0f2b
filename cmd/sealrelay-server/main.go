package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"sealrelay/internal/server/config"
	"sealrelay/internal/server/httpapi"
	"sealrelay/internal/server/msgstore"
	"sealrelay/internal/server/repository"
	"sealrelay/internal/server/usecase"
	"sealrelay/pkg/logger"
)

var log = logger.New("server")

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Configure(os.Stderr, "error")
		log.Fatalf("load config: %v", err)
	}
	if err := logger.Configure(os.Stderr, cfg.Log.Level); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DB.DSN)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("postgres unreachable: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	store := msgstore.New(rdb)
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("redis unreachable: %v", err)
	}

	repo := repository.New(db)
	if err := repo.CreateSchema(ctx); err != nil {
		log.Fatalf("create schema: %v", err)
	}

	limiter := httpapi.NewRateLimiter(repo, cfg.RateLimit.IPPerMin, cfg.RateLimit.UserPerMin)
	if n, err := limiter.Sweep(ctx); err != nil {
		log.Warningf("startup window sweep failed: %v", err)
	} else if n > 0 {
		log.Infof("swept %d stale rate limit windows", n)
	}

	handler := httpapi.New(usecase.NewKeys(repo), usecase.NewMessages(repo, store), limiter)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Noticef("listening on %s", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Notice("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}
}
