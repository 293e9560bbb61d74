package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ssuji15/trainpool/internal/client"
	"github.com/ssuji15/trainpool/internal/component"
	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/db"
	"github.com/ssuji15/trainpool/internal/db/repository"
	"github.com/ssuji15/trainpool/internal/job_tracer"
	"github.com/ssuji15/trainpool/internal/sandbox"
	"github.com/ssuji15/trainpool/internal/server"
	"github.com/ssuji15/trainpool/internal/service/logger"
	"github.com/ssuji15/trainpool/internal/strategy"
	"github.com/ssuji15/trainpool/internal/web"
)

func main() {
	registry := strategy.Default()
	sandbox.RunChildIfRequested(registry)

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("env file error: %v", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger.Init(cfg.SERVICE_NAME)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TRACE_URL != "" {
		shutdownTracer, err := job_tracer.InitTracer(ctx, cfg.SERVICE_NAME, cfg.TRACE_URL)
		if err != nil {
			log.Fatalf("error initialising trace: %v", err)
		}
		defer shutdownTracer()
	}

	scfg, err := config.GetServerConfig()
	if err != nil {
		log.Fatalf("server config error: %v", err)
	}
	sbcfg, err := config.GetSandboxConfig()
	if err != nil {
		log.Fatalf("sandbox config error: %v", err)
	}

	cache, err := component.GetServerCache(ctx, cfg.CACHE_TYPE)
	if err != nil {
		log.Fatalf("cache initialization error: %v", err)
	}

	launcher, err := component.GetLauncher(sbcfg)
	if err != nil {
		log.Fatalf("sandbox initialization error: %v", err)
	}
	runner := sandbox.NewRunner(launcher, sbcfg.JOB_WAIT_TIMEOUT)
	fetcher := client.New(nil, client.Options{ReadTimeout: scfg.REMOTE_READ_TIMEOUT})

	srv := server.New(scfg, cache, registry, runner, fetcher)

	var (
		database *db.DB
		runs     web.Runs
	)
	if cfg.POSTGRES_URL != "" {
		database, err = db.New(ctx, &config.PostgresConfig{URL: cfg.POSTGRES_URL})
		if err != nil {
			log.Fatalf("db initialization error: %v", err)
		}
		if err := database.Migrate(ctx); err != nil {
			log.Fatalf("db migration error: %v", err)
		}
		repo := repository.NewRunRepository(database)
		srv.WithRecorder(repo)
		runs = repo
	}

	var admin *http.Server
	if scfg.ADMIN_ADDR != "" {
		admin = &http.Server{
			Addr:              scfg.ADMIN_ADDR,
			Handler:           web.NewServer(srv, runs).Router(),
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Log.Info().Str("addr", scfg.ADMIN_ADDR).Msg("admin HTTP server started")
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("http server error: %v", err)
			}
		}()
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("training server error: %v", err)
	}
	logger.Log.Info().Msg("trying to shutdown server gracefully...")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	shutdown := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(sctx)
		}()
	}
	if admin != nil {
		shutdown(func(ctx context.Context) { _ = admin.Shutdown(ctx) })
	}
	if database != nil {
		shutdown(func(context.Context) { database.Close() })
	}
	shutdown(func(ctx context.Context) { component.ShutDown(ctx, cache) })

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info().Msg("server shutdown gracefully.")
	case <-sctx.Done():
		logger.Log.Info().Msg("server graceful shutdown timedout..")
	}
}
