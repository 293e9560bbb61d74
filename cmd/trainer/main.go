package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ssuji15/trainpool/internal/client"
	"github.com/ssuji15/trainpool/internal/component"
	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/csvdata"
	"github.com/ssuji15/trainpool/internal/db"
	"github.com/ssuji15/trainpool/internal/db/repository"
	"github.com/ssuji15/trainpool/internal/distributor"
	"github.com/ssuji15/trainpool/internal/job_tracer"
	"github.com/ssuji15/trainpool/internal/processor"
	"github.com/ssuji15/trainpool/internal/queue"
	"github.com/ssuji15/trainpool/internal/sandbox"
	"github.com/ssuji15/trainpool/internal/service/logger"
	"github.com/ssuji15/trainpool/internal/strategy"
	"github.com/ssuji15/trainpool/model"
)

func main() {
	registry := strategy.Default()
	sandbox.RunChildIfRequested(registry)

	response := flag.String("response", "", "response column (default: last column)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-response column] data.csv [strategy...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("env file error: %v", err)
	}
	if os.Getenv("SERVICE_NAME") == "" {
		_ = os.Setenv("SERVICE_NAME", "trainer")
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

	ccfg, err := config.GetClientConfig()
	if err != nil {
		log.Fatalf("client config error: %v", err)
	}

	dataset, err := csvdata.Load(flag.Arg(0), *response)
	if err != nil {
		log.Fatalf("dataset error: %v", err)
	}
	logger.Log.Info().Str("hash", dataset.Hash.String()).Int("rows", dataset.Rows).Int("columns", len(dataset.Columns)).Msg("dataset loaded")

	names := flag.Args()[1:]
	if len(names) == 0 {
		names = registry.Names()
	}
	q := queue.New()
	defer q.Destroy()
	for _, name := range names {
		if _, ok := registry.Get(name); !ok {
			log.Fatalf("unknown strategy %q (known: %v)", name, registry.Names())
		}
		q.Append(model.NewJob(name, dataset))
	}

	p, err := newProcessor(ccfg)
	if err != nil {
		log.Fatalf("processor initialization error: %v", err)
	}

	if cfg.POSTGRES_URL != "" {
		database, err := db.New(ctx, &config.PostgresConfig{URL: cfg.POSTGRES_URL})
		if err != nil {
			log.Fatalf("db initialization error: %v", err)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			log.Fatalf("db migration error: %v", err)
		}
		p.WithRecorder(repository.NewRunRepository(database))
	}

	err = p.Process(ctx, q)
	if errors.Is(err, client.ErrNoRemoteServers) {
		log.Fatalf("remote processing requested: %v", err)
	}
	if err != nil {
		logger.Log.Error().Err(err).Msg("processing stopped")
	}

	if err := q.Print(os.Stdout); err != nil {
		log.Fatalf("output error: %v", err)
	}
	if best := bestJob(q); best != nil {
		fmt.Printf("best: %s (%d/%d)\n", best.Strategy, best.Score, dataset.Rows)
	}
	if err != nil {
		os.Exit(1)
	}
}

func newProcessor(ccfg *config.ClientConfig) (*processor.Processor, error) {
	opts := processor.OptionsFromConfig(ccfg)
	if opts.Remote {
		if len(ccfg.REMOTE_SERVERS) == 0 {
			return nil, client.ErrNoRemoteServers
		}
		c := client.New(ccfg.REMOTE_SERVERS, client.OptionsFromConfig(ccfg))
		d := distributor.New(c, ccfg.REMOTE_SERVERS, ccfg.NUM_SEEDED_HOSTS, nil)
		return processor.New(nil, opts).WithRemote(c, d), nil
	}

	sbcfg, err := config.GetSandboxConfig()
	if err != nil {
		return nil, err
	}
	launcher, err := component.GetLauncher(sbcfg)
	if err != nil {
		return nil, err
	}
	return processor.New(sandbox.NewRunner(launcher, sbcfg.JOB_WAIT_TIMEOUT), opts), nil
}

func bestJob(q *queue.Queue) *model.Job {
	var best *model.Job
	for e := q.Front(); e != nil; e = e.Next() {
		j := e.Job()
		if j.Trained() && (best == nil || j.Score > best.Score) {
			best = j
		}
	}
	return best
}
