package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ssuji15/trainpool/internal/client"
	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/queue"
	"github.com/ssuji15/trainpool/internal/service/logger"
	"github.com/ssuji15/trainpool/model"
	"golang.org/x/sync/errgroup"
)

const LocalLocation = "local"

// Runner trains a job in place. sandbox.Runner implements it.
type Runner interface {
	Process(ctx context.Context, job *model.Job) error
}

// Distributor replicates a dataset before remote dispatch.
type Distributor interface {
	Distribute(ctx context.Context, d *model.Dataset) ([]*model.RemoteServer, error)
}

// Recorder persists finished runs. repository.RunRepository implements it.
type Recorder interface {
	RecordRuns(ctx context.Context, runs []*model.Run) error
}

type Options struct {
	Remote       bool
	Parallelism  int
	Inflight     int
	PollInterval time.Duration
	JobTimeout   time.Duration
}

func OptionsFromConfig(cfg *config.ClientConfig) Options {
	return Options{
		Remote:       cfg.REMOTE_PROCESSING,
		Parallelism:  cfg.LOCAL_PARALLELISM,
		Inflight:     cfg.REMOTE_INFLIGHT,
		PollInterval: cfg.REMOTE_POLL_INTERVAL,
		JobTimeout:   cfg.REMOTE_JOB_TIMEOUT,
	}
}

// Processor trains every job of a queue, locally in sandboxes or on
// remote training servers.
type Processor struct {
	runner      Runner
	client      *client.Client
	distributor Distributor
	recorder    Recorder
	opts        Options
}

func New(runner Runner, opts Options) *Processor {
	if opts.Inflight <= 0 {
		opts.Inflight = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 5 * time.Minute
	}
	return &Processor{runner: runner, opts: opts}
}

func (p *Processor) WithRemote(c *client.Client, d Distributor) *Processor {
	p.client = c
	p.distributor = d
	return p
}

func (p *Processor) WithRecorder(r Recorder) *Processor {
	p.recorder = r
	return p
}

// Process trains the jobs of q. Jobs that fail stay untrained; the
// returned error reports only conditions that stopped processing as a
// whole.
func (p *Processor) Process(ctx context.Context, q *queue.Queue) error {
	jobs := q.Jobs()
	if len(jobs) == 0 {
		return nil
	}

	var (
		runs []*model.Run
		err  error
	)
	if p.opts.Remote {
		runs, err = p.processRemote(ctx, jobs)
	} else {
		runs, err = p.processLocal(ctx, jobs)
	}

	if p.recorder != nil && len(runs) > 0 {
		// record what finished even when processing was interrupted
		if rerr := p.recorder.RecordRuns(context.WithoutCancel(ctx), runs); rerr != nil {
			err = errors.Join(err, fmt.Errorf("processor: record runs: %w", rerr))
		}
	}
	return err
}

func (p *Processor) processLocal(ctx context.Context, jobs []*model.Job) ([]*model.Run, error) {
	log := logger.FromContext(ctx)
	total := len(jobs)

	var (
		mu   sync.Mutex
		runs = make([]*model.Run, 0, total)
		done int
	)
	run := func(ctx context.Context, job *model.Job) {
		if err := p.runner.Process(ctx, job); err != nil {
			log.Warn().Err(err).Str("strategy", job.Strategy).Msg("job failed")
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		runs = append(runs, model.NewRun(job, LocalLocation))
		log.Info().Str("strategy", job.Strategy).Bool("trained", job.Trained()).Int64("score", job.Score).Msgf("job %d / %d", done, total)
	}

	if p.opts.Parallelism <= 1 {
		for _, job := range jobs {
			if err := ctx.Err(); err != nil {
				return runs, err
			}
			run(ctx, job)
		}
		return runs, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallelism)
	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			run(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return runs, ctx.Err()
}

type inflight struct {
	job    *model.Job
	handle *client.Handle
}

func (p *Processor) processRemote(ctx context.Context, jobs []*model.Job) ([]*model.Run, error) {
	if p.client == nil || len(p.client.Servers()) == 0 {
		return nil, client.ErrNoRemoteServers
	}
	log := logger.FromContext(ctx)

	// every job of a queue shares one dataset
	d := jobs[0].Dataset
	c := p.client
	if p.distributor != nil {
		servers, err := p.distributor.Distribute(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("processor: distribute dataset: %w", err)
		}
		log.Info().Int("replicas", len(servers)).Str("hash", d.Hash.String()).Msg("dataset distributed")
		c = c.Subset(servers)
	}

	total := len(jobs)
	runs := make([]*model.Run, 0, total)
	finish := func(job *model.Job, location string) {
		ended := time.Now().UTC()
		job.EndTime = &ended
		runs = append(runs, model.NewRun(job, location))
		log.Info().Str("strategy", job.Strategy).Str("server", location).Bool("trained", job.Trained()).Int64("score", job.Score).Msgf("job %d / %d", len(runs), total)
	}

	var open []*inflight
	defer func() {
		for _, f := range open {
			_ = f.handle.Cancel()
		}
	}()

	next := 0
	for next < total || len(open) > 0 {
		for len(open) < p.opts.Inflight && next < total {
			job := jobs[next]
			next++
			started := time.Now().UTC()
			job.StartTime = &started
			h, err := c.Start(ctx, job.Strategy, job.Dataset)
			if err != nil {
				if errors.Is(err, client.ErrNoRemoteServers) || ctx.Err() != nil {
					return runs, err
				}
				log.Warn().Err(err).Str("strategy", job.Strategy).Msg("dispatch failed")
				finish(job, "")
				continue
			}
			open = append(open, &inflight{job: job, handle: h})
		}

		progressed := false
		still := open[:0]
		for _, f := range open {
			switch {
			case f.handle.IsReady():
				progressed = true
				code, err := f.handle.ReadResult()
				if err != nil {
					log.Warn().Err(err).Str("server", f.handle.Server().String()).Msg("remote job failed")
				} else if code != nil {
					f.job.Adopt(code, code.Score(f.job.Dataset))
				}
				finish(f.job, f.handle.Server().String())
			case f.handle.Age() > p.opts.JobTimeout:
				progressed = true
				_ = f.handle.Cancel()
				log.Warn().Str("server", f.handle.Server().String()).Dur("age", f.handle.Age()).Msg("remote job timed out")
				finish(f.job, f.handle.Server().String())
			default:
				still = append(still, f)
			}
		}
		open = still

		if !progressed && len(open) > 0 {
			t := time.NewTimer(p.opts.PollInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return runs, ctx.Err()
			case <-t.C:
			}
		}
	}
	return runs, nil
}
