package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ssuji15/trainpool/internal/job_tracer"
	"github.com/ssuji15/trainpool/internal/service/logger"
	"github.com/ssuji15/trainpool/internal/util"
	"github.com/ssuji15/trainpool/internal/wire"
	"github.com/ssuji15/trainpool/model"
	"go.opentelemetry.io/otel/attribute"
)

// Launcher starts isolated training attempts. req is an encoded request
// as produced by EncodeRequest.
type Launcher interface {
	Start(ctx context.Context, req []byte) (Attempt, error)
}

// Attempt is one running training child.
type Attempt interface {
	ID() string
	// Result returns the stream the child writes its result to. Reads
	// fail once deadline passes.
	Result(deadline time.Time) (io.Reader, error)
	// Kill terminates and reaps the child. It is safe to call more than
	// once and from several goroutines.
	Kill() error
}

var ErrNoResult = errors.New("sandbox: training produced no code")

// Runner executes training jobs in sandboxed children. A call never blocks
// longer than the configured timeout plus the time needed to kill the
// child.
type Runner struct {
	launcher Launcher
	timeout  time.Duration
}

func NewRunner(l Launcher, timeout time.Duration) *Runner {
	return &Runner{launcher: l, timeout: timeout}
}

func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Train runs strategy on d in a fresh child and returns the trained code
// and its score on d.
func (r *Runner) Train(ctx context.Context, strategy string, d *model.Dataset) (*model.Code, int64, error) {
	ctx, span := job_tracer.GetTracer().Start(ctx, "Sandbox/Train")
	defer span.End()
	span.SetAttributes(
		attribute.String("strategy", strategy),
		attribute.String("dataset", d.Hash.String()),
	)

	start := time.Now()
	code, score, err := r.train(ctx, strategy, d, start)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		util.RecordSpanError(span, err)
	}
	job_tracer.RecordTraining(ctx, strategy, outcome, time.Since(start))
	return code, score, err
}

func (r *Runner) train(ctx context.Context, strategy string, d *model.Dataset, start time.Time) (*model.Code, int64, error) {
	req, err := EncodeRequest(strategy, d)
	if err != nil {
		return nil, 0, err
	}

	deadline := start.Add(r.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	attempt, err := r.launcher.Start(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("sandbox: start: %w", err)
	}
	log := logger.FromContext(ctx).With().Str("attempt", attempt.ID()).Str("strategy", strategy).Logger()
	defer func() {
		if err := attempt.Kill(); err != nil {
			log.Warn().Err(err).Msg("unable to kill training child")
		}
	}()
	stop := context.AfterFunc(ctx, func() {
		_ = attempt.Kill()
	})
	defer stop()

	rd, err := attempt.Result(deadline)
	if err != nil {
		return nil, 0, fmt.Errorf("sandbox: attempt %s: %w", attempt.ID(), err)
	}
	wr := wire.NewReader(rd)
	score := wr.ReadVarint()
	code, err := wire.ReadCode(wr)
	if err != nil {
		return nil, 0, fmt.Errorf("sandbox: attempt %s: %w", attempt.ID(), err)
	}
	if code == nil {
		return nil, 0, ErrNoResult
	}
	log.Debug().Int64("score", score).Dur("took", time.Since(start)).Msg("training finished")
	return code, score, nil
}

// Process trains job in a sandbox. On failure the job is left without
// code and the error says why.
func (r *Runner) Process(ctx context.Context, job *model.Job) error {
	started := time.Now().UTC()
	job.StartTime = &started
	defer func() {
		ended := time.Now().UTC()
		job.EndTime = &ended
	}()

	code, score, err := r.Train(ctx, job.Strategy, job.Dataset)
	if err != nil {
		return err
	}
	job.Adopt(code, score)
	return nil
}
