package server

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/ssuji15/trainpool/internal/job_tracer"
	"github.com/ssuji15/trainpool/internal/service/logger"
	"github.com/ssuji15/trainpool/internal/util"
	"github.com/ssuji15/trainpool/internal/wire"
	"github.com/ssuji15/trainpool/model"
	"go.opentelemetry.io/otel/attribute"
)

// RunLocation marks runs recorded by a training server.
const RunLocation = "server"

// handle serves the single request on w's connection and returns the
// reason the worker finished.
func (s *Server) handle(ctx context.Context, w *worker) string {
	log := logger.FromContext(ctx)
	r := wire.NewTimeoutReader(w.conn, s.cfg.REMOTE_READ_TIMEOUT)
	req, err := wire.ReadRequest(r)
	if err != nil {
		if ctx.Err() != nil {
			return "killed"
		}
		return "bad request: " + err.Error()
	}
	op := req.Op().String()
	w.setRequest(op)

	ctx, span := job_tracer.GetTracer().Start(ctx, "Server/"+op)
	defer span.End()
	span.SetAttributes(attribute.String("remote", w.remote))

	out := wire.NewWriter(w.conn)
	var status wire.Opcode
	switch req := req.(type) {
	case *wire.TrainModelRequest:
		status = s.trainModel(ctx, req, out)
	case *wire.SendDatasetRequest:
		status = s.sendDataset(ctx, req, out)
	case *wire.RecvDatasetRequest:
		var ok bool
		status, ok = s.recvDataset(ctx, req, r, out)
		if !ok {
			util.RecordSpanError(span, r.Err())
			job_tracer.RecordRequest(ctx, op, "aborted")
			return op + ": aborted: " + r.Err().Error()
		}
	}
	span.SetAttributes(attribute.String("status", status.String()))
	job_tracer.RecordRequest(ctx, op, status.String())

	if err := out.Flush(); err != nil {
		util.RecordSpanError(span, err)
		if ctx.Err() != nil {
			return op + ": killed"
		}
		return op + ": write failed: " + err.Error()
	}
	s.drain(w.conn)
	log.Debug().Str("request", op).Stringer("status", status).Msg("request answered")
	return op + ": " + status.String()
}

// drain half-closes the connection and discards whatever the peer still
// sends, so an unread request body does not turn our close into a reset
// before the answer is read.
func (s *Server) drain(conn net.Conn) {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := conn.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.REMOTE_READ_TIMEOUT))
	_, _ = io.CopyN(io.Discard, conn, wire.MaxBlobLen)
}

func (s *Server) trainModel(ctx context.Context, req *wire.TrainModelRequest, out *wire.Writer) wire.Opcode {
	log := logger.FromContext(ctx).With().Str("hash", req.Hash.String()).Str("strategy", req.Strategy).Logger()

	d, err := s.cache.Find(ctx, req.Hash)
	if err != nil {
		log.Error().Err(err).Msg("cache lookup failed")
	}
	if d == nil {
		out.WriteOpcode(wire.DatasetUnknown)
		return wire.DatasetUnknown
	}
	if _, ok := s.registry.Get(req.Strategy); !ok {
		out.WriteOpcode(wire.FactoryUnknown)
		return wire.FactoryUnknown
	}

	log.Info().Msg("training model")
	job := model.NewJob(req.Strategy, d)
	started := time.Now().UTC()
	job.StartTime = &started
	code, score, err := s.trainer.Train(ctx, req.Strategy, d)
	ended := time.Now().UTC()
	job.EndTime = &ended
	if err != nil {
		log.Warn().Err(err).Msg("training failed")
		code = nil
	} else {
		job.Adopt(code, score)
		log.Info().Int64("score", score).Msg("training done")
	}
	s.record(ctx, job)
	out.WriteOpcode(wire.OK)
	wire.WriteCode(out, code)
	return wire.OK
}

func (s *Server) record(ctx context.Context, job *model.Job) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.recorder.RecordRuns(ctx, []*model.Run{model.NewRun(job, RunLocation)}); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("unable to record run")
	}
}

func (s *Server) sendDataset(ctx context.Context, req *wire.SendDatasetRequest, out *wire.Writer) wire.Opcode {
	d, err := s.cache.Find(ctx, req.Hash)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("hash", req.Hash.String()).Msg("cache lookup failed")
	}
	if d == nil {
		out.WriteOpcode(wire.DatasetUnknown)
		return wire.DatasetUnknown
	}
	out.WriteOpcode(wire.OK)
	wire.WriteDataset(out, d)
	return wire.OK
}

// recvDataset stores a dataset sent inline or fetched from a relay. It
// returns false when the inline body could not be read; no answer is
// written then.
func (s *Server) recvDataset(ctx context.Context, req *wire.RecvDatasetRequest, r *wire.Reader, out *wire.Writer) (wire.Opcode, bool) {
	log := logger.FromContext(ctx).With().Str("hash", req.Hash.String()).Logger()
	answer := func(op wire.Opcode) (wire.Opcode, bool) {
		out.WriteHash(req.Hash)
		out.WriteOpcode(op)
		return op, true
	}

	existing, err := s.cache.Find(ctx, req.Hash)
	if err != nil {
		log.Error().Err(err).Msg("cache lookup failed")
	}
	if existing != nil {
		return answer(wire.DuplData)
	}

	d, err := func() (*model.Dataset, error) {
		if req.Inline() {
			log.Info().Msg("reading dataset")
			return wire.ReadDataset(r)
		}
		log.Info().Str("relay", req.RelayHost).Int("port", req.RelayPort).Msg("fetching dataset from relay")
		return s.fetcher.FetchDataset(ctx, req.RelayHost, req.RelayPort, req.Hash)
	}()
	if err != nil {
		if req.Inline() && r.Err() != nil {
			log.Warn().Err(err).Msg("dataset read failed")
			return 0, false
		}
		log.Warn().Err(err).Msg("dataset rejected")
		return answer(wire.DataError)
	}
	if d.Hash != req.Hash {
		log.Warn().Str("got", d.Hash.String()).Msg("dataset has bad hash")
		return answer(wire.DataError)
	}
	if err := s.cache.Store(ctx, d); err != nil {
		log.Error().Err(err).Msg("unable to store dataset")
		return answer(wire.ReadError)
	}
	log.Info().Int("rows", d.Rows).Msg("dataset stored")
	return answer(wire.OK)
}
