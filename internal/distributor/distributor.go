package distributor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ssuji15/trainpool/internal/job_tracer"
	"github.com/ssuji15/trainpool/internal/service/logger"
	"github.com/ssuji15/trainpool/internal/util"
	"github.com/ssuji15/trainpool/internal/wire"
	"github.com/ssuji15/trainpool/model"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrSeedingFailed = errors.New("distributor: seeding failed")
	ErrNoServers     = errors.New("distributor: no servers")
)

// Sender pushes a dataset to a server, directly or through a relay.
type Sender interface {
	SendDataset(ctx context.Context, s *model.RemoteServer, d *model.Dataset, relay *model.RemoteServer) (wire.Opcode, error)
}

type status int

const (
	pending status = iota
	replicated
	failed
)

// Distributor replicates datasets across a server list: a few seeds get
// the dataset from us, the rest fetch it from a random seed.
type Distributor struct {
	sender  Sender
	servers []*model.RemoteServer
	seeds   int

	mu  sync.Mutex
	rnd *rand.Rand
}

// New builds a distributor. A nil rnd is seeded from the clock.
func New(sender Sender, servers []*model.RemoteServer, seeds int, rnd *rand.Rand) *Distributor {
	if rnd == nil {
		now := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(now, now>>1))
	}
	if seeds < 1 {
		seeds = 1
	}
	return &Distributor{sender: sender, servers: servers, seeds: seeds, rnd: rnd}
}

func (d *Distributor) intn(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rnd.IntN(n)
}

func accepted(op wire.Opcode, err error) bool {
	return err == nil && (op == wire.OK || op == wire.DuplData)
}

// Distribute returns the servers holding ds afterwards. Seeding must
// reach its target before any relayed transfer starts; relay failures
// only shrink the result.
func (d *Distributor) Distribute(ctx context.Context, ds *model.Dataset) ([]*model.RemoteServer, error) {
	ctx, span := job_tracer.GetTracer().Start(ctx, "Distributor/Distribute")
	defer span.End()
	span.SetAttributes(attribute.String("dataset", ds.Hash.String()), attribute.Int("servers", len(d.servers)))

	got, err := d.distribute(ctx, ds)
	if err != nil {
		util.RecordSpanError(span, err)
	}
	span.SetAttributes(attribute.Int("replicas", len(got)))
	return got, err
}

func (d *Distributor) distribute(ctx context.Context, ds *model.Dataset) ([]*model.RemoteServer, error) {
	n := len(d.servers)
	if n == 0 {
		return nil, ErrNoServers
	}
	log := logger.FromContext(ctx).With().Str("hash", ds.Hash.String()).Logger()

	states := make([]status, n)
	var holders []*model.RemoteServer
	errs := 0
	target := min(d.seeds, n)
	log.Info().Int("target", target).Int("servers", n).Msg("seeding hosts")

	for len(holders) < target {
		if len(holders)+errs == n {
			return nil, fmt.Errorf("%w: %d/%d seeds after %d errors", ErrSeedingFailed, len(holders), target, errs)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		i := d.pickPending(states)
		s := d.servers[i]
		op, err := d.sender.SendDataset(ctx, s, ds, nil)
		if accepted(op, err) {
			states[i] = replicated
			holders = append(holders, s)
			log.Info().Str("server", s.String()).Msg("seeded host")
			continue
		}
		states[i] = failed
		errs++
		log.Warn().Err(err).Str("server", s.String()).Stringer("response", op).Msg("error seeding host")
	}

	for i, s := range d.servers {
		if states[i] != pending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return holders, err
		}
		relay := holders[d.intn(len(holders))]
		op, err := d.sender.SendDataset(ctx, s, ds, relay)
		if accepted(op, err) {
			states[i] = replicated
			holders = append(holders, s)
			log.Info().Str("server", s.String()).Str("relay", relay.String()).Msg("received dataset")
			continue
		}
		states[i] = failed
		log.Warn().Err(err).Str("server", s.String()).Str("relay", relay.String()).Stringer("response", op).Msg("relay transfer failed")
	}
	return holders, nil
}

// pickPending draws uniformly among servers not tried yet. The caller
// guarantees one exists.
func (d *Distributor) pickPending(states []status) int {
	var candidates []int
	for i, st := range states {
		if st == pending {
			candidates = append(candidates, i)
		}
	}
	return candidates[d.intn(len(candidates))]
}
