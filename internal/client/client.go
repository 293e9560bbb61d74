package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/job_tracer"
	"github.com/ssuji15/trainpool/internal/service/logger"
	"github.com/ssuji15/trainpool/internal/util"
	"github.com/ssuji15/trainpool/internal/wire"
	"github.com/ssuji15/trainpool/model"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrNoRemoteServers = errors.New("client: no remote servers configured")
	ErrHandleClosed    = errors.New("client: handle already resolved")
	ErrRejected        = errors.New("client: request rejected")
)

// readinessProbe bounds the read attempted by Handle.IsReady. A deadline
// already in the past fails reads without looking at the socket.
const readinessProbe = time.Millisecond

type Options struct {
	ConnectTimeout time.Duration
	RetryBackoff   time.Duration
	ReadTimeout    time.Duration
}

func OptionsFromConfig(cfg *config.ClientConfig) Options {
	return Options{
		ConnectTimeout: cfg.CONNECT_TIMEOUT,
		RetryBackoff:   cfg.CONNECT_RETRY_BACKOFF,
		ReadTimeout:    cfg.REMOTE_READ_TIMEOUT,
	}
}

// Client dispatches requests to a fixed list of training servers. It is
// safe for concurrent use.
type Client struct {
	servers []*model.RemoteServer
	opts    Options
	next    atomic.Uint64
}

func New(servers []*model.RemoteServer, opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	return &Client{servers: servers, opts: opts}
}

func (c *Client) Servers() []*model.RemoteServer {
	return c.servers
}

// Subset returns a client with the same options dispatching only to
// servers, with its own round-robin position.
func (c *Client) Subset(servers []*model.RemoteServer) *Client {
	return &Client{servers: servers, opts: c.opts}
}

func (c *Client) pick() *model.RemoteServer {
	i := c.next.Add(1) - 1
	return c.servers[i%uint64(len(c.servers))]
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: c.opts.ConnectTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// connect dials servers in round-robin order until one accepts or ctx is
// done. A failed server is marked broken and the next one is tried after
// the configured backoff.
func (c *Client) connect(ctx context.Context) (net.Conn, *model.RemoteServer, error) {
	log := logger.FromContext(ctx)
	for {
		s := c.pick()
		conn, err := c.dial(ctx, s.Addr())
		if err == nil {
			return conn, s, nil
		}
		s.MarkBroken(err.Error())
		log.Warn().Err(err).Str("server", s.String()).Dur("backoff", c.opts.RetryBackoff).Msg("connect failed, trying next server")

		t := time.NewTimer(c.opts.RetryBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, nil, fmt.Errorf("client: connect %s: %w", s, ctx.Err())
		case <-t.C:
		}
	}
}

// Start sends a TRAIN_MODEL request to the next reachable server in
// round-robin order and returns without waiting for the result. The
// dataset must already be present on the servers.
func (c *Client) Start(ctx context.Context, strategy string, d *model.Dataset) (*Handle, error) {
	if len(c.servers) == 0 {
		return nil, ErrNoRemoteServers
	}
	conn, s, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	w := wire.NewWriter(conn)
	wire.WriteRequest(w, &wire.TrainModelRequest{Hash: d.Hash, Strategy: strategy})
	if err := w.Flush(); err != nil {
		conn.Close()
		s.MarkBroken(err.Error())
		return nil, fmt.Errorf("client: dispatch to %s: %w", s, err)
	}

	log := logger.FromContext(ctx)
	log.Debug().Str("server", s.String()).Str("strategy", strategy).Msg("job dispatched")
	return &Handle{
		conn:        conn,
		br:          bufio.NewReader(conn),
		server:      s,
		started:     time.Now(),
		readTimeout: c.opts.ReadTimeout,
	}, nil
}

// SendDataset asks s to store d. With a nil relay the dataset travels
// inline; otherwise s fetches it from relay. The returned opcode is the
// server's answer; an error means the exchange itself failed, in which
// case s is marked broken.
func (c *Client) SendDataset(ctx context.Context, s *model.RemoteServer, d *model.Dataset, relay *model.RemoteServer) (wire.Opcode, error) {
	ctx, span := job_tracer.GetTracer().Start(ctx, "Client/SendDataset")
	defer span.End()
	span.SetAttributes(
		attribute.String("server", s.String()),
		attribute.String("dataset", d.Hash.String()),
		attribute.Bool("relayed", relay != nil),
	)

	op, err := c.sendDataset(ctx, s, d, relay)
	if err != nil {
		s.MarkBroken(err.Error())
		util.RecordSpanError(span, err)
	}
	return op, err
}

func (c *Client) sendDataset(ctx context.Context, s *model.RemoteServer, d *model.Dataset, relay *model.RemoteServer) (wire.Opcode, error) {
	conn, err := c.dial(ctx, s.Addr())
	if err != nil {
		return wire.ReadError, fmt.Errorf("client: connect %s: %w", s, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := &wire.RecvDatasetRequest{Hash: d.Hash}
	if relay != nil {
		req.RelayHost = relay.Host
		req.RelayPort = relay.Port
	} else {
		req.Dataset = d
	}
	w := wire.NewWriter(conn)
	wire.WriteRequest(w, req)
	if err := w.Flush(); err != nil {
		return wire.ReadError, fmt.Errorf("client: send dataset to %s: %w", s, err)
	}

	r := wire.NewTimeoutReader(conn, c.opts.ReadTimeout)
	echoed := r.ReadHash()
	op := r.ReadOpcode()
	if r.Err() != nil {
		return wire.ReadError, fmt.Errorf("client: read answer from %s: %w", s, r.Err())
	}
	if echoed != d.Hash {
		return wire.DataError, fmt.Errorf("client: %s echoed hash %s, want %s", s, echoed, d.Hash)
	}
	return op, nil
}

// FetchDataset requests the dataset identified by h from the server at
// host:port. The returned dataset carries the hash of the bytes actually
// received, which the caller compares against h.
func (c *Client) FetchDataset(ctx context.Context, host string, port int, h model.Hash) (*model.Dataset, error) {
	ctx, span := job_tracer.GetTracer().Start(ctx, "Client/FetchDataset")
	defer span.End()
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	span.SetAttributes(attribute.String("server", addr), attribute.String("dataset", h.String()))

	d, err := c.fetchDataset(ctx, addr, h)
	if err != nil {
		util.RecordSpanError(span, err)
	}
	return d, err
}

func (c *Client) fetchDataset(ctx context.Context, addr string, h model.Hash) (*model.Dataset, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w := wire.NewWriter(conn)
	wire.WriteRequest(w, &wire.SendDatasetRequest{Hash: h})
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("client: request dataset from %s: %w", addr, err)
	}

	r := wire.NewTimeoutReader(conn, c.opts.ReadTimeout)
	op := r.ReadOpcode()
	if r.Err() != nil {
		return nil, fmt.Errorf("client: read answer from %s: %w", addr, r.Err())
	}
	if op != wire.OK {
		return nil, fmt.Errorf("%w: %s answered %s", ErrRejected, addr, op)
	}
	d, err := wire.ReadDataset(r)
	if err != nil {
		return nil, fmt.Errorf("client: dataset from %s: %w", addr, err)
	}
	return d, nil
}

// Handle is an in-flight TRAIN_MODEL request. It is resolved by exactly
// one of ReadResult or Cancel.
type Handle struct {
	mu          sync.Mutex
	conn        net.Conn
	br          *bufio.Reader
	server      *model.RemoteServer
	started     time.Time
	readTimeout time.Duration
	resp        wire.Opcode
	closed      bool
}

func (h *Handle) Server() *model.RemoteServer {
	return h.server
}

// Age is the time since the request was dispatched.
func (h *Handle) Age() time.Duration {
	return time.Since(h.started)
}

// Response is the opcode read by ReadResult, zero before that.
func (h *Handle) Response() wire.Opcode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resp
}

// IsReady reports whether the server has started answering or closed the
// connection, so ReadResult will not wait for training.
func (h *Handle) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.br.Buffered() > 0 {
		return true
	}
	if err := h.conn.SetReadDeadline(time.Now().Add(readinessProbe)); err != nil {
		return true
	}
	_, err := h.br.Peek(1)
	_ = h.conn.SetReadDeadline(time.Time{})
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return false
	}
	return true
}

// ReadResult reads the server's answer and closes the handle. A server
// whose training failed answers OK without code; the result is then nil
// with no error.
func (h *Handle) ReadResult() (*model.Code, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHandleClosed
	}
	h.closed = true
	defer h.conn.Close()

	r := wire.NewBufferedReader(h.br, h.conn, h.readTimeout)
	op := r.ReadOpcode()
	if r.Err() != nil {
		h.server.MarkBroken(r.Err().Error())
		return nil, fmt.Errorf("client: read result from %s: %w", h.server, r.Err())
	}
	h.resp = op
	if op != wire.OK {
		return nil, fmt.Errorf("%w: %s answered %s", ErrRejected, h.server, op)
	}
	code, err := wire.ReadCode(r)
	if err != nil {
		h.server.MarkBroken(err.Error())
		return nil, fmt.Errorf("client: read code from %s: %w", h.server, err)
	}
	return code, nil
}

// Cancel closes the connection without reading a result. The server is
// not told; its own timeout ends the training.
func (h *Handle) Cancel() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandleClosed
	}
	h.closed = true
	return h.conn.Close()
}
