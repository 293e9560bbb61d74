package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ssuji15/trainpool/internal/testutil"
	"github.com/ssuji15/trainpool/internal/wire"
	"github.com/ssuji15/trainpool/model"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts connections and hands each decoded request to
// handle, which writes the answer.
type fakeServer struct {
	ln     net.Listener
	server *model.RemoteServer

	mu       sync.Mutex
	requests []wire.Request
}

func newFakeServer(t *testing.T, name string, handle func(req wire.Request, r *wire.Reader, w *wire.Writer)) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	fs := &fakeServer{ln: ln, server: model.NewRemoteServer(name, "127.0.0.1", addr.Port)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := wire.NewTimeoutReader(conn, 5*time.Second)
				req, err := wire.ReadRequest(r)
				if err != nil {
					return
				}
				fs.mu.Lock()
				fs.requests = append(fs.requests, req)
				fs.mu.Unlock()
				w := wire.NewWriter(conn)
				handle(req, r, w)
				_ = w.Flush()
			}()
		}
	}()
	return fs
}

func (fs *fakeServer) count() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.requests)
}

func answerCode(req wire.Request, _ *wire.Reader, w *wire.Writer) {
	w.WriteOpcode(wire.OK)
	wire.WriteCode(w, &model.Code{Strategy: req.(*wire.TrainModelRequest).Strategy, Root: &model.Node{Kind: model.NodeClass}})
}

func testOptions() Options {
	return Options{ConnectTimeout: time.Second, RetryBackoff: 10 * time.Millisecond, ReadTimeout: 2 * time.Second}
}

func TestStartRoundRobin(t *testing.T) {
	t.Parallel()

	var servers []*model.RemoteServer
	var fakes []*fakeServer
	for _, name := range []string{"s0", "s1", "s2"} {
		fs := newFakeServer(t, name, answerCode)
		fakes = append(fakes, fs)
		servers = append(servers, fs.server)
	}
	c := New(servers, testOptions())
	d := testutil.Dataset(t, 0)

	var picked []string
	for i := 0; i < 7; i++ {
		h, err := c.Start(context.Background(), "majority", d)
		require.NoError(t, err)
		picked = append(picked, h.Server().Name)
		code, err := h.ReadResult()
		require.NoError(t, err)
		require.Equal(t, "majority", code.Strategy)
		require.Equal(t, wire.OK, h.Response())
	}
	require.Equal(t, []string{"s0", "s1", "s2", "s0", "s1", "s2", "s0"}, picked)
	require.Equal(t, 3, fakes[0].count())
	require.Equal(t, 2, fakes[1].count())
	require.Equal(t, 2, fakes[2].count())
}

func TestStartWithoutServers(t *testing.T) {
	t.Parallel()

	c := New(nil, testOptions())
	_, err := c.Start(context.Background(), "majority", testutil.Dataset(t, 0))
	require.ErrorIs(t, err, ErrNoRemoteServers)
}

func TestStartRetriesUntilContextDone(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s := model.NewRemoteServer("gone", "127.0.0.1", port)
	c := New([]*model.RemoteServer{s}, testOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = c.Start(ctx, "majority", testutil.Dataset(t, 0))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	_, broken := s.Broken()
	require.True(t, broken)
}

func TestStartSkipsUnreachableServer(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	dead := model.NewRemoteServer("dead", "127.0.0.1", port)
	live := newFakeServer(t, "live", answerCode)
	c := New([]*model.RemoteServer{dead, live.server}, testOptions())
	d := testutil.Dataset(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		start := time.Now()
		h, err := c.Start(ctx, "majority", d)
		require.NoError(t, err)
		require.Equal(t, "live", h.Server().Name)
		require.Less(t, time.Since(start), time.Second)
		code, err := h.ReadResult()
		require.NoError(t, err)
		require.NotNil(t, code)
	}
	require.Equal(t, 3, live.count())
	_, broken := dead.Broken()
	require.True(t, broken)
	_, broken = live.server.Broken()
	require.False(t, broken)
}

func TestHandleReadiness(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	fs := newFakeServer(t, "slow", func(req wire.Request, r *wire.Reader, w *wire.Writer) {
		<-release
		answerCode(req, r, w)
	})
	c := New([]*model.RemoteServer{fs.server}, testOptions())

	h, err := c.Start(context.Background(), "stump", testutil.Dataset(t, 0))
	require.NoError(t, err)
	require.False(t, h.IsReady())

	close(release)
	require.Eventually(t, h.IsReady, 2*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, h.Age(), time.Duration(0))

	code, err := h.ReadResult()
	require.NoError(t, err)
	require.NotNil(t, code)

	_, err = h.ReadResult()
	require.ErrorIs(t, err, ErrHandleClosed)
	require.ErrorIs(t, h.Cancel(), ErrHandleClosed)
	require.False(t, h.IsReady())
}

func TestHandleCancel(t *testing.T) {
	t.Parallel()

	fs := newFakeServer(t, "s", func(wire.Request, *wire.Reader, *wire.Writer) {
		time.Sleep(100 * time.Millisecond)
	})
	c := New([]*model.RemoteServer{fs.server}, testOptions())

	h, err := c.Start(context.Background(), "stump", testutil.Dataset(t, 0))
	require.NoError(t, err)
	require.NoError(t, h.Cancel())
	_, err = h.ReadResult()
	require.ErrorIs(t, err, ErrHandleClosed)
}

func TestReadResultRejected(t *testing.T) {
	t.Parallel()

	fs := newFakeServer(t, "s", func(_ wire.Request, _ *wire.Reader, w *wire.Writer) {
		w.WriteOpcode(wire.FactoryUnknown)
	})
	c := New([]*model.RemoteServer{fs.server}, testOptions())

	h, err := c.Start(context.Background(), "nope", testutil.Dataset(t, 0))
	require.NoError(t, err)
	_, err = h.ReadResult()
	require.ErrorIs(t, err, ErrRejected)
	require.Equal(t, wire.FactoryUnknown, h.Response())
	_, broken := fs.server.Broken()
	require.False(t, broken)
}

func TestSendDataset(t *testing.T) {
	t.Parallel()

	d := testutil.Dataset(t, 0)
	relay := model.NewRemoteServer("relay", "10.0.0.9", 4000)

	tests := []struct {
		name       string
		relay      *model.RemoteServer
		answer     func(req wire.Request, r *wire.Reader, w *wire.Writer)
		want       wire.Opcode
		wantErr    bool
		wantBroken bool
	}{
		{
			name: "inline ok",
			answer: func(req wire.Request, r *wire.Reader, w *wire.Writer) {
				got, err := wire.ReadDataset(r)
				if err != nil || got.Hash != d.Hash {
					w.WriteHash(req.(*wire.RecvDatasetRequest).Hash)
					w.WriteOpcode(wire.DataError)
					return
				}
				w.WriteHash(got.Hash)
				w.WriteOpcode(wire.OK)
			},
			want: wire.OK,
		},
		{
			name:  "relayed duplicate",
			relay: relay,
			answer: func(req wire.Request, _ *wire.Reader, w *wire.Writer) {
				recv := req.(*wire.RecvDatasetRequest)
				if recv.RelayHost != "10.0.0.9" || recv.RelayPort != 4000 {
					return
				}
				w.WriteHash(recv.Hash)
				w.WriteOpcode(wire.DuplData)
			},
			want: wire.DuplData,
		},
		{
			name:  "wrong echo",
			relay: relay,
			answer: func(_ wire.Request, _ *wire.Reader, w *wire.Writer) {
				w.WriteHash(model.Hash{1})
				w.WriteOpcode(wire.OK)
			},
			want:       wire.DataError,
			wantErr:    true,
			wantBroken: true,
		},
		{
			name:       "connection dropped",
			relay:      relay,
			answer:     func(wire.Request, *wire.Reader, *wire.Writer) {},
			want:       wire.ReadError,
			wantErr:    true,
			wantBroken: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fs := newFakeServer(t, "target", tt.answer)
			c := New(nil, testOptions())

			op, err := c.SendDataset(context.Background(), fs.server, d, tt.relay)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.want, op)
			_, broken := fs.server.Broken()
			require.Equal(t, tt.wantBroken, broken)
		})
	}
}

func TestFetchDataset(t *testing.T) {
	t.Parallel()

	d := testutil.Dataset(t, 0)
	fs := newFakeServer(t, "peer", func(req wire.Request, _ *wire.Reader, w *wire.Writer) {
		if req.(*wire.SendDatasetRequest).Hash != d.Hash {
			w.WriteOpcode(wire.DatasetUnknown)
			return
		}
		w.WriteOpcode(wire.OK)
		wire.WriteDataset(w, d)
	})
	c := New(nil, testOptions())

	got, err := c.FetchDataset(context.Background(), fs.server.Host, fs.server.Port, d.Hash)
	require.NoError(t, err)
	require.Equal(t, d.Hash, got.Hash)
	require.Equal(t, d.Rows, got.Rows)

	_, err = c.FetchDataset(context.Background(), fs.server.Host, fs.server.Port, model.Hash{7})
	require.ErrorIs(t, err, ErrRejected)
}
