package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ssuji15/trainpool/internal/cache"
	"github.com/ssuji15/trainpool/internal/cache/memory"
	"github.com/ssuji15/trainpool/internal/db/repository"
	"github.com/ssuji15/trainpool/internal/server"
	"github.com/ssuji15/trainpool/internal/testutil"
	"github.com/ssuji15/trainpool/model"
	"github.com/stretchr/testify/require"
)

type fakePool struct {
	workers []server.WorkerInfo
	cache   cache.Cache
}

func (p *fakePool) Workers() []server.WorkerInfo { return p.workers }
func (p *fakePool) Cache() cache.Cache           { return p.cache }

type fakeRuns struct {
	runs []*model.Run
}

func (f *fakeRuns) ListRuns(_ context.Context, hash string, limit int) ([]*model.Run, error) {
	var out []*model.Run
	for _, r := range f.runs {
		if hash == "" || r.DatasetHash == hash {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRuns) GetRun(_ context.Context, id uuid.UUID) (*model.Run, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, repository.ErrRunNotFound
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAdminRoutes(t *testing.T) {
	d := testutil.Dataset(t, 0)
	c := memory.NewMemoryCache()
	require.NoError(t, c.Store(context.Background(), d))

	job := model.NewJob("stump", d)
	job.Adopt(&model.Code{Strategy: "stump", Root: &model.Node{Kind: model.NodeClass}}, 6)
	run := model.NewRun(job, "local")

	pool := &fakePool{
		workers: []server.WorkerInfo{{ID: "w1", Remote: "127.0.0.1:5555", Request: "TRAIN_MODEL", Started: time.Now()}},
		cache:   c,
	}
	h := NewServer(pool, &fakeRuns{runs: []*model.Run{run}}).Router()

	tests := []struct {
		name   string
		path   string
		status int
		check  func(t *testing.T, body []byte)
	}{
		{
			name:   "health",
			path:   "/healthz",
			status: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				require.JSONEq(t, `{"status":"ok","workers":1}`, string(body))
			},
		},
		{
			name:   "workers",
			path:   "/workers",
			status: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var got []server.WorkerInfo
				require.NoError(t, json.Unmarshal(body, &got))
				require.Len(t, got, 1)
				require.Equal(t, "TRAIN_MODEL", got[0].Request)
			},
		},
		{
			name:   "datasets",
			path:   "/datasets",
			status: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				require.JSONEq(t, `["`+d.Hash.String()+`"]`, string(body))
			},
		},
		{
			name:   "dataset metadata",
			path:   "/datasets/" + d.Hash.String(),
			status: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var got datasetInfo
				require.NoError(t, json.Unmarshal(body, &got))
				require.Equal(t, d.Rows, got.Rows)
				require.Equal(t, []string{"young", "old"}, got.Classes)
			},
		},
		{name: "unknown dataset", path: "/datasets/" + testutil.Dataset(t, 5).Hash.String(), status: http.StatusNotFound},
		{name: "bad hash", path: "/datasets/xyz", status: http.StatusBadRequest},
		{
			name:   "runs",
			path:   "/runs?dataset=" + d.Hash.String(),
			status: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var got []*model.Run
				require.NoError(t, json.Unmarshal(body, &got))
				require.Len(t, got, 1)
				require.Equal(t, int64(6), got[0].Score)
			},
		},
		{name: "bad limit", path: "/runs?limit=x", status: http.StatusBadRequest},
		{name: "run", path: "/runs/" + run.ID.String(), status: http.StatusOK},
		{name: "unknown run", path: "/runs/" + uuid.NewString(), status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.path)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.check != nil {
				tt.check(t, rec.Body.Bytes())
			}
		})
	}
}

func TestRunsWithoutDatabase(t *testing.T) {
	h := NewServer(&fakePool{cache: memory.NewMemoryCache()}, nil).Router()
	require.Equal(t, http.StatusNotFound, get(t, h, "/runs").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/datasets").Code)
}
