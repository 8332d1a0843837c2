package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/store"
	storageMemory "github.com/JakeFAU/chapter-crawler/internal/storage/memory"
)

type failingRepo struct {
	store.ProgressRepository
	err error
}

func (f failingRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, f.err
}

func (f failingRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, f.err
}

func withRunIDParam(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("run_id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func seededRuns(t *testing.T) (*storageMemory.RunStore, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	repo := storageMemory.NewRunStore()
	done, running := uuid.New(), uuid.New()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.StartRun(ctx, done, 12, start))
	require.NoError(t, repo.AddCounts(ctx, done, store.Counts{Fetched: 3}, start.Add(time.Second)))
	require.NoError(t, repo.CompleteRun(ctx, done, start.Add(time.Minute), store.RunSuccess, nil))
	require.NoError(t, repo.StartRun(ctx, running, 13, start.Add(time.Hour)))
	return repo, done, running
}

func TestProgressHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo, done, _ := seededRuns(t)
	handler := NewProgressHandler(repo, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?status=SUCCESS&limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []store.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, done, body.Runs[0].ID)
	require.Equal(t, int64(3), body.Runs[0].Fetched)

	rec = httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
}

func TestProgressHandlerListRunsEmptyIsArray(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(storageMemory.NewRunStore(), nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

func TestProgressHandlerListRunsBadQuery(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(storageMemory.NewRunStore(), nil)
	for _, target := range []string{
		"/v1/runs?status=bogus",
		"/v1/runs?limit=0",
		"/v1/runs?limit=x",
		"/v1/runs?offset=-1",
	} {
		rec := httptest.NewRecorder()
		handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestProgressHandlerGetRun(t *testing.T) {
	t.Parallel()

	repo, _, running := seededRuns(t)
	handler := NewProgressHandler(repo, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil), running.String()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"running"`)

	rec = httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil), uuid.NewString()))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil), "not-a-uuid"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerRepositoryErrors(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(failingRepo{err: errors.New("db down")}, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil), uuid.NewString()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	missing := NewProgressHandler(nil, nil)
	rec = httptest.NewRecorder()
	missing.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
