package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/clock/system"
	"github.com/JakeFAU/chapter-crawler/internal/config"
	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/dispatcher"
	queueMemory "github.com/JakeFAU/chapter-crawler/internal/queue/memory"
	storageMemory "github.com/JakeFAU/chapter-crawler/internal/storage/memory"
)

type fakeIDGen struct {
	ids []string
	err error
}

func (f *fakeIDGen) NewID() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type serverFixture struct {
	server *Server
	queue  *queueMemory.Queue[crawler.QueueItem]
	runs   *storageMemory.RunStore
}

func newFixture(t *testing.T, cfg config.Config, ids ...string) serverFixture {
	t.Helper()
	q := queueMemory.NewQueue[crawler.QueueItem](4)
	runs := storageMemory.NewRunStore()
	server := NewServer(
		runs,
		runs,
		dispatcher.New(q, nil),
		&fakeIDGen{ids: ids},
		system.Fixed(time.Unix(100, 0)),
		cfg,
		zap.NewNop(),
	)
	return serverFixture{server: server, queue: q, runs: runs}
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerSubmitWorkQueuesDownload(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.Config{}, "run-1")
	body := bytes.NewBufferString(`{"work":"https://fanqienovel.com/page/7143038691944959011?enter_from=search"}`)
	rec := serve(fx.server, httptest.NewRequest(http.MethodPost, "/v1/works", body))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitWorkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "run-1", resp.RunID)
	require.Equal(t, int64(7143038691944959011), resp.WorkID)

	item, err := fx.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.QueueItem{RunID: "run-1", WorkID: 7143038691944959011, Attempt: 1, Submitted: 100}, item)
}

func TestServerSubmitWorkRejectsBadInput(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.Config{})
	for name, payload := range map[string]string{
		"invalid json": "{invalid",
		"empty ref":    `{"work":""}`,
		"not numeric":  `{"work":"abc"}`,
	} {
		rec := serve(fx.server, httptest.NewRequest(http.MethodPost, "/v1/works", bytes.NewBufferString(payload)))
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	require.Zero(t, fx.queue.Len())
}

func TestServerSubmitWorkQueueClosed(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.Config{}, "run-1")
	fx.queue.Close()

	rec := serve(fx.server, httptest.NewRequest(http.MethodPost, "/v1/works", bytes.NewBufferString(`{"work":"12"}`)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "queue closed")
}

func TestServerSubmitWorkAlreadyDownloading(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue[crawler.QueueItem](4)
	busy := func(workID int64) bool { return workID == 12 }
	server := NewServer(nil, nil, dispatcher.New(q, nil, dispatcher.WithBusyCheck(busy)),
		&fakeIDGen{ids: []string{"run-1", "run-2"}}, system.Fixed(time.Unix(100, 0)), config.Config{}, zap.NewNop())

	rec := serve(server, httptest.NewRequest(http.MethodPost, "/v1/works", bytes.NewBufferString(`{"work":"12"}`)))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already downloading")
	require.Zero(t, q.Len())

	rec = serve(server, httptest.NewRequest(http.MethodPost, "/v1/works", bytes.NewBufferString(`{"work":"13"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, q.Len())
}

func TestServerSubmitWorkIDFailure(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue[crawler.QueueItem](1)
	server := NewServer(nil, nil, dispatcher.New(q, nil), &fakeIDGen{err: errors.New("entropy")},
		system.Fixed(time.Unix(0, 0)), config.Config{}, nil)

	rec := serve(server, httptest.NewRequest(http.MethodPost, "/v1/works", bytes.NewBufferString(`{"work":"12"}`)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "generate run id")
}

func TestServerGetWorkSummary(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.Config{})
	require.NoError(t, fx.runs.PutSummary(context.Background(), crawler.Summary{
		RunID: "run-9", WorkID: 12, Title: "书", Total: 5, Reused: 2, Fetched: 2, Failed: 1,
	}))

	rec := serve(fx.server, httptest.NewRequest(http.MethodGet, "/v1/works/12", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Summary crawler.Summary `json:"summary"`
		Pending int             `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "书", body.Summary.Title)
	require.Equal(t, 1, body.Pending)

	rec = serve(fx.server, httptest.NewRequest(http.MethodGet, "/v1/works/13", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(fx.server, httptest.NewRequest(http.MethodGet, "/v1/works/nope", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerProbesAndMetrics(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.Config{})
	rec := serve(fx.server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(fx.server, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(fx.server, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")

	idle := NewServer(nil, nil, nil, nil, nil, config.Config{}, nil)
	rec = serve(idle, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerAPIKey(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	fx := newFixture(t, cfg, "run-1")

	rec := serve(fx.server, httptest.NewRequest(http.MethodPost, "/v1/works", bytes.NewBufferString(`{"work":"12"}`)))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/works", bytes.NewBufferString(`{"work":"12"}`))
	req.Header.Set("X-API-Key", "secret")
	rec = serve(fx.server, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(fx.server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
