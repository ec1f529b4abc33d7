package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinjupeng/item-apiserver/internal/rbac"
	"github.com/jinjupeng/item-apiserver/internal/shared"
)

type grants map[int64][]string

func (g grants) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return g[userID], nil
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

type recordingEnqueuer struct {
	payloads []IntegrityScanPayload
}

func (r *recordingEnqueuer) EnqueueIntegrityScan(_ context.Context, p IntegrityScanPayload) (*asynq.TaskInfo, error) {
	r.payloads = append(r.payloads, p)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func jobsRouter(inspector QueueInspector, enqueuer ScanEnqueuer) http.Handler {
	guard := rbac.Middleware{Permissions: grants{
		1: {shared.PermJobsView},
		2: {shared.PermJobsRun},
	}}
	r := chi.NewRouter()
	r.Use(rbac.Principal("", nil))
	r.Route("/jobs", NewHandler(inspector, enqueuer, guard, nil).MountRoutes)
	return r
}

func serve(h http.Handler, method, target, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if user != "" {
		req.Header.Set(rbac.DefaultUserHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJobsHealth(t *testing.T) {
	r := jobsRouter(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Failed: 1}}, nil)

	rec := serve(r, http.MethodGet, "/jobs/health", "1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":3,"active":0,"failed":1}`, rec.Body.String())

	rec = serve(r, http.MethodGet, "/jobs/health", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	r = jobsRouter(stubInspector{err: errors.New("redis down")}, nil)
	rec = serve(r, http.MethodGet, "/jobs/health", "1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJobsEnqueueScan(t *testing.T) {
	enq := &recordingEnqueuer{}
	r := jobsRouter(nil, enq)

	rec := serve(r, http.MethodPost, "/jobs/integrity-scans", "1", `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(r, http.MethodPost, "/jobs/integrity-scans", "2", `{"families":["org"],"repair":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"taskId":"task-1","queue":"default"}`, rec.Body.String())
	require.Len(t, enq.payloads, 1)
	assert.Equal(t, IntegrityScanPayload{Families: []string{"org"}, Repair: true}, enq.payloads[0])

	rec = serve(r, http.MethodPost, "/jobs/integrity-scans", "2", `{"families":[""]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
