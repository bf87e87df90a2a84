package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volaticloud/runbox/internal/apierror"
	"github.com/volaticloud/runbox/internal/auth"
	"github.com/volaticloud/runbox/internal/execution"
	"github.com/volaticloud/runbox/internal/pubsub"
)

type fakeStore struct {
	byKey map[string]*execution.Execution
}

func newFakeStore() *fakeStore { return &fakeStore{byKey: map[string]*execution.Execution{}} }

func key(org, task string) string { return org + "/" + task }

func (f *fakeStore) Upsert(_ context.Context, e *execution.Execution) error {
	f.byKey[key(e.OrganizationID, e.TaskID)] = e
	return nil
}

func (f *fakeStore) Get(_ context.Context, organizationID, taskID string) (*execution.Execution, error) {
	e, ok := f.byKey[key(organizationID, taskID)]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "execution not found", nil)
	}
	return e, nil
}

func (f *fakeStore) ListRecent(_ context.Context, organizationID string, limit int) ([]*execution.Execution, error) {
	var out []*execution.Execution
	for _, e := range f.byKey {
		if e.OrganizationID == organizationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, organizationID, taskID string) error {
	k := key(organizationID, taskID)
	if _, ok := f.byKey[k]; !ok {
		return apierror.New(apierror.NotFound, "execution not found", nil)
	}
	delete(f.byKey, k)
	return nil
}

type fakePublisher struct {
	published []execution.JobMessage
	failNext  bool
}

func (f *fakePublisher) Publish(_ context.Context, job execution.JobMessage) error {
	if f.failNext {
		return assertErr
	}
	f.published = append(f.published, job)
	return nil
}

var assertErr = errAssert("queue down")

type errAssert string

func (e errAssert) Error() string { return string(e) }

type fakeBroadcaster struct {
	updates []pubsub.ExecutionUpdatedEvent
	logs    []pubsub.ExecutionLogEvent
}

func (f *fakeBroadcaster) BroadcastUpdate(_ context.Context, _ string, event pubsub.ExecutionUpdatedEvent) error {
	f.updates = append(f.updates, event)
	return nil
}

func (f *fakeBroadcaster) BroadcastLog(_ context.Context, _ string, event pubsub.ExecutionLogEvent) error {
	f.logs = append(f.logs, event)
	return nil
}

func (f *fakeBroadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {}

func newTestServer(t *testing.T) (*Server, *fakeStore, *fakePublisher, *fakeBroadcaster, *auth.Verifier) {
	t.Helper()
	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)
	st := newFakeStore()
	pub := &fakePublisher{}
	bc := &fakeBroadcaster{}
	s := New(st, pub, bc, nil, verifier, nil, DefaultConfig())
	return s, st, pub, bc, verifier
}

func authedRequest(t *testing.T, v *auth.Verifier, org, method, path string, body any) *http.Request {
	t.Helper()
	token, err := v.Issue("user-1", org, auth.RoleMember, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandleCreateExecution_PersistsAndPublishes(t *testing.T) {
	s, st, pub, bc, v := newTestServer(t)

	body := execution.Request{TaskID: "task-1", Image: "img", Command: "npm test", Config: execution.Config{Environment: execution.EnvStaging}}
	req := authedRequest(t, v, "org-1", http.MethodPost, "/api/execution-request", body)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, pub.published, 1)
	assert.Equal(t, "task-1", pub.published[0].TaskID)
	assert.Contains(t, st.byKey, "org-1/task-1")
	require.Len(t, bc.updates, 1)
	assert.Equal(t, "PENDING", bc.updates[0].Status)
	assert.Equal(t, "task-1", bc.updates[0].TaskID)
}

func TestHandleCreateExecution_RejectsInvalidBody(t *testing.T) {
	s, _, _, _, v := newTestServer(t)

	req := authedRequest(t, v, "org-1", http.MethodPost, "/api/execution-request", execution.Request{})
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeleteExecution_NotFoundAcrossTenants(t *testing.T) {
	s, st, _, _, v := newTestServer(t)
	now := time.Now().UTC()
	st.byKey["org-1/task-1"] = &execution.Execution{TaskID: "task-1", OrganizationID: "org-1", Status: execution.StatusPending, StartTime: now, CreatedAt: now, UpdatedAt: now}

	req := authedRequest(t, v, "org-2", http.MethodDelete, "/api/executions/task-1", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, st.byKey, "org-1/task-1")
}

func TestHandleListExecutions_ScopedToCallerOrg(t *testing.T) {
	s, st, _, _, v := newTestServer(t)
	now := time.Now().UTC()
	st.byKey["org-1/t1"] = &execution.Execution{TaskID: "t1", OrganizationID: "org-1", StartTime: now, CreatedAt: now, UpdatedAt: now}
	st.byKey["org-2/t2"] = &execution.Execution{TaskID: "t2", OrganizationID: "org-2", StartTime: now, CreatedAt: now, UpdatedAt: now}

	req := authedRequest(t, v, "org-1", http.MethodGet, "/api/executions", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var list []execution.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "org-1", list[0].OrganizationID)
}

func TestHandleMe_ReturnsTenantClaims(t *testing.T) {
	s, _, _, _, v := newTestServer(t)

	req := authedRequest(t, v, "org-1", http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "org-1", out["organizationId"])
}

func TestHandleInternalUpdate_PersistsThenBroadcasts(t *testing.T) {
	s, st, _, bc, _ := newTestServer(t)
	now := time.Now().UTC()
	st.byKey["org-1/task-1"] = &execution.Execution{TaskID: "task-1", OrganizationID: "org-1", Status: execution.StatusPending, StartTime: now, CreatedAt: now, UpdatedAt: now}

	body := internalUpdateRequest{TaskID: "task-1", OrganizationID: "org-1", Status: execution.StatusRunning}
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/executions/update", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	s.InternalRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, execution.StatusRunning, st.byKey["org-1/task-1"].Status)
	require.Len(t, bc.updates, 1)
	assert.Equal(t, "RUNNING", bc.updates[0].Status)
}

func TestHandleInternalUpdate_RejectsIllegalTransition(t *testing.T) {
	s, st, _, _, _ := newTestServer(t)
	now := time.Now().UTC()
	st.byKey["org-1/task-1"] = &execution.Execution{TaskID: "task-1", OrganizationID: "org-1", Status: execution.StatusPassed, StartTime: now, CreatedAt: now, UpdatedAt: now}

	body := internalUpdateRequest{TaskID: "task-1", OrganizationID: "org-1", Status: execution.StatusRunning}
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/executions/update", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	s.InternalRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleInternalLog_Broadcasts(t *testing.T) {
	s, _, _, bc, _ := newTestServer(t)

	body := internalLogRequest{TaskID: "task-1", OrganizationID: "org-1", Chunk: "hello"}
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/executions/log", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	s.InternalRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, bc.logs, 1)
	assert.Equal(t, "hello", bc.logs[0].Chunk)
}

func TestHandleCreateExecution_QueueUnavailable(t *testing.T) {
	s, st, pub, bc, v := newTestServer(t)
	pub.failNext = true

	body := execution.Request{TaskID: "task-1", Image: "img", Command: "npm test", Config: execution.Config{Environment: execution.EnvStaging}}
	req := authedRequest(t, v, "org-1", http.MethodPost, "/api/execution-request", body)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, st.byKey, "org-1/task-1")
	assert.Equal(t, execution.StatusError, st.byKey["org-1/task-1"].Status)
	assert.Empty(t, bc.updates)
}
