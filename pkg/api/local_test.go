package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/store/sqlite"
	"github.com/cuemby/burrow/pkg/store/storetest"
	"github.com/cuemby/burrow/pkg/types"
)

const testToken = "s3cret"

type localFixture struct {
	t         *testing.T
	repo      *sqlite.DeploymentRepo
	queue     *events.Queue
	handler   http.Handler
	workspace uuid.UUID
}

func newLocalFixture(t *testing.T) *localFixture {
	t.Helper()
	repo := &sqlite.DeploymentRepo{DB: sqlite.OpenTestDB(t)}
	queue := events.NewQueue()
	t.Cleanup(queue.Close)
	workspace := uuid.New()

	srv := NewLocalServer(repo, queue, LocalOptions{
		WorkspaceID:      workspace,
		APIToken:         testToken,
		InternalRegistry: "registry.internal.test",
	})
	return &localFixture{t: t, repo: repo, queue: queue, handler: srv.Handler(), workspace: workspace}
}

func (f *localFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

// next pops the next queued event without blocking
func (f *localFixture) next() types.DesiredStateEvent {
	f.t.Helper()
	require.Positive(f.t, f.queue.Len(), "expected a queued event")
	ev, err := f.queue.Receive(context.Background())
	require.NoError(f.t, err)
	return ev
}

func (f *localFixture) create(spec types.DeploymentSpec) *types.Deployment {
	f.t.Helper()
	w := f.do(http.MethodPost, "/v1/deployments", DeploymentRequest{DeploymentSpec: spec})
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
	var d types.Deployment
	require.NoError(f.t, json.NewDecoder(w.Body).Decode(&d))
	f.next()
	return &d
}

func requestSpec() types.DeploymentSpec {
	spec := storetest.NewDeployment(uuid.Nil).Spec
	spec.MachineType = types.MachineType{ID: storetest.SmallMachineType.ID}
	return spec
}

func TestLocalCreateDeployment(t *testing.T) {
	f := newLocalFixture(t)

	w := f.do(http.MethodPost, "/v1/deployments", DeploymentRequest{DeploymentSpec: requestSpec()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var d types.Deployment
	require.NoError(t, json.NewDecoder(w.Body).Decode(&d))
	assert.Equal(t, f.workspace, d.WorkspaceID)
	assert.Equal(t, types.DeploymentStatusCreated, d.Status)
	assert.Equal(t, storetest.SmallMachineType, d.Spec.MachineType)

	ev := f.next()
	assert.Equal(t, types.EventResourceCreated, ev.Type)
	assert.Equal(t, d.ID, ev.ResourceID)
	require.NotNil(t, ev.Spec)
	assert.Equal(t, "web", ev.Spec.Name)

	stored, err := f.repo.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Spec.Name, stored.Spec.Name)
}

func TestLocalCreateFillsInternalRegistry(t *testing.T) {
	f := newLocalFixture(t)
	repository := uuid.New()
	spec := requestSpec()
	spec.Registry = types.Registry{Kind: types.RegistryInternal, RepositoryID: &repository, ImageName: "team/api"}

	d := f.create(spec)
	assert.Equal(t, "registry.internal.test", d.Spec.Registry.Registry)
}

func TestLocalCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *types.DeploymentSpec)
	}{
		{name: "min above max", mutate: func(s *types.DeploymentSpec) { s.MinHorizontalScale = 4 }},
		{name: "max above limit", mutate: func(s *types.DeploymentSpec) { s.MaxHorizontalScale = 257 }},
		{name: "no ports", mutate: func(s *types.DeploymentSpec) { s.Ports = nil }},
		{name: "probe on undeclared port", mutate: func(s *types.DeploymentSpec) { s.LivenessProbe.Port = 9090 }},
		{name: "probe on tcp port", mutate: func(s *types.DeploymentSpec) {
			s.Ports[5432] = types.PortTypeTCP
			s.StartupProbe = &types.Probe{Port: 5432, Path: "/"}
		}},
		{name: "env with value and secret", mutate: func(s *types.DeploymentSpec) {
			v, secret := "x", uuid.New()
			s.EnvironmentVariables["BOTH"] = types.EnvironmentVariable{Value: &v, FromSecret: &secret}
		}},
		{name: "unknown machine type", mutate: func(s *types.DeploymentSpec) { s.MachineType.ID = uuid.New() }},
		{name: "missing machine type", mutate: func(s *types.DeploymentSpec) { s.MachineType.ID = uuid.Nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLocalFixture(t)
			spec := requestSpec()
			tt.mutate(&spec)

			w := f.do(http.MethodPost, "/v1/deployments", DeploymentRequest{DeploymentSpec: spec})
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
			assert.Zero(t, f.queue.Len(), "rejected request must not publish")
		})
	}
}

func TestLocalRejectsMalformedBody(t *testing.T) {
	f := newLocalFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/deployments", bytes.NewBufferString(`{"name": 42`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLocalDuplicateID(t *testing.T) {
	f := newLocalFixture(t)
	d := f.create(requestSpec())

	w := f.do(http.MethodPost, "/v1/deployments", DeploymentRequest{ID: &d.ID, DeploymentSpec: requestSpec()})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLocalUpdatePreservesStatusAndDigest(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	d := f.create(requestSpec())
	require.NoError(t, f.repo.UpdateStatus(ctx, d.ID, types.DeploymentStatusRunning))
	require.NoError(t, f.repo.RecordDigest(ctx, d.ID, "sha256:abc"))

	spec := requestSpec()
	spec.ImageTag = "1.28"
	w := f.do(http.MethodPut, "/v1/deployments/"+d.ID.String(), DeploymentRequest{DeploymentSpec: spec})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got types.Deployment
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "1.28", got.Spec.ImageTag)
	assert.Equal(t, types.DeploymentStatusRunning, got.Status)
	assert.Equal(t, "sha256:abc", got.CurrentLiveDigest)

	ev := f.next()
	assert.Equal(t, types.EventResourceUpdated, ev.Type)
	assert.Equal(t, "1.28", ev.Spec.ImageTag)
}

func TestLocalDeleteDeployment(t *testing.T) {
	f := newLocalFixture(t)
	d := f.create(requestSpec())
	path := "/v1/deployments/" + d.ID.String()

	w := f.do(http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	ev := f.next()
	assert.Equal(t, types.EventResourceDeleted, ev.Type)
	assert.Equal(t, d.ID, ev.ResourceID)
	assert.Nil(t, ev.Spec)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, path, nil).Code)

	w = f.do(http.MethodGet, "/v1/deployments", nil)
	var list []types.Deployment
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Empty(t, list)
}

func TestLocalStartStop(t *testing.T) {
	f := newLocalFixture(t)
	d := f.create(requestSpec())
	base := "/v1/deployments/" + d.ID.String()

	tests := []struct {
		action string
		status types.DeploymentStatus
	}{
		{action: "/stop", status: types.DeploymentStatusStopped},
		{action: "/start", status: types.DeploymentStatusDeploying},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			w := f.do(http.MethodPost, base+tt.action, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var got types.Deployment
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			assert.Equal(t, tt.status, got.Status)

			ev := f.next()
			assert.Equal(t, types.EventResourceUpdated, ev.Type)
			assert.Equal(t, d.ID, ev.ResourceID)
		})
	}
}

func TestLocalImagePush(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()

	spec := requestSpec()
	spec.DeployOnPush = true
	running := f.create(spec)
	require.NoError(t, f.repo.UpdateStatus(ctx, running.ID, types.DeploymentStatusRunning))
	stopped := f.create(spec)
	require.NoError(t, f.repo.UpdateStatus(ctx, stopped.ID, types.DeploymentStatusStopped))

	w := f.do(http.MethodPost, "/v1/webhook/push", PushRequest{
		Registry: "docker.io",
		Image:    "library/nginx",
		Tag:      "1.27",
		Digest:   "sha256:feed",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PushResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []types.ResourceID{running.ID}, resp.Redeployed)
	assert.Equal(t, running.ID, f.next().ResourceID)

	got, err := f.repo.Get(ctx, stopped.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentStatusStopped, got.Status)
	assert.Empty(t, got.CurrentLiveDigest)

	w = f.do(http.MethodPost, "/v1/webhook/push", PushRequest{Image: "library/nginx", Tag: "1.27"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLocalAuthentication(t *testing.T) {
	f := newLocalFixture(t)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong token", header: "Bearer nope"},
		{name: "wrong scheme", header: "Basic " + testToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/deployments", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			f.handler.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestLocalInvalidID(t *testing.T) {
	f := newLocalFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/deployments/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/deployments/"+uuid.NewString(), nil).Code)
}
