package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/store/sqlite"
	"github.com/cuemby/burrow/pkg/store/storetest"
	"github.com/cuemby/burrow/pkg/types"
)

func TestParseResources(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr string
	}{
		{
			name: "multiple documents",
			input: `kind: Deployment
id: ` + id.String() + `
spec:
  name: web
---
kind: Deployment
spec:
  name: worker
`,
			want: 2,
		},
		{
			name:  "empty documents are skipped",
			input: "---\nkind: Deployment\nspec:\n  name: web\n---\n",
			want:  1,
		},
		{name: "unknown kind", input: "kind: Service\nspec: {}\n", wantErr: "unsupported resource kind"},
		{name: "missing spec", input: "kind: Deployment\n", wantErr: "spec is required"},
		{name: "nothing to apply", input: "", wantErr: "no deployments"},
		{name: "bad yaml", input: "kind: [", wantErr: "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResources([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	got, err := parseResources([]byte("kind: Deployment\nid: " + id.String() + "\nspec:\n  name: web\n"))
	require.NoError(t, err)
	require.NotNil(t, got[0].ID)
	assert.Equal(t, id, *got[0].ID)
}

func specMap(t *testing.T, spec types.DeploymentSpec) map[string]any {
	t.Helper()
	raw, err := json.Marshal(spec)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestApplyCreatesThenUpdates(t *testing.T) {
	repo := &sqlite.DeploymentRepo{DB: sqlite.OpenTestDB(t)}
	queue := events.NewQueue()
	t.Cleanup(queue.Close)
	local := api.NewLocalServer(repo, queue, api.LocalOptions{
		WorkspaceID: uuid.New(),
		APIToken:    "token",
	})
	srv := httptest.NewServer(local.Handler())
	t.Cleanup(srv.Close)

	c := &apiClient{base: srv.URL, token: "token", http: srv.Client()}

	spec := storetest.NewDeployment(uuid.Nil).Spec
	spec.MachineType = types.MachineType{ID: storetest.SmallMachineType.ID}
	id := uuid.New()

	d, created, err := c.apply(DeploymentResource{Kind: "Deployment", ID: &id, Spec: specMap(t, spec)})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, id, d.ID)

	spec.Name = "renamed"
	d, created, err = c.apply(DeploymentResource{Kind: "Deployment", ID: &id, Spec: specMap(t, spec)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "renamed", d.Spec.Name)
	assert.Equal(t, 2, queue.Len())
}

func TestApplyReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "unauthorized"})
	}))
	t.Cleanup(srv.Close)

	c := &apiClient{base: srv.URL, http: srv.Client()}
	_, _, err := c.apply(DeploymentResource{Kind: "Deployment", Spec: map[string]any{"name": "web"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401 unauthorized")
}
