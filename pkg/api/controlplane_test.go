package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/cuemby/burrow/api/runnerv1"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/store/sqlite"
	"github.com/cuemby/burrow/pkg/store/storetest"
	"github.com/cuemby/burrow/pkg/types"
)

type controlPlaneFixture struct {
	repo      *sqlite.DeploymentRepo
	hub       *events.Hub
	client    runnerv1.RunnerServiceClient
	workspace uuid.UUID
}

func newControlPlaneFixture(t *testing.T) *controlPlaneFixture {
	t.Helper()
	repo := &sqlite.DeploymentRepo{DB: sqlite.OpenTestDB(t)}
	hub := events.NewHub()
	hub.Start()
	t.Cleanup(hub.Stop)

	srv := NewControlPlaneServer(repo, hub, testToken)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &controlPlaneFixture{
		repo:      repo,
		hub:       hub,
		client:    runnerv1.NewRunnerServiceClient(conn),
		workspace: uuid.New(),
	}
}

func (f *controlPlaneFixture) ctx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return metadata.AppendToOutgoingContext(ctx,
		runnerv1.MetadataAuthorization, "Bearer "+testToken,
		runnerv1.MetadataWorkspaceID, f.workspace.String(),
		runnerv1.MetadataRunnerID, "runner-1",
	)
}

func (f *controlPlaneFixture) seed(t *testing.T, workspace uuid.UUID) *types.Deployment {
	t.Helper()
	d := storetest.NewDeployment(workspace)
	require.NoError(t, f.repo.Create(context.Background(), d))
	return d
}

func TestControlPlaneAuthentication(t *testing.T) {
	f := newControlPlaneFixture(t)

	tests := []struct {
		name string
		md   []string
	}{
		{name: "no metadata"},
		{name: "wrong token", md: []string{
			runnerv1.MetadataAuthorization, "Bearer wrong",
			runnerv1.MetadataWorkspaceID, f.workspace.String(),
			runnerv1.MetadataRunnerID, "runner-1",
		}},
		{name: "malformed workspace", md: []string{
			runnerv1.MetadataAuthorization, "Bearer " + testToken,
			runnerv1.MetadataWorkspaceID, "workspace",
			runnerv1.MetadataRunnerID, "runner-1",
		}},
		{name: "missing runner id", md: []string{
			runnerv1.MetadataAuthorization, "Bearer " + testToken,
			runnerv1.MetadataWorkspaceID, f.workspace.String(),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if len(tt.md) > 0 {
				ctx = metadata.AppendToOutgoingContext(ctx, tt.md...)
			}

			_, err := f.client.ListDeployments(ctx, &emptypb.Empty{})
			assert.Equal(t, codes.Unauthenticated, status.Code(err))

			stream, err := f.client.StreamRunnerData(ctx, &emptypb.Empty{})
			if err == nil {
				_, err = stream.Recv()
			}
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
		})
	}
}

func TestControlPlaneGetDeployment(t *testing.T) {
	f := newControlPlaneFixture(t)
	own := f.seed(t, f.workspace)
	foreign := f.seed(t, uuid.New())

	req, err := runnerv1.ToStruct(runnerv1.DeploymentRequest{DeploymentID: own.ID})
	require.NoError(t, err)
	resp, err := f.client.GetDeployment(f.ctx(t), req)
	require.NoError(t, err)

	var got types.Deployment
	require.NoError(t, runnerv1.FromStruct(resp, &got))
	assert.Equal(t, own.ID, got.ID)
	assert.Equal(t, own.Spec.Ports, got.Spec.Ports)
	assert.Equal(t, own.Spec.MachineType, got.Spec.MachineType)

	for _, id := range []uuid.UUID{foreign.ID, uuid.New()} {
		req, err := runnerv1.ToStruct(runnerv1.DeploymentRequest{DeploymentID: id})
		require.NoError(t, err)
		_, err = f.client.GetDeployment(f.ctx(t), req)
		assert.Equal(t, codes.NotFound, status.Code(err))
	}
}

func TestControlPlaneListDeployments(t *testing.T) {
	f := newControlPlaneFixture(t)
	live := f.seed(t, f.workspace)
	gone := f.seed(t, f.workspace)
	require.NoError(t, f.repo.Delete(context.Background(), gone.ID))
	f.seed(t, uuid.New())

	resp, err := f.client.ListDeployments(f.ctx(t), &emptypb.Empty{})
	require.NoError(t, err)

	var list runnerv1.DeploymentList
	require.NoError(t, runnerv1.FromStruct(resp, &list))
	require.Len(t, list.Deployments, 1)
	assert.Equal(t, live.ID, list.Deployments[0].ID)
}

func TestControlPlaneUpdateDeploymentStatus(t *testing.T) {
	f := newControlPlaneFixture(t)
	d := f.seed(t, f.workspace)

	req, err := runnerv1.ToStruct(runnerv1.StatusUpdate{DeploymentID: d.ID, Status: types.DeploymentStatusRunning})
	require.NoError(t, err)
	_, err = f.client.UpdateDeploymentStatus(f.ctx(t), req)
	require.NoError(t, err)

	got, err := f.repo.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentStatusRunning, got.Status)

	req, err = runnerv1.ToStruct(runnerv1.StatusUpdate{DeploymentID: d.ID, Status: "exploded"})
	require.NoError(t, err)
	_, err = f.client.UpdateDeploymentStatus(f.ctx(t), req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestControlPlaneStreamRunnerData(t *testing.T) {
	f := newControlPlaneFixture(t)

	stream, err := f.client.StreamRunnerData(f.ctx(t), &emptypb.Empty{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	d := storetest.NewDeployment(f.workspace)
	f.hub.Publish(uuid.New(), types.Deleted(uuid.New()))
	f.hub.Publish(f.workspace, types.Created(d.ID, d.Spec))
	f.hub.Publish(f.workspace, types.Deleted(d.ID))

	msg, err := stream.Recv()
	require.NoError(t, err)
	ev, err := runnerv1.DecodeEvent(msg)
	require.NoError(t, err)
	assert.Equal(t, types.EventResourceCreated, ev.Type)
	assert.Equal(t, d.ID, ev.ResourceID)
	assert.Equal(t, d.Spec.Name, ev.Spec.Name)

	msg, err = stream.Recv()
	require.NoError(t, err)
	ev, err = runnerv1.DecodeEvent(msg)
	require.NoError(t, err)
	assert.Equal(t, types.EventResourceDeleted, ev.Type)
}

func TestControlPlaneStreamEndsWhenHubStops(t *testing.T) {
	f := newControlPlaneFixture(t)

	stream, err := f.client.StreamRunnerData(f.ctx(t), &emptypb.Empty{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.hub.Stop()
	_, err = stream.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
