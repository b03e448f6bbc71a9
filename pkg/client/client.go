package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/burrow/api/runnerv1"
	rerrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/types"
)

const defaultCallTimeout = 10 * time.Second

// Options configures the connection to the control plane
type Options struct {
	Addr        string
	Token       string
	WorkspaceID uuid.UUID
	RunnerID    uuid.UUID
	UserAgent   string

	// Insecure disables TLS. CAFile, when set, replaces the system roots.
	Insecure bool
	CAFile   string

	// CallTimeout bounds every unary call. The stream is not bounded.
	CallTimeout time.Duration

	DialOptions []grpc.DialOption
}

// Client talks to the control plane on behalf of one runner
type Client struct {
	conn    *grpc.ClientConn
	client  runnerv1.RunnerServiceClient
	timeout time.Duration
}

// NewClient creates a client. No connection is made until the first call.
func NewClient(opts Options) (*Client, error) {
	creds, err := transportCredentials(opts)
	if err != nil {
		return nil, err
	}

	md := metadata.Pairs(
		runnerv1.MetadataAuthorization, "Bearer "+opts.Token,
		runnerv1.MetadataWorkspaceID, opts.WorkspaceID.String(),
		runnerv1.MetadataRunnerID, opts.RunnerID.String(),
	)
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(unaryMetadata(md)),
		grpc.WithChainStreamInterceptor(streamMetadata(md)),
	}
	if opts.UserAgent != "" {
		dialOpts = append(dialOpts, grpc.WithUserAgent(opts.UserAgent))
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create control plane client: %w", err)
	}

	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{
		conn:    conn,
		client:  runnerv1.NewRunnerServiceClient(conn),
		timeout: timeout,
	}, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Stream opens the desired-state stream. It stays open until ctx is done or
// the control plane ends it.
func (c *Client) Stream(ctx context.Context) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.client.StreamRunnerData(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fromStatus(err)
	}
	return stream, nil
}

// Get fetches one deployment record
func (c *Client) Get(ctx context.Context, id types.ResourceID) (*types.Deployment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := runnerv1.ToStruct(runnerv1.DeploymentRequest{DeploymentID: id})
	if err != nil {
		return nil, err
	}
	resp, err := c.client.GetDeployment(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", id, fromStatus(err))
	}

	var d types.Deployment
	if err := runnerv1.FromStruct(resp, &d); err != nil {
		return nil, rerrors.WrapTransientConnection(err)
	}
	return &d, nil
}

// List fetches every live deployment of the workspace
func (c *Client) List(ctx context.Context) ([]*types.Deployment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.ListDeployments(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", fromStatus(err))
	}

	var list runnerv1.DeploymentList
	if err := runnerv1.FromStruct(resp, &list); err != nil {
		return nil, rerrors.WrapTransientConnection(err)
	}
	return list.Deployments, nil
}

// UpdateStatus reports a deployment's observed status
func (c *Client) UpdateStatus(ctx context.Context, id types.ResourceID, s types.DeploymentStatus) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := runnerv1.ToStruct(runnerv1.StatusUpdate{DeploymentID: id, Status: s})
	if err != nil {
		return err
	}
	if _, err := c.client.UpdateDeploymentStatus(ctx, req); err != nil {
		return fmt.Errorf("update status of %s: %w", id, fromStatus(err))
	}
	return nil
}

// fromStatus maps gRPC codes onto the runner's error taxonomy
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return rerrors.WrapTransientConnection(err)
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), rerrors.ErrNotFound)
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return rerrors.WrapPermanentConfig(fmt.Errorf("%s: %s", st.Code(), st.Message()))
	default:
		return rerrors.WrapTransientConnection(fmt.Errorf("%s: %s", st.Code(), st.Message()))
	}
}

func transportCredentials(opts Options) (credentials.TransportCredentials, error) {
	if opts.Insecure {
		return insecure.NewCredentials(), nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.CAFile != "" {
		data, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCert, err := security.ParseCertPEM(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AddCert(caCert)
		tlsConfig.RootCAs = pool
	}
	return credentials.NewTLS(tlsConfig), nil
}

func unaryMetadata(md metadata.MD) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(metadata.NewOutgoingContext(ctx, md), method, req, reply, cc, opts...)
	}
}

func streamMetadata(md metadata.MD) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(metadata.NewOutgoingContext(ctx, md), desc, cc, method, opts...)
	}
}
