package api

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cuemby/burrow/api/runnerv1"
)

// Authenticator checks the bearer token and caller identity headers every
// runner call carries
type Authenticator struct {
	Token string
}

// UnaryInterceptor rejects unauthenticated unary calls
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		caller, err := a.authenticate(ctx)
		if err != nil {
			return nil, err
		}
		return handler(withCaller(ctx, caller), req)
	}
}

// StreamInterceptor rejects unauthenticated streams
func (a *Authenticator) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		caller, err := a.authenticate(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &callerStream{ServerStream: ss, ctx: withCaller(ss.Context(), caller)})
	}
}

func (a *Authenticator) authenticate(ctx context.Context) (Caller, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Caller{}, status.Error(codes.Unauthenticated, "missing metadata")
	}

	token, ok := bearerToken(first(md, runnerv1.MetadataAuthorization))
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) != 1 {
		return Caller{}, status.Error(codes.Unauthenticated, "invalid bearer token")
	}

	workspace, err := uuid.Parse(first(md, runnerv1.MetadataWorkspaceID))
	if err != nil {
		return Caller{}, status.Error(codes.Unauthenticated, "missing or malformed workspace id")
	}
	runner := first(md, runnerv1.MetadataRunnerID)
	if runner == "" {
		return Caller{}, status.Error(codes.Unauthenticated, "missing runner id")
	}

	return Caller{
		WorkspaceID: workspace,
		RunnerID:    runner,
		UserAgent:   first(md, "user-agent"),
	}, nil
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" value
func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// callerStream overrides the stream context with one carrying the caller
type callerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *callerStream) Context() context.Context {
	return s.ctx
}
