package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/deployment"
	rerrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
)

const maxBodyBytes = 4 << 20

// LocalOptions configures the self-hosted HTTP API
type LocalOptions struct {
	WorkspaceID      uuid.UUID
	APIToken         string
	InternalRegistry string
}

// LocalServer is the self-hosted HTTP API. Every accepted write is stored
// first and then announced on the publisher, so the runner never sees an
// event for a record that failed to persist.
type LocalServer struct {
	repo      store.DeploymentRepository
	publisher deployment.Publisher
	push      *deployment.PushHandler
	opts      LocalOptions
	mux       *http.ServeMux
	server    *http.Server
	logger    zerolog.Logger
}

// NewLocalServer creates the local API over repo, announcing changes on publisher
func NewLocalServer(repo store.DeploymentRepository, publisher deployment.Publisher, opts LocalOptions) *LocalServer {
	s := &LocalServer{
		repo:      repo,
		publisher: publisher,
		push:      deployment.NewPushHandler(repo, publisher),
		opts:      opts,
		mux:       http.NewServeMux(),
		logger:    log.ForWorkspace(log.WithComponent("local-api"), opts.WorkspaceID),
	}

	s.handle("POST /v1/deployments", s.createDeployment)
	s.handle("GET /v1/deployments", s.listDeployments)
	s.handle("GET /v1/deployments/{id}", s.getDeployment)
	s.handle("PUT /v1/deployments/{id}", s.updateDeployment)
	s.handle("DELETE /v1/deployments/{id}", s.deleteDeployment)
	s.handle("POST /v1/deployments/{id}/start", s.startDeployment)
	s.handle("POST /v1/deployments/{id}/stop", s.stopDeployment)
	s.handle("POST /v1/webhook/push", s.imagePushed)

	return s
}

// Handler returns the API handler
func (s *LocalServer) Handler() http.Handler {
	return s.mux
}

// Start serves the API on addr until Shutdown is called
func (s *LocalServer) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("Local API listening")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server started by Start
func (s *LocalServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type apiHandler func(w http.ResponseWriter, r *http.Request) error

// handle registers h behind bearer authentication and request accounting
func (s *LocalServer) handle(pattern string, h apiHandler) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			metrics.APIRequestsTotal.WithLabelValues(pattern, strconv.Itoa(rec.code)).Inc()
		}()

		if !s.authorized(r) {
			writeError(rec, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		r.Body = http.MaxBytesReader(rec, r.Body, maxBodyBytes)
		if err := h(rec, r); err != nil {
			code := httpStatus(err)
			if code >= http.StatusInternalServerError {
				s.logger.Error().Err(err).Str("route", pattern).Msg("Request failed")
			}
			writeError(rec, code, err.Error())
		}
	})
}

func (s *LocalServer) authorized(r *http.Request) bool {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.APIToken)) == 1
}

// DeploymentRequest is the body of create and update calls. Only the id of
// the machine type is read; its size is resolved from the store.
type DeploymentRequest struct {
	ID *uuid.UUID `json:"id,omitempty"`
	types.DeploymentSpec
}

// PushRequest is the body of the image push webhook
type PushRequest struct {
	Registry string `json:"registry"`
	Image    string `json:"image"`
	Tag      string `json:"tag"`
	Digest   string `json:"digest"`
}

// PushResponse lists the deployments a push redeployed
type PushResponse struct {
	Redeployed []types.ResourceID `json:"redeployed"`
}

func (s *LocalServer) createDeployment(w http.ResponseWriter, r *http.Request) error {
	var req DeploymentRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	spec, err := s.resolveSpec(r.Context(), req.DeploymentSpec)
	if err != nil {
		return err
	}

	id := uuid.New()
	if req.ID != nil {
		id = *req.ID
	}
	d := &types.Deployment{
		ID:          id,
		WorkspaceID: s.opts.WorkspaceID,
		Status:      types.DeploymentStatusCreated,
		Spec:        spec,
	}
	if err := s.repo.Create(r.Context(), d); err != nil {
		return err
	}

	s.publisher.Publish(types.Created(d.ID, d.Spec))
	s.logger.Info().Str("resource_id", d.ID.String()).Str("name", spec.Name).Msg("Deployment created")
	return s.respondWithRecord(r.Context(), w, http.StatusCreated, d.ID)
}

func (s *LocalServer) listDeployments(w http.ResponseWriter, r *http.Request) error {
	all, err := s.repo.List(r.Context())
	if err != nil {
		return err
	}
	visible := []*types.Deployment{}
	for _, d := range all {
		if d.Status != types.DeploymentStatusDeleted {
			visible = append(visible, d)
		}
	}
	writeJSON(w, http.StatusOK, visible)
	return nil
}

func (s *LocalServer) getDeployment(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	return s.respondWithRecord(r.Context(), w, http.StatusOK, id)
}

func (s *LocalServer) updateDeployment(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	var req DeploymentRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	d, err := s.live(r.Context(), id)
	if err != nil {
		return err
	}
	spec, err := s.resolveSpec(r.Context(), req.DeploymentSpec)
	if err != nil {
		return err
	}

	d.Spec = spec
	if err := s.repo.Update(r.Context(), d); err != nil {
		return err
	}

	s.publisher.Publish(types.Updated(d.ID, d.Spec))
	return s.respondWithRecord(r.Context(), w, http.StatusOK, id)
}

func (s *LocalServer) deleteDeployment(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if _, err := s.live(r.Context(), id); err != nil {
		return err
	}
	if err := s.repo.Delete(r.Context(), id); err != nil {
		return err
	}

	s.publisher.Publish(types.Deleted(id))
	s.logger.Info().Str("resource_id", id.String()).Msg("Deployment deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *LocalServer) startDeployment(w http.ResponseWriter, r *http.Request) error {
	return s.transition(w, r, types.DeploymentStatusDeploying)
}

func (s *LocalServer) stopDeployment(w http.ResponseWriter, r *http.Request) error {
	return s.transition(w, r, types.DeploymentStatusStopped)
}

func (s *LocalServer) transition(w http.ResponseWriter, r *http.Request, status types.DeploymentStatus) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	d, err := s.live(r.Context(), id)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(r.Context(), id, status); err != nil {
		return err
	}

	s.publisher.Publish(types.Updated(id, d.Spec))
	return s.respondWithRecord(r.Context(), w, http.StatusOK, id)
}

func (s *LocalServer) imagePushed(w http.ResponseWriter, r *http.Request) error {
	var req PushRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.Image == "" || req.Tag == "" || req.Digest == "" {
		return badRequest("image, tag and digest are required")
	}

	ids, err := s.push.HandleImagePush(r.Context(), req.Registry, req.Image, req.Tag, req.Digest)
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []types.ResourceID{}
	}
	writeJSON(w, http.StatusOK, PushResponse{Redeployed: ids})
	return nil
}

// live loads a record that has not been deleted
func (s *LocalServer) live(ctx context.Context, id types.ResourceID) (*types.Deployment, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == types.DeploymentStatusDeleted {
		return nil, fmt.Errorf("deployment %s: %w", id, rerrors.ErrNotFound)
	}
	return d, nil
}

func (s *LocalServer) respondWithRecord(ctx context.Context, w http.ResponseWriter, code int, id types.ResourceID) error {
	d, err := s.live(ctx, id)
	if err != nil {
		return err
	}
	writeJSON(w, code, d)
	return nil
}

// resolveSpec fills in what the caller may omit and validates the result
func (s *LocalServer) resolveSpec(ctx context.Context, spec types.DeploymentSpec) (types.DeploymentSpec, error) {
	if spec.MachineType.ID == uuid.Nil {
		return spec, badRequest("machineType.id is required")
	}
	mt, err := s.repo.MachineType(ctx, spec.MachineType.ID)
	if rerrors.IsNotFound(err) {
		return spec, badRequest(fmt.Sprintf("unknown machine type %s", spec.MachineType.ID))
	}
	if err != nil {
		return spec, err
	}
	spec.MachineType = *mt

	if spec.Registry.Kind == types.RegistryInternal && spec.Registry.Registry == "" {
		spec.Registry.Registry = s.opts.InternalRegistry
	}

	if err := spec.Validate(); err != nil {
		return spec, badRequest(err.Error())
	}
	return spec, nil
}

func pathID(r *http.Request) (types.ResourceID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, badRequest(fmt.Sprintf("invalid deployment id %q", r.PathValue("id")))
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// requestError carries an HTTP status chosen by a handler
type requestError struct {
	code int
	msg  string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{code: http.StatusBadRequest, msg: msg}
}

func httpStatus(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.code
	case rerrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case rerrors.IsPermanent(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}
