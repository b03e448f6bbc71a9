// Package app builds the long-lived handles a runner process shares: the
// configuration, the Kubernetes client, local bolt state, the certificate
// authority and the desired-state store for the configured mode.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	burrowclient "github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/deployment"
	"github.com/cuemby/burrow/pkg/edge"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/source"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/store/sqlite"
)

// AppState is built once at startup and handed to the runner and its
// executor. Handles for the other mode are nil.
type AppState struct {
	Config *config.Config
	Kube   client.Client
	Bolt   *storage.BoltStore
	Routes *edge.Table
	CA     *security.CertAuthority

	// Deployments is the desired-state store in either mode
	Deployments store.DeploymentReader

	// Self-hosted mode
	DB    *sql.DB
	Repo  *sqlite.DeploymentRepo
	Queue *events.Queue

	// Managed mode
	ControlPlane *burrowclient.Client

	closers []func() error
}

// New opens everything cfg asks for. On error, whatever was already opened
// is closed again.
func New(cfg *config.Config, kube client.Client) (_ *AppState, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &AppState{Config: cfg, Kube: kube}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s.Bolt, err = storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Bolt.Close)
	s.Routes = edge.NewTable(s.Bolt)

	secrets, err := SecretsManager(cfg)
	if err != nil {
		return nil, err
	}
	s.CA = security.NewCertAuthority(s.Bolt, secrets)
	if err := s.CA.LoadOrInitialize(); err != nil {
		return nil, fmt.Errorf("failed to load certificate authority: %w", err)
	}

	switch cfg.Mode {
	case config.ModeSelfHosted:
		s.DB, err = sqlite.Open(cfg.DatabaseFile())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.closers = append(s.closers, s.DB.Close)
		s.Repo = &sqlite.DeploymentRepo{DB: s.DB}
		s.Deployments = s.Repo
		s.Queue = events.NewQueue()
		s.closers = append(s.closers, func() error { s.Queue.Close(); return nil })

	case config.ModeManaged:
		s.ControlPlane, err = burrowclient.NewClient(burrowclient.Options{
			Addr:        cfg.ControlPlaneAddr,
			Token:       cfg.APIToken,
			WorkspaceID: cfg.WorkspaceID,
			RunnerID:    cfg.RunnerID,
			UserAgent:   cfg.UserAgent,
			Insecure:    cfg.ControlPlaneInsecure,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.ControlPlane.Close)
		s.Deployments = s.ControlPlane
	}

	return s, nil
}

// Executor builds the deployment executor over the shared handles
func (s *AppState) Executor() *deployment.Executor {
	cfg := s.Config
	return deployment.New(s.Kube, s.Deployments, s.Routes, s.CA, deployment.Options{
		RootDomain:       cfg.RootDomain,
		Region:           cfg.Region,
		IngressClass:     cfg.IngressClass,
		InternalRegistry: cfg.InternalRegistry,
		SecretsPath:      cfg.SecretsPath,
		StoppedPageURL:   cfg.Edge.StoppedPageURL,
		DeletedTTL:       cfg.Edge.DeletedTTL,
		RetryDelay:       cfg.RetryDelay,
		Namespace:        cfg.WorkspaceID.String(),
	})
}

// Source returns the update source for the configured mode
func (s *AppState) Source() source.Source {
	if s.ControlPlane != nil {
		return source.NewGRPCSource(s.ControlPlane)
	}
	return source.NewLocalSource(s.Queue)
}

// Close releases every handle in reverse order of opening
func (s *AppState) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// SecretsManager builds the key that protects CA material at rest: the
// configured encryption key, else one derived from the workspace id
func SecretsManager(cfg *config.Config) (*security.SecretsManager, error) {
	if cfg.EncryptionKey != "" {
		return security.NewSecretsManagerFromPassword(cfg.EncryptionKey)
	}
	return security.NewSecretsManager(security.DeriveKey(cfg.WorkspaceID.String()))
}

// Scheme registers every object kind the deployment executor manages
func Scheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	return scheme
}

// KubeClient connects to the cluster named by kubeconfig, or to the cluster
// the process runs in when kubeconfig is empty
func KubeClient(kubeconfig string) (client.Client, error) {
	var (
		restConfig *rest.Config
		err        error
	)
	if kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}

	c, err := client.New(restConfig, client.Options{Scheme: Scheme()})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return c, nil
}
