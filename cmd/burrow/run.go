package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/app"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/runner"
)

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation loop",
	Long: `Run connects to the configured source of desired state and keeps the
cluster converged on it until interrupted.

In self-hosted mode the local HTTP API is served on listenAddr. Health,
readiness and metrics are served on healthAddr in both modes.`,
	RunE: runRunner,
}

func runRunner(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	resync, err := cfg.ResyncSchedule()
	if err != nil {
		return err
	}

	ctrllog.SetLogger(log.LogrSink("kubernetes"))
	logger := log.WithComponent("main")

	kube, err := app.KubeClient(cfg.Kubeconfig)
	if err != nil {
		return err
	}

	state, err := app.New(cfg, kube)
	if err != nil {
		return err
	}
	defer state.Close()

	exec := state.Executor()
	r := runner.New(exec, state.Source(), runner.Options{
		Resync:         resync,
		ReconnectDelay: cfg.ReconnectDelay,
		Concurrency:    cfg.Concurrency,
		Sweeper:        state.Routes,
	})

	metrics.SetVersion(Version)
	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("orchestrator", false, "waiting for first reconciliation")

	health := api.NewHealthServer(Version,
		api.Check{Name: "store", Fn: func(context.Context) error {
			_, err := state.Bolt.CountRoutes()
			return err
		}},
		api.Check{Name: "orchestrator", Fn: func(ctx context.Context) error {
			return kube.List(ctx, &corev1.NamespaceList{}, client.Limit(1))
		}},
	)

	var (
		statuses metrics.StatusCounter
		local    *api.LocalServer
	)
	if cfg.Mode == config.ModeSelfHosted {
		statuses = state.Repo
		local = api.NewLocalServer(state.Repo, state.Queue, api.LocalOptions{
			WorkspaceID:      cfg.WorkspaceID,
			APIToken:         cfg.APIToken,
			InternalRegistry: cfg.InternalRegistry,
		})
	}
	collector := metrics.NewCollector(statuses, state.Bolt)
	collector.Start()
	defer collector.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		if err := health.Start(cfg.HealthAddr); err != nil {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()
	if local != nil {
		go func() {
			if err := local.Start(cfg.ListenAddr); err != nil {
				errCh <- fmt.Errorf("local API error: %w", err)
			}
		}()
	}

	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("workspace_id", cfg.WorkspaceID.String()).
		Str("version", Version).
		Msg("Runner started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
		runErr = awaitRunner(runDone, shutdownTimeout)
	case runErr = <-runDone:
	case err := <-errCh:
		logger.Error().Err(err).Msg("Server failed, shutting down")
		stop()
		if werr := awaitRunner(runDone, shutdownTimeout); werr != nil {
			logger.Warn().Err(werr).Msg("Runner did not stop cleanly")
		}
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if local != nil {
		if err := local.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Local API shutdown failed")
		}
	}
	if err := health.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Health server shutdown failed")
	}

	logger.Info().Msg("Shutdown complete")
	return runErr
}

// awaitRunner waits for the runner to drain its in-flight reconciles, giving
// up after timeout
func awaitRunner(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("runner still draining after %s", timeout)
	}
}
