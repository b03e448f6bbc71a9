package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/store/sqlite"
)

var controlPlaneCmd = &cobra.Command{
	Use:   "serve-controlplane",
	Short: "Serve a minimal control plane for managed-mode runners",
	Long: `Serve the runner gRPC service backed by a SQLite deployment store,
together with the deployment HTTP API for one workspace. Writes through the
HTTP API are streamed to every runner connected for that workspace.

This is meant for development and for testing managed mode end to end.`,
	RunE: runControlPlane,
}

func init() {
	controlPlaneCmd.Flags().String("grpc-addr", "127.0.0.1:7070", "Address for the runner gRPC service")
	controlPlaneCmd.Flags().String("http-addr", "127.0.0.1:8081", "Address for the deployment HTTP API")
	controlPlaneCmd.Flags().String("health-addr", "127.0.0.1:9091", "Address for health and metrics")
	controlPlaneCmd.Flags().String("database", "./controlplane.sqlite", "SQLite file holding deployment records")
	controlPlaneCmd.Flags().String("token", "", "API token runners and API clients must present (required)")
	controlPlaneCmd.Flags().String("workspace-id", "", "Workspace served by the HTTP API (required)")
	_ = controlPlaneCmd.MarkFlagRequired("token")
	_ = controlPlaneCmd.MarkFlagRequired("workspace-id")
}

func runControlPlane(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	logger := log.WithComponent("main")

	grpcAddr, _ := cmd.Flags().GetString("grpc-addr")
	httpAddr, _ := cmd.Flags().GetString("http-addr")
	healthAddr, _ := cmd.Flags().GetString("health-addr")
	dbPath, _ := cmd.Flags().GetString("database")
	token, _ := cmd.Flags().GetString("token")
	rawWorkspace, _ := cmd.Flags().GetString("workspace-id")

	workspaceID, err := uuid.Parse(rawWorkspace)
	if err != nil {
		return fmt.Errorf("invalid --workspace-id: %w", err)
	}

	db, err := sqlite.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := &sqlite.DeploymentRepo{DB: db}

	hub := events.NewHub()
	hub.Start()
	defer hub.Stop()

	server := api.NewControlPlaneServer(repo, hub, token)
	local := api.NewLocalServer(repo, events.WorkspacePublisher{Hub: hub, WorkspaceID: workspaceID}, api.LocalOptions{
		WorkspaceID: workspaceID,
		APIToken:    token,
	})

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("store")
	metrics.RegisterComponent("store", true, "")
	health := api.NewHealthServer(Version, api.Check{Name: "store", Fn: db.PingContext})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)
	go func() {
		if err := server.Start(grpcAddr); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		if err := local.Start(httpAddr); err != nil {
			errCh <- fmt.Errorf("HTTP API error: %w", err)
		}
	}()
	go func() {
		if err := health.Start(healthAddr); err != nil {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()

	fmt.Println("✓ Control plane started")
	fmt.Printf("  gRPC: %s\n", grpcAddr)
	fmt.Printf("  HTTP: %s\n", httpAddr)
	fmt.Printf("  Workspace: %s\n", workspaceID)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = local.Shutdown(shutdownCtx)
	_ = health.Shutdown(shutdownCtx)
	hub.Stop()
	server.Stop()

	fmt.Println("✓ Shutdown complete")
	return runErr
}
