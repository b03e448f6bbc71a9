package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/app"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/storage"
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Manage the runner certificate authority",
}

var caInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create (or load) the certificate authority and export its root",
	Long: `Initialize the certificate authority that signs deployment TLS
certificates and write the root certificate to <out>/ca.crt so clients and
the edge can trust it. An existing authority in the data directory is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
			cfg.DataDir = dir
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = cfg.DataDir
		}

		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		bolt, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer bolt.Close()

		secrets, err := app.SecretsManager(cfg)
		if err != nil {
			return err
		}

		ca := security.NewCertAuthority(bolt, secrets)
		if err := ca.LoadOrInitialize(); err != nil {
			return fmt.Errorf("failed to initialize certificate authority: %w", err)
		}
		path, err := security.SaveCACertToFile(ca.GetRootCACert(), out)
		if err != nil {
			return err
		}

		fmt.Println("✓ Certificate authority ready")
		fmt.Printf("  Root certificate: %s\n", path)
		return nil
	},
}

func init() {
	caCmd.AddCommand(caInitCmd)
	caInitCmd.Flags().String("data-dir", "", "Data directory holding the runner state")
	caInitCmd.Flags().String("out", "", "Directory to write ca.crt into (defaults to the data directory)")
}
