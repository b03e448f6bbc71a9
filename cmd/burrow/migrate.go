package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/store/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|status|version|redo]",
	Short: "Manage the self-hosted deployment database schema",
	Long: `Run schema migrations against the self-hosted SQLite database.

Examples:
  # Apply pending migrations, keeping a backup of the current file
  burrow migrate up --config burrow.yaml

  # Show which migrations are applied
  burrow migrate status --database ./burrow.sqlite`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down", "status", "version", "redo"},
	RunE:      runMigrate,
}

func init() {
	migrateCmd.Flags().String("database", "", "SQLite file (defaults to the configured database)")
	migrateCmd.Flags().Bool("backup", true, "Copy the database file before changing it")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	command := "up"
	if len(args) == 1 {
		command = args[0]
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("database")
	if path == "" {
		path = cfg.DatabaseFile()
	}

	backup, _ := cmd.Flags().GetBool("backup")
	if backup && command != "status" && command != "version" {
		dst, err := backupFile(path)
		if err != nil {
			return err
		}
		if dst != "" {
			fmt.Printf("✓ Backup written to %s\n", dst)
		}
	}

	db, err := sqlite.OpenNoMigrate(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlite.Migrate(context.Background(), db, command); err != nil {
		return err
	}
	fmt.Printf("✓ migrate %s complete\n", command)
	return nil
}

// backupFile copies path next to itself with a timestamp suffix. A missing
// file needs no backup.
func backupFile(path string) (string, error) {
	src, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open database: %w", err)
	}
	defer src.Close()

	dst := fmt.Sprintf("%s.backup-%s", path, time.Now().Format("20060102-150405"))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return dst, out.Sync()
}
