package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/cuemby/burrow/pkg/errors"
)

func TestLoadOverridesDefaults(t *testing.T) {
	workspace := uuid.New()
	runner := uuid.New()
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	content := `
mode: managed
workspaceId: ` + workspace.String() + `
runnerId: ` + runner.String() + `
apiToken: secret-token
controlPlaneAddr: cp.example.com:443
rootDomain: apps.example.com
region: eu-1
resync: "@every 30s"
reconnectDelay: 2s
log:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeManaged, cfg.Mode)
	assert.Equal(t, workspace, cfg.WorkspaceID)
	assert.Equal(t, runner, cfg.RunnerID)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, "nginx", cfg.IngressClass)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 15*24*time.Hour, cfg.Edge.DeletedTTL)
	require.NoError(t, cfg.Validate())

	schedule, err := cfg.ResyncSchedule()
	require.NoError(t, err)
	now := time.Now()
	assert.WithinDuration(t, now.Add(30*time.Second), schedule.Next(now), time.Second)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.WorkspaceID = uuid.New()
		cfg.RootDomain = "apps.example.com"
		cfg.Region = "eu-1"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "self-hosted defaults", mutate: func(c *Config) {}},
		{name: "missing workspace", mutate: func(c *Config) { c.WorkspaceID = uuid.Nil }, wantErr: true},
		{name: "managed without runner", mutate: func(c *Config) { c.Mode = ModeManaged }, wantErr: true},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "hybrid" }, wantErr: true},
		{name: "missing root domain", mutate: func(c *Config) { c.RootDomain = "" }, wantErr: true},
		{name: "zero concurrency", mutate: func(c *Config) { c.Concurrency = 0 }, wantErr: true},
		{name: "bad resync", mutate: func(c *Config) { c.Resync = "every minute" }, wantErr: true},
		{name: "cron resync", mutate: func(c *Config) { c.Resync = "*/5 * * * *" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, rerrors.IsPermanent(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseFile(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	assert.Equal(t, "/data/burrow.sqlite", cfg.DatabaseFile())

	cfg.DatabasePath = "/tmp/x.sqlite"
	assert.Equal(t, "/tmp/x.sqlite", cfg.DatabaseFile())
}
