package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadImporterConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError bool
		validate    func(*testing.T, *ImporterConfig)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
sentry_dsn: "https://sentry.example.com"
database:
  host: localhost
  port: 5432
  user: testuser
  password: testpass
  dbname: testdb
  sslmode: require
import:
  assets_root: "var/assets"
  index_roots:
    - "var/assets"
    - "var/legacy"
  report_dir: "var/reports"
  download_batch_size: 5
  batch_pause: "250ms"
  download_timeout: "10s"
`,
			expectError: false,
			validate: func(t *testing.T, cfg *ImporterConfig) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, "https://sentry.example.com", cfg.SentryDSN)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "testdb", cfg.Database.DBName)
				assert.Equal(t, "require", cfg.Database.SSLMode)
				assert.Equal(t, "var/assets", cfg.Import.AssetsRoot)
				assert.Equal(t, []string{"var/assets", "var/legacy"}, cfg.Import.IndexRoots)
				assert.Equal(t, 5, cfg.Import.DownloadBatchSize)
				assert.Equal(t, 250*time.Millisecond, cfg.Import.BatchPause)
				assert.Equal(t, 10*time.Second, cfg.Import.DownloadTimeout)
			},
		},
		{
			name: "config with defaults",
			configFile: `
database:
  host: localhost
  user: testuser
  password: testpass
  dbname: testdb
`,
			expectError: false,
			validate: func(t *testing.T, cfg *ImporterConfig) {
				// Check defaults
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "disable", cfg.Database.SSLMode)
				assert.Equal(t, "assets/products", cfg.Import.AssetsRoot)
				assert.Equal(t, "reports", cfg.Import.ReportDir)
				assert.Equal(t, 3, cfg.Import.DownloadBatchSize)
				assert.Equal(t, 500*time.Millisecond, cfg.Import.BatchPause)
				assert.Equal(t, 30*time.Second, cfg.Import.DownloadTimeout)
			},
		},
		{
			name: "missing database host",
			configFile: `
database:
  dbname: testdb
`,
			expectError: true,
			validate:    nil,
		},
		{
			name: "invalid yaml",
			configFile: `
				database:
				  host: localhost
				  port: invalid
			`,
			expectError: true,
			validate:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configFile := filepath.Join(tmpDir, "config.yaml")
			err := os.WriteFile(configFile, []byte(tt.configFile), 0600)
			require.NoError(t, err)

			cfg, err := LoadImporterConfig(configFile, tmpDir)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			} else if tt.validate != nil {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadAPIConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(`
database:
  host: localhost
  user: testuser
  password: testpass
  dbname: testdb
server:
  port: 9090
redis:
  addr: "localhost:6379"
  ttl: "24h"
auth:
  api_keys:
    - "key-one"
    - "key-two"
`), 0600)
	require.NoError(t, err)

	cfg, err := LoadAPIConfig(configFile, tmpDir)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.ReadTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.Auth.APIKeys)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "catalog",
		Password: "secret",
		DBName:   "catalog",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=catalog password=secret dbname=catalog sslmode=require",
		cfg.DSN())
}
