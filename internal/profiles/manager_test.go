package profiles_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/relsync/relsync/internal/config"
	"github.com/relsync/relsync/internal/profiles"
)

func TestManagerSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	manager := profiles.NewManager(dir)

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Type:     "postgres",
			Host:     "db.internal",
			Port:     5432,
			Database: "warehouse",
		},
		Manifests: config.ManifestSourceConfig{
			Type: "csv",
			Dir:  "./manifests",
		},
		Cache: config.CacheConfig{
			Enabled: true,
			Addr:    "localhost:6379",
			TTL:     5 * time.Minute,
		},
		SchemaFile: "schema.yaml",
	}

	profile, err := manager.Save("Prod Warehouse", cfg)
	require.NoError(t, err)
	require.Equal(t, "postgres", profile.Type)
	require.FileExists(t, profile.Path)

	loaded, err := manager.Load(profile.Name)
	require.NoError(t, err)
	require.Equal(t, cfg.Database.Host, loaded.Database.Host)
	require.Equal(t, cfg.Manifests.Dir, loaded.Manifests.Dir)
	require.Equal(t, cfg.Cache.TTL, loaded.Cache.TTL)
	require.Equal(t, cfg.SchemaFile, loaded.SchemaFile)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestManagerListFiltersByType(t *testing.T) {
	dir := t.TempDir()
	manager := profiles.NewManager(dir)

	writeProfile(t, dir, "alpha-postgres.yaml", "postgres")
	writeProfile(t, dir, "beta-sqlite.yaml", "sqlite")

	all, err := manager.List("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	postgresOnly, err := manager.List("postgres")
	require.NoError(t, err)
	require.Len(t, postgresOnly, 1)
	require.Equal(t, "postgres", postgresOnly[0].Type)

	sqliteOnly, err := manager.List("sqlite")
	require.NoError(t, err)
	require.Len(t, sqliteOnly, 1)
	require.Equal(t, "sqlite", sqliteOnly[0].Type)
}

func TestManagerDelete(t *testing.T) {
	dir := t.TempDir()
	manager := profiles.NewManager(dir)

	writeProfile(t, dir, "stale.yaml", "postgres")
	require.NoError(t, manager.Delete("stale"))
	require.Error(t, manager.Delete("stale"))
}

func writeProfile(t *testing.T, dir, name, dbType string) {
	t.Helper()

	cfg := config.Config{
		Database: config.DatabaseConfig{
			Type:     dbType,
			Host:     "localhost",
			Database: "warehouse",
		},
	}

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	err = os.WriteFile(path, data, 0o644)
	require.NoError(t, err)
}
