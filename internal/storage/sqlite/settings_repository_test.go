package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/italolelis/tle_downloader/internal/storage"
	"github.com/italolelis/tle_downloader/internal/storage/sqlite"
	"github.com/italolelis/tle_downloader/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) storage.SettingsRepository {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "nested", "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlite.NewSettingsRepository(db)
}

func TestSettingsRepository_GetMissingKey(t *testing.T) {
	repo := newRepo(t)

	value, err := repo.Get(context.Background(), storage.KeyActiveURL)
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestSettingsRepository_SetOverwrites(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.Set(ctx, storage.KeyCatalogSelection, "iridium"))
	require.NoError(t, repo.Set(ctx, storage.KeyCatalogSelection, "gps-ops"))

	value, err := repo.Get(ctx, storage.KeyCatalogSelection)
	require.NoError(t, err)
	assert.Equal(t, "gps-ops", value)

	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, storage.KeyCatalogSelection, all[0].Key)
	assert.NotEmpty(t, all[0].UpdatedAt)
}

func TestSettingsRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.Set(ctx, storage.KeyURLSync, "true"))
	require.NoError(t, repo.Delete(ctx, storage.KeyURLSync))
	require.NoError(t, repo.Delete(ctx, "never-written"))

	value, err := repo.Get(ctx, storage.KeyURLSync)
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestSettingsRepository_EmptyKey(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.Get(ctx, "")
	assert.ErrorIs(t, err, storage.ErrEmptyKey)
	assert.ErrorIs(t, repo.Set(ctx, "", "x"), storage.ErrEmptyKey)
	assert.ErrorIs(t, repo.Delete(ctx, ""), storage.ErrEmptyKey)
}

func TestSettingsRepository_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.db")

	db, err := sqlite.InitDB(path)
	require.NoError(t, err)
	require.NoError(t, sqlite.NewSettingsRepository(db).Set(ctx, storage.KeyActiveURL, "http://host/iridium.txt"))
	require.NoError(t, db.Close())

	db, err = sqlite.InitDB(path)
	require.NoError(t, err)
	defer db.Close()

	value, err := sqlite.NewSettingsRepository(db).Get(ctx, storage.KeyActiveURL)
	require.NoError(t, err)
	assert.Equal(t, "http://host/iridium.txt", value)
}

func TestInstrumentedSettingsRepository(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	defer db.Close()

	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: false})
	require.NoError(t, err)

	repo := sqlite.NewInstrumentedSettingsRepository(db, tel)

	require.NoError(t, repo.Set(ctx, storage.KeyLastUsedURL, "http://host/gps-ops.txt"))

	value, err := repo.Get(ctx, storage.KeyLastUsedURL)
	require.NoError(t, err)
	assert.Equal(t, "http://host/gps-ops.txt", value)

	all, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.Delete(ctx, storage.KeyLastUsedURL))
	assert.ErrorIs(t, repo.Set(ctx, "", "x"), storage.ErrEmptyKey)
}
