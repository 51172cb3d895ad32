package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/tle_downloader/internal/storage"
	"github.com/italolelis/tle_downloader/internal/telemetry"
)

// InstrumentedSettingsRepository wraps SettingsRepository with telemetry.
type InstrumentedSettingsRepository struct {
	repo      *SettingsRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedSettingsRepository creates a new instrumented settings repository.
func NewInstrumentedSettingsRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedSettingsRepository {
	return &InstrumentedSettingsRepository{
		repo:      NewSettingsRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedSettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var result string

	err := r.telemetry.InstrumentDBOperation(ctx, "get_setting", func(ctx context.Context) error {
		var err error
		result, err = r.repo.Get(ctx, key)

		return err
	})
	if err != nil {
		return "", err
	}

	return result, nil
}

func (r *InstrumentedSettingsRepository) Set(ctx context.Context, key, value string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "set_setting", func(ctx context.Context) error {
		return r.repo.Set(ctx, key, value)
	})
}

func (r *InstrumentedSettingsRepository) Delete(ctx context.Context, key string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_setting", func(ctx context.Context) error {
		return r.repo.Delete(ctx, key)
	})
}

func (r *InstrumentedSettingsRepository) All(ctx context.Context) ([]storage.Setting, error) {
	var result []storage.Setting

	err := r.telemetry.InstrumentDBOperation(ctx, "list_settings", func(ctx context.Context) error {
		var err error
		result, err = r.repo.All(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
