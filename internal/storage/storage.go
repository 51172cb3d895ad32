package storage

import (
	"context"
	"errors"
)

// Settings keys shared by the config store users.
const (
	KeyCatalogSelection = "catalog_selection"
	KeyActiveURL        = "active_url"
	KeyActiveURLSource  = "active_url_source"
	KeyLastUsedURL      = "last_used_url"
	KeyLastModified     = "last_modified"
	KeyLastFingerprint  = "last_fingerprint"
	KeyURLSync          = "url_sync"
)

// Values stored under KeyActiveURLSource.
const (
	SourceDerived = "derived"
	SourceManual  = "manual"
)

var ErrEmptyKey = errors.New("settings key must not be empty")

// Setting is one persisted key/value pair.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt string
}

// SettingsRepository persists configuration values. A key that was never
// written reads as the empty string.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	All(ctx context.Context) ([]Setting, error)
}
