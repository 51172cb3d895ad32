// Package prefs adds change notification to the settings repository. Every
// write carries an Origin so that listeners can tell user edits from writes
// they caused themselves.
package prefs

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/italolelis/tle_downloader/internal/storage"
)

// Origin tags who initiated a write.
type Origin int

const (
	// OriginUser marks edits made by the user through the UI shell.
	OriginUser Origin = iota
	// OriginInternal marks writes made by the core itself in reaction to
	// another change. Listeners must not react to them as if they were edits.
	OriginInternal
)

func (o Origin) String() string {
	switch o {
	case OriginUser:
		return "user"
	case OriginInternal:
		return "internal"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// Change describes one effective write.
type Change struct {
	Key    string
	Old    string
	New    string
	Origin Origin
}

// Listener is notified synchronously, on the goroutine that performed the write.
type Listener func(ctx context.Context, c Change)

// Preferences is the config store used by the rest of the core.
type Preferences struct {
	repo storage.SettingsRepository

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func New(repo storage.SettingsRepository) *Preferences {
	return &Preferences{
		repo:      repo,
		listeners: make(map[int]Listener),
	}
}

// Get returns the stored value, or "" when the key was never written.
func (p *Preferences) Get(ctx context.Context, key string) (string, error) {
	v, err := p.repo.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}

	return v, nil
}

// Set writes value and notifies listeners when it differs from the stored one.
// Writes that do not change the value are not notified. An empty value
// removes the key.
func (p *Preferences) Set(ctx context.Context, key, value string, origin Origin) error {
	old, err := p.Get(ctx, key)
	if err != nil {
		return err
	}

	if old == value {
		return nil
	}

	if value == "" {
		err = p.repo.Delete(ctx, key)
	} else {
		err = p.repo.Set(ctx, key, value)
	}

	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}

	p.notify(ctx, Change{Key: key, Old: old, New: value, Origin: origin})

	return nil
}

// All returns every stored setting as a map.
func (p *Preferences) All(ctx context.Context) (map[string]string, error) {
	settings, err := p.repo.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}

	out := make(map[string]string, len(settings))
	for _, s := range settings {
		out[s.Key] = s.Value
	}

	return out, nil
}

// Subscribe registers l and returns a function that removes it.
func (p *Preferences) Subscribe(l Listener) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.listeners[id] = l

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		delete(p.listeners, id)
	}
}

func (p *Preferences) notify(ctx context.Context, c Change) {
	// Listeners may write again, so they run outside the lock in registration order.
	p.mu.Lock()
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	slices.Sort(ids)

	for _, id := range ids {
		p.mu.Lock()
		l, ok := p.listeners[id]
		p.mu.Unlock()

		if ok {
			l(ctx, c)
		}
	}
}
