// Package consistency keeps the catalog selection, the active download URL and
// its source marker consistent while the user edits any one of them.
//
// All methods must run on the foreground loop. Writes made here are tagged
// prefs.OriginInternal so that they never re-enter the controller.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/italolelis/tle_downloader/internal/boundary"
	"github.com/italolelis/tle_downloader/internal/catalog"
	"github.com/italolelis/tle_downloader/internal/logctx"
	"github.com/italolelis/tle_downloader/internal/prefs"
	"github.com/italolelis/tle_downloader/internal/storage"
	"github.com/italolelis/tle_downloader/internal/telemetry"
)

// Policy decides what happens when the selection changes under a manual URL.
type Policy string

const (
	// PolicyConfirm raises an out-of-sync notice and leaves the URL alone.
	PolicyConfirm Policy = "confirm"
	// PolicyAutoSync overwrites the manual URL with the derived one.
	PolicyAutoSync Policy = "auto"
)

var (
	ErrUnknownPolicy  = errors.New("unknown sync policy")
	ErrUnknownGroup   = errors.New("unknown catalog group")
	ErrUnknownCatalog = errors.New("unknown catalog")
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyConfirm, PolicyAutoSync:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// State of the active URL.
type State int

const (
	StateUnset State = iota
	StateDerived
	StateManual
)

func (s State) String() string {
	switch s {
	case StateUnset:
		return "unset"
	case StateDerived:
		return "derived"
	case StateManual:
		return "manual"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// InconsistencyError reports an active URL that diverges from the URL the
// current selection resolves to. It is surfaced as a notice, never as a failure.
type InconsistencyError struct {
	Selection   string
	ActiveURL   string
	ResolvedURL string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("url %s is out of sync with catalog %s (resolves to %s)", e.ActiveURL, e.Selection, e.ResolvedURL)
}

// Store is the config store the controller reads and writes.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, origin prefs.Origin) error
	Subscribe(l prefs.Listener) (unsubscribe func())
}

// Controller reacts to user edits of the catalog selection, the active URL and
// the per-group candidate picks.
type Controller struct {
	store     Store
	resolver  *catalog.Resolver
	ui        boundary.UI
	policy    Policy
	telemetry *telemetry.Telemetry
}

func New(store Store, resolver *catalog.Resolver, ui boundary.UI, policy Policy, t *telemetry.Telemetry) *Controller {
	if policy == "" {
		policy = PolicyConfirm
	}

	return &Controller{
		store:     store,
		resolver:  resolver,
		ui:        ui,
		policy:    policy,
		telemetry: t,
	}
}

// Start subscribes the controller to store changes.
func (c *Controller) Start() (stop func()) {
	return c.store.Subscribe(c.OnChange)
}

// OnChange handles one store change. Internal writes are ignored.
func (c *Controller) OnChange(ctx context.Context, ch prefs.Change) {
	if ch.Origin == prefs.OriginInternal {
		return
	}

	var err error

	switch ch.Key {
	case storage.KeyCatalogSelection:
		err = c.Reconcile(ctx)
	case storage.KeyActiveURL:
		err = c.classify(ctx, ch.New)
	default:
		if group, ok := catalog.IsCandidateKey(ch.Key); ok && ch.New != "" {
			err = c.Pick(ctx, group, ch.New)
		}
	}

	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to reconcile settings", "key", ch.Key, "err", err)
		c.telemetry.RecordSystemError(ctx, "consistency", "reconcile")
	}
}

// Reconcile recomputes the derived URL for the current selection and applies it
// unless a manual URL is in place, in which case the policy decides.
func (c *Controller) Reconcile(ctx context.Context) error {
	selection, err := c.store.Get(ctx, storage.KeyCatalogSelection)
	if err != nil {
		return err
	}

	candidate := c.resolver.Resolve(selection)

	active, err := c.store.Get(ctx, storage.KeyActiveURL)
	if err != nil {
		return err
	}

	source, err := c.store.Get(ctx, storage.KeyActiveURLSource)
	if err != nil {
		return err
	}

	logger := logctx.LoggerFromContext(ctx)

	switch {
	case active == "", active == candidate, source == storage.SourceDerived:
		logger.Debug("applying derived url", "selection", selection, "url", candidate)

		return c.apply(ctx, candidate)
	case c.policy == PolicyAutoSync:
		logger.Info("overwriting manual url", "selection", selection, "url", candidate, "previous_url", active)

		return c.apply(ctx, candidate)
	}

	inconsistency := &InconsistencyError{
		Selection:   c.resolver.Normalize(selection),
		ActiveURL:   active,
		ResolvedURL: candidate,
	}

	logger.Info("active url out of sync with catalog", "selection", selection, "url", active, "resolved_url", candidate)

	c.ui.ShowNotice(boundary.Notice{
		Kind:        boundary.NoticeURLOutOfSync,
		Text:        inconsistency.Error(),
		Action:      boundary.ActionResync,
		Selection:   inconsistency.Selection,
		ActiveURL:   active,
		ResolvedURL: candidate,
	})
	c.telemetry.RecordNotice(ctx, string(boundary.NoticeURLOutOfSync))

	return nil
}

// Resync makes the active URL follow the selection again.
func (c *Controller) Resync(ctx context.Context) error {
	selection, err := c.store.Get(ctx, storage.KeyCatalogSelection)
	if err != nil {
		return err
	}

	return c.apply(ctx, c.resolver.Resolve(selection))
}

// Pick applies a catalog chosen inside a group as the new selection.
func (c *Controller) Pick(ctx context.Context, group, id string) error {
	if _, ok := c.resolver.Group(group); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}

	if !c.resolver.Known(id) {
		return fmt.Errorf("%w: %s", ErrUnknownCatalog, id)
	}

	if err := c.store.Set(ctx, storage.KeyCatalogSelection, id, prefs.OriginInternal); err != nil {
		return err
	}

	return c.Reconcile(ctx)
}

// OpenCatalogGroup clears every per-group pick and the sync flag so that a
// previous visit cannot leak into the next pick.
func (c *Controller) OpenCatalogGroup(ctx context.Context, group string) error {
	if _, ok := c.resolver.Group(group); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}

	for _, key := range c.resolver.CandidateKeys() {
		if err := c.store.Set(ctx, key, "", prefs.OriginInternal); err != nil {
			return err
		}
	}

	return c.store.Set(ctx, storage.KeyURLSync, "", prefs.OriginInternal)
}

// OpenSettings resyncs the URL when the sync flag is set.
func (c *Controller) OpenSettings(ctx context.Context) error {
	raw, err := c.store.Get(ctx, storage.KeyURLSync)
	if err != nil {
		return err
	}

	if sync, _ := strconv.ParseBool(raw); !sync {
		return nil
	}

	return c.Resync(ctx)
}

// State reports whether the active URL is unset, derived or manual.
func (c *Controller) State(ctx context.Context) (State, error) {
	active, err := c.store.Get(ctx, storage.KeyActiveURL)
	if err != nil {
		return StateUnset, err
	}

	if active == "" {
		return StateUnset, nil
	}

	source, err := c.store.Get(ctx, storage.KeyActiveURLSource)
	if err != nil {
		return StateUnset, err
	}

	if source == storage.SourceDerived {
		return StateDerived, nil
	}

	return StateManual, nil
}

// classify records whether a user-edited URL is manual. Clearing it re-derives.
func (c *Controller) classify(ctx context.Context, url string) error {
	if url == "" {
		return c.Resync(ctx)
	}

	selection, err := c.store.Get(ctx, storage.KeyCatalogSelection)
	if err != nil {
		return err
	}

	source := storage.SourceManual
	if url == c.resolver.Resolve(selection) {
		source = storage.SourceDerived
	}

	return c.store.Set(ctx, storage.KeyActiveURLSource, source, prefs.OriginInternal)
}

func (c *Controller) apply(ctx context.Context, url string) error {
	if err := c.store.Set(ctx, storage.KeyActiveURL, url, prefs.OriginInternal); err != nil {
		return err
	}

	return c.store.Set(ctx, storage.KeyActiveURLSource, storage.SourceDerived, prefs.OriginInternal)
}
