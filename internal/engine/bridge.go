// Package engine connects the rendering engine boundary to the core: Bridge
// carries engine reports onto the foreground loop, and Engine is the
// reference engine adapter that consumes element files.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/tle_downloader/internal/boundary"
	"github.com/italolelis/tle_downloader/internal/catalog"
	"github.com/italolelis/tle_downloader/internal/foreground"
	"github.com/italolelis/tle_downloader/internal/logctx"
	"github.com/italolelis/tle_downloader/internal/storage"
	"github.com/italolelis/tle_downloader/internal/ui"
)

// Store is the read side of the config store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// Bridge implements boundary.Reporter. Every report is posted to the
// foreground loop before it touches UI state.
type Bridge struct {
	ctx    context.Context
	poster foreground.Poster
	ui     boundary.UI
	status *ui.Status
	store  Store
}

func NewBridge(ctx context.Context, poster foreground.Poster, shell boundary.UI, status *ui.Status, store Store) *Bridge {
	return &Bridge{
		ctx:    ctx,
		poster: poster,
		ui:     shell,
		status: status,
		store:  store,
	}
}

func (b *Bridge) ReportProgress(percent int) {
	b.post(func() {
		b.ui.ShowProgress(percent)
	})
}

func (b *Bridge) ReportFrameRate(fps float64) {
	b.post(func() {
		b.status.SetFrameRate(fps, b.label(fps))
	})
}

func (b *Bridge) ReportBeamEvent(ev boundary.BeamEvent) {
	b.post(func() {
		b.status.SetBeam(ev)
		b.ui.ShowMessage(ev.String())
	})
}

func (b *Bridge) post(fn func()) {
	if !b.poster.Post(fn) {
		logctx.LoggerFromContext(b.ctx).Debug("foreground loop stopped, dropping engine report")
	}
}

// label renders "fps | last-modified date | file name" once a file was used,
// and only the frame rate before that.
func (b *Bridge) label(fps float64) string {
	used, err := b.store.Get(b.ctx, storage.KeyLastUsedURL)
	if err != nil || used == "" {
		return fmt.Sprintf("%.1f fps", fps)
	}

	date := "N/A"

	if raw, err := b.store.Get(b.ctx, storage.KeyLastModified); err == nil && raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			date = t.Format(time.DateOnly)
		}
	}

	return fmt.Sprintf("%.1f fps | %s | %s", fps, date, catalog.ShortName(used))
}
