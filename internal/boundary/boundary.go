// Package boundary declares the narrow message interfaces between this
// subsystem, the UI shell around it and the rendering/propagation engine.
package boundary

import "fmt"

// Engine receives the calls the core makes into the rendering engine. Both
// are fire-and-forget notifications.
type Engine interface {
	OnFileReady(path string)
	OnFetchFailed(url string)
}

// UI receives user-visible updates. Implementations are only ever called on
// the foreground context.
type UI interface {
	ShowProgress(percent int)
	ShowMessage(text string)
	ShowNotice(n Notice)
}

// Reporter receives the calls the engine makes into the core. Implementations
// must marshal them onto the foreground context before touching UI state.
type Reporter interface {
	ReportProgress(percent int)
	ReportFrameRate(fps float64)
	ReportBeamEvent(ev BeamEvent)
}

// NoticeKind identifies a dismissible notice.
type NoticeKind string

// NoticeURLOutOfSync is raised when the stored URL no longer matches the
// selected catalog and the user has to confirm a re-sync.
const NoticeURLOutOfSync NoticeKind = "url_out_of_sync"

// ActionResync names the resolve action that re-derives the URL from the selection.
const ActionResync = "resync"

// Notice is a dismissible message offering an explicit resolve action.
type Notice struct {
	Kind        NoticeKind `json:"kind"`
	Text        string     `json:"text"`
	Action      string     `json:"action"`
	Selection   string     `json:"selection"`
	ActiveURL   string     `json:"active_url"`
	ResolvedURL string     `json:"resolved_url"`
}

// BeamEvent reports the satellite the user picked in the engine view.
type BeamEvent struct {
	Name          string  `json:"name"`
	CatalogNumber int     `json:"catalog_number"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Altitude      float64 `json:"altitude_km"`
}

func (e BeamEvent) String() string {
	return fmt.Sprintf("%s #%d: lat %.2f°, lon %.2f°, alt %.1f km",
		e.Name, e.CatalogNumber, e.Latitude, e.Longitude, e.Altitude)
}

// FailureMessage is the text shown when an element file could not be fetched.
func FailureMessage(url string) string {
	return fmt.Sprintf("Failed to download TLE from %s", url)
}
