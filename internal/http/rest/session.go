package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/tle_downloader/internal/catalog"
	"github.com/italolelis/tle_downloader/internal/consistency"
	"github.com/italolelis/tle_downloader/internal/engine"
	"github.com/italolelis/tle_downloader/internal/logctx"
	"github.com/italolelis/tle_downloader/internal/prefs"
	"github.com/italolelis/tle_downloader/internal/session"
	"github.com/italolelis/tle_downloader/internal/storage"
	"github.com/italolelis/tle_downloader/internal/ui"
)

const maxBodySize = 64 * 1024

// Runner runs a function on the foreground loop and waits for it.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// Beamer shows the position of a loaded satellite.
type Beamer interface {
	ShowBeam(catalogNumber int) error
	Loaded() (path string, satellites int)
}

// SessionHandler is the control surface of the session host. Every mutation
// runs on the foreground loop, the same context UI shells use.
type SessionHandler struct {
	loop         Runner
	prefs        *prefs.Preferences
	resolver     *catalog.Resolver
	controller   *consistency.Controller
	orchestrator *session.Orchestrator
	status       *ui.Status
	engine       Beamer
	username     string
	password     string
}

// SessionHandlerDeps are the collaborators of a SessionHandler.
type SessionHandlerDeps struct {
	Loop         Runner
	Prefs        *prefs.Preferences
	Resolver     *catalog.Resolver
	Controller   *consistency.Controller
	Orchestrator *session.Orchestrator
	Status       *ui.Status
	Engine       Beamer
	// Username and Password enable basic auth when both are set.
	Username string
	Password string
}

func NewSessionHandler(d SessionHandlerDeps) *SessionHandler {
	return &SessionHandler{
		loop:         d.Loop,
		prefs:        d.Prefs,
		resolver:     d.Resolver,
		controller:   d.Controller,
		orchestrator: d.Orchestrator,
		status:       d.Status,
		engine:       d.Engine,
		username:     d.Username,
		password:     d.Password,
	}
}

func (h *SessionHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Get("/catalogs", h.HandleCatalogs)
	r.Get("/preferences", h.HandlePreferences)
	r.Put("/preferences/catalog", h.HandleSetCatalog)
	r.Put("/preferences/url", h.HandleSetURL)
	r.Put("/preferences/sync", h.HandleSetSync)
	r.Post("/preferences/url/resync", h.HandleResync)
	r.Post("/settings/open", h.HandleOpenSettings)
	r.Post("/catalog-groups/{group}/open", h.HandleOpenGroup)
	r.Put("/catalog-groups/{group}/candidate", h.HandleSetCandidate)
	r.Post("/session/resume", h.HandleResume)
	r.Post("/session/pause", h.HandlePause)
	r.Post("/engine/beam", h.HandleBeam)
	r.Get("/status", h.HandleStatus)

	return r
}

type catalogsResponse struct {
	Default string          `json:"default"`
	Groups  []catalog.Group `json:"groups"`
}

func (h *SessionHandler) HandleCatalogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, catalogsResponse{
		Default: h.resolver.Default(),
		Groups:  h.resolver.Groups(),
	})
}

type preferencesResponse struct {
	Settings map[string]string `json:"settings"`
	State    string            `json:"state"`
}

func (h *SessionHandler) HandlePreferences(w http.ResponseWriter, r *http.Request) {
	var resp preferencesResponse

	h.run(w, r, func(ctx context.Context) error {
		settings, err := h.prefs.All(ctx)
		if err != nil {
			return err
		}

		resp.Settings = settings

		state, err := h.controller.State(ctx)
		resp.State = state.String()

		return err
	}, func() {
		writeJSON(r.Context(), w, http.StatusOK, resp)
	})
}

type catalogRequest struct {
	Catalog string `json:"catalog"`
}

func (h *SessionHandler) HandleSetCatalog(w http.ResponseWriter, r *http.Request) {
	var req catalogRequest
	if !decode(w, r, &req) {
		return
	}

	if !h.resolver.Known(req.Catalog) {
		http.Error(w, "unknown catalog "+strconv.Quote(req.Catalog), http.StatusBadRequest)

		return
	}

	h.run(w, r, func(ctx context.Context) error {
		return h.prefs.Set(ctx, storage.KeyCatalogSelection, req.Catalog, prefs.OriginUser)
	}, h.writePreferences(w, r))
}

type urlRequest struct {
	URL string `json:"url"`
}

func (h *SessionHandler) HandleSetURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !decode(w, r, &req) {
		return
	}

	if req.URL != "" {
		u, err := url.Parse(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			http.Error(w, "url must be an absolute http(s) url", http.StatusBadRequest)

			return
		}
	}

	h.run(w, r, func(ctx context.Context) error {
		return h.prefs.Set(ctx, storage.KeyActiveURL, req.URL, prefs.OriginUser)
	}, h.writePreferences(w, r))
}

type syncRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *SessionHandler) HandleSetSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decode(w, r, &req) {
		return
	}

	value := ""
	if req.Enabled {
		value = strconv.FormatBool(true)
	}

	h.run(w, r, func(ctx context.Context) error {
		return h.prefs.Set(ctx, storage.KeyURLSync, value, prefs.OriginUser)
	}, h.writePreferences(w, r))
}

func (h *SessionHandler) HandleResync(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context) error {
		if err := h.controller.Resync(ctx); err != nil {
			return err
		}

		h.status.DismissNotice()

		return nil
	}, h.writePreferences(w, r))
}

func (h *SessionHandler) HandleOpenSettings(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.controller.OpenSettings, h.writePreferences(w, r))
}

func (h *SessionHandler) HandleOpenGroup(w http.ResponseWriter, r *http.Request) {
	group, ok := h.group(w, r)
	if !ok {
		return
	}

	h.run(w, r, func(ctx context.Context) error {
		return h.controller.OpenCatalogGroup(ctx, group.Name)
	}, func() {
		writeJSON(r.Context(), w, http.StatusOK, group)
	})
}

func (h *SessionHandler) HandleSetCandidate(w http.ResponseWriter, r *http.Request) {
	group, ok := h.group(w, r)
	if !ok {
		return
	}

	var req catalogRequest
	if !decode(w, r, &req) {
		return
	}

	if !slices.ContainsFunc(group.Catalogs, func(c catalog.Catalog) bool { return c.ID == req.Catalog }) {
		http.Error(w, "catalog "+strconv.Quote(req.Catalog)+" is not in group "+group.Name, http.StatusBadRequest)

		return
	}

	h.run(w, r, func(ctx context.Context) error {
		return h.prefs.Set(ctx, group.CandidateKey(), req.Catalog, prefs.OriginUser)
	}, h.writePreferences(w, r))
}

type resumeResponse struct {
	Started bool `json:"started"`
}

func (h *SessionHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	var started bool

	h.run(w, r, func(ctx context.Context) error {
		started = h.orchestrator.Resume(ctx)

		return nil
	}, func() {
		writeJSON(r.Context(), w, http.StatusAccepted, resumeResponse{Started: started})
	})
}

func (h *SessionHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(context.Context) error {
		h.orchestrator.Pause()

		return nil
	}, func() {
		w.WriteHeader(http.StatusNoContent)
	})
}

type beamRequest struct {
	CatalogNumber int `json:"catalog_number"`
}

func (h *SessionHandler) HandleBeam(w http.ResponseWriter, r *http.Request) {
	var req beamRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.engine.ShowBeam(req.CatalogNumber); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, engine.ErrNoElements) {
			status = http.StatusConflict
		}

		http.Error(w, err.Error(), status)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type sessionStatus struct {
	Active    bool   `json:"active"`
	InFlight  bool   `json:"in_flight"`
	LastFile  string `json:"last_file,omitempty"`
	Satellite int    `json:"satellites"`
}

type statusResponse struct {
	UI      ui.Snapshot   `json:"ui"`
	Session sessionStatus `json:"session"`
}

func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	_, satellites := h.engine.Loaded()

	writeJSON(r.Context(), w, http.StatusOK, statusResponse{
		UI: h.status.Snapshot(),
		Session: sessionStatus{
			Active:    h.orchestrator.Active(),
			InFlight:  h.orchestrator.InFlight(),
			LastFile:  h.orchestrator.LastFile(),
			Satellite: satellites,
		},
	})
}

func (h *SessionHandler) group(w http.ResponseWriter, r *http.Request) (catalog.Group, bool) {
	name := chi.URLParam(r, "group")

	group, ok := h.resolver.Group(name)
	if !ok {
		http.Error(w, "unknown catalog group "+strconv.Quote(name), http.StatusNotFound)
	}

	return group, ok
}

// writePreferences answers a mutation with the resulting preferences.
func (h *SessionHandler) writePreferences(w http.ResponseWriter, r *http.Request) func() {
	return func() {
		h.HandlePreferences(w, r)
	}
}

// run executes fn on the foreground loop and calls respond when it succeeded.
func (h *SessionHandler) run(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) error, respond func()) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var fnErr error

	if err := h.loop.Do(ctx, func() { fnErr = fn(ctx) }); err != nil {
		logger.Error("failed to run on foreground loop", "err", err)
		http.Error(w, "session host is shutting down", http.StatusServiceUnavailable)

		return
	}

	if fnErr != nil {
		logger.Error("failed to handle request", "path", r.URL.Path, "err", fnErr)

		status := http.StatusInternalServerError
		if errors.Is(fnErr, consistency.ErrUnknownGroup) || errors.Is(fnErr, consistency.ErrUnknownCatalog) {
			status = http.StatusBadRequest
		}

		http.Error(w, fnErr.Error(), status)

		return
	}

	respond()
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return false
	}

	return true
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}

func (h *SessionHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}
