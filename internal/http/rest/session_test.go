package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/tle_downloader/internal/boundary"
	"github.com/italolelis/tle_downloader/internal/catalog"
	"github.com/italolelis/tle_downloader/internal/consistency"
	"github.com/italolelis/tle_downloader/internal/engine"
	"github.com/italolelis/tle_downloader/internal/foreground"
	"github.com/italolelis/tle_downloader/internal/http/rest"
	"github.com/italolelis/tle_downloader/internal/prefs"
	"github.com/italolelis/tle_downloader/internal/session"
	"github.com/italolelis/tle_downloader/internal/storage"
	"github.com/italolelis/tle_downloader/internal/storage/sqlite"
	"github.com/italolelis/tle_downloader/internal/tlecache"
	"github.com/italolelis/tle_downloader/internal/ui"
)

const (
	template   = "http://host/NORAD/elements/%s.txt"
	defaultURL = "http://host/NORAD/elements/iridium.txt"
	gpsURL     = "http://host/NORAD/elements/gps-ops.txt"
)

type instantFetcher struct{}

func (instantFetcher) FetchOrReuse(_ context.Context, _ string, progress tlecache.ProgressSink) (*tlecache.Entry, error) {
	progress(100)

	return &tlecache.Entry{Path: "/cache/abc", Fingerprint: "abc"}, nil
}

type fakeEngine struct {
	mu    sync.Mutex
	ready []string
}

func (e *fakeEngine) OnFileReady(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = append(e.ready, path)
}

func (e *fakeEngine) OnFetchFailed(string) {}

func (e *fakeEngine) ShowBeam(int) error {
	return engine.ErrNoElements
}

func (e *fakeEngine) Loaded() (string, int) {
	return "", 0
}

type server struct {
	handler http.Handler
	prefs   *prefs.Preferences
}

func newServer(t *testing.T, username, password string) *server {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	loop := foreground.New(64)
	ctx, cancel := context.WithCancel(context.Background())

	go loop.Run(ctx)

	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	p := prefs.New(sqlite.NewSettingsRepository(db))
	resolver := catalog.NewResolver(template, "iridium", catalog.DefaultGroups)
	status := ui.NewStatus()
	eng := &fakeEngine{}

	controller := consistency.New(p, resolver, status, consistency.PolicyConfirm, nil)
	t.Cleanup(controller.Start())

	o := session.New(context.Background(), session.Deps{
		Store:    p,
		Resolver: resolver,
		Fetcher:  instantFetcher{},
		Poster:   loop,
		Engine:   eng,
		UI:       status,
	})
	t.Cleanup(o.Close)

	h := rest.NewSessionHandler(rest.SessionHandlerDeps{
		Loop:         loop,
		Prefs:        p,
		Resolver:     resolver,
		Controller:   controller,
		Orchestrator: o,
		Status:       status,
		Engine:       eng,
		Username:     username,
		Password:     password,
	})

	return &server{handler: h.Routes(), prefs: p}
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	return rec
}

type preferences struct {
	Settings map[string]string `json:"settings"`
	State    string            `json:"state"`
}

func decodePreferences(t *testing.T, rec *httptest.ResponseRecorder) preferences {
	t.Helper()

	var p preferences
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))

	return p
}

type statusView struct {
	UI struct {
		Progress int              `json:"progress"`
		Notice   *boundary.Notice `json:"notice"`
	} `json:"ui"`
	Session struct {
		Active   bool   `json:"active"`
		InFlight bool   `json:"in_flight"`
		LastFile string `json:"last_file"`
	} `json:"session"`
}

func (s *server) status(t *testing.T) statusView {
	t.Helper()

	rec := s.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st statusView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))

	return st
}

func TestCatalogs(t *testing.T) {
	s := newServer(t, "", "")

	rec := s.do(t, http.MethodGet, "/catalogs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Default string          `json:"default"`
		Groups  []catalog.Group `json:"groups"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "iridium", resp.Default)
	assert.Len(t, resp.Groups, len(catalog.DefaultGroups))
}

func TestSetCatalog_DerivesURL(t *testing.T) {
	s := newServer(t, "", "")

	rec := s.do(t, http.MethodPut, "/preferences/catalog", map[string]string{"catalog": "gps-ops"})
	require.Equal(t, http.StatusOK, rec.Code)

	p := decodePreferences(t, rec)
	assert.Equal(t, "gps-ops", p.Settings[storage.KeyCatalogSelection])
	assert.Equal(t, gpsURL, p.Settings[storage.KeyActiveURL])
	assert.Equal(t, "derived", p.State)
}

func TestSetCatalog_Unknown(t *testing.T) {
	s := newServer(t, "", "")

	rec := s.do(t, http.MethodPut, "/preferences/catalog", map[string]string{"catalog": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/preferences/catalog", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty body")
}

func TestSetURL_Validation(t *testing.T) {
	s := newServer(t, "", "")

	for _, u := range []string{"ftp://host/x.txt", "not a url", "/relative.txt", "http://"} {
		rec := s.do(t, http.MethodPut, "/preferences/url", map[string]string{"url": u})
		assert.Equal(t, http.StatusBadRequest, rec.Code, u)
	}
}

func TestManualURL_NoticeThenResync(t *testing.T) {
	s := newServer(t, "", "")

	rec := s.do(t, http.MethodPut, "/preferences/url", map[string]string{"url": "https://mirror.example/my.txt"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "manual", decodePreferences(t, rec).State)

	rec = s.do(t, http.MethodPut, "/preferences/catalog", map[string]string{"catalog": "gps-ops"})
	require.Equal(t, http.StatusOK, rec.Code)

	p := decodePreferences(t, rec)
	assert.Equal(t, "https://mirror.example/my.txt", p.Settings[storage.KeyActiveURL], "manual url kept")

	st := s.status(t)
	require.NotNil(t, st.UI.Notice)
	assert.Equal(t, boundary.NoticeURLOutOfSync, st.UI.Notice.Kind)
	assert.Equal(t, boundary.ActionResync, st.UI.Notice.Action)
	assert.Equal(t, gpsURL, st.UI.Notice.ResolvedURL)

	rec = s.do(t, http.MethodPost, "/preferences/url/resync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	p = decodePreferences(t, rec)
	assert.Equal(t, gpsURL, p.Settings[storage.KeyActiveURL])
	assert.Equal(t, "derived", p.State)
	assert.Nil(t, s.status(t).UI.Notice)
}

func TestSyncThenOpenSettings(t *testing.T) {
	s := newServer(t, "", "")

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/preferences/url", map[string]string{"url": "https://mirror.example/my.txt"}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/preferences/sync", map[string]bool{"enabled": true}).Code)

	rec := s.do(t, http.MethodPost, "/settings/open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultURL, decodePreferences(t, rec).Settings[storage.KeyActiveURL])
}

func TestCatalogGroups(t *testing.T) {
	s := newServer(t, "", "")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/catalog-groups/nope/open", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		s.do(t, http.MethodPut, "/catalog-groups/nope/candidate", map[string]string{"catalog": "gps-ops"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPut, "/catalog-groups/comm/candidate", map[string]string{"catalog": "gps-ops"}).Code)

	rec := s.do(t, http.MethodPost, "/catalog-groups/nav/open", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var g catalog.Group
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&g))
	assert.Equal(t, "nav", g.Name)

	rec = s.do(t, http.MethodPut, "/catalog-groups/nav/candidate", map[string]string{"catalog": "gps-ops"})
	require.Equal(t, http.StatusOK, rec.Code)

	p := decodePreferences(t, rec)
	assert.Equal(t, "gps-ops", p.Settings[storage.KeyCatalogSelection])
	assert.Equal(t, gpsURL, p.Settings[storage.KeyActiveURL])
}

func TestSessionResumeAndPause(t *testing.T) {
	s := newServer(t, "", "")

	rec := s.do(t, http.MethodPost, "/session/resume", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Started bool `json:"started"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Started)

	require.Eventually(t, func() bool {
		return s.status(t).Session.LastFile == "/cache/abc"
	}, 2*time.Second, 5*time.Millisecond)

	st := s.status(t)
	assert.True(t, st.Session.Active)
	assert.False(t, st.Session.InFlight)

	v, err := s.prefs.Get(context.Background(), storage.KeyLastUsedURL)
	require.NoError(t, err)
	assert.Equal(t, defaultURL, v)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/session/pause", nil).Code)
	assert.False(t, s.status(t).Session.Active)
}

func TestBeamWithoutElements(t *testing.T) {
	s := newServer(t, "", "")

	rec := s.do(t, http.MethodPost, "/engine/beam", map[string]int{"catalog_number": 25544})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	s := newServer(t, "admin", "secret")

	tests := []struct {
		name     string
		username string
		password string
		setAuth  bool
		want     int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong password", "admin", "nope", true, http.StatusUnauthorized},
		{"valid", "admin", "secret", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/catalogs", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.username, tt.password)
			}

			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
