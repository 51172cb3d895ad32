// Package catalog knows the named TLE catalogs a user can pick from and maps a
// selection to the download URL of its element file.
package catalog

import (
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"
)

// CandidateKeyPrefix prefixes the per-group settings key holding the catalog
// a user is about to pick inside that group.
const CandidateKeyPrefix = "catalog_candidate."

// Catalog is one downloadable element set.
type Catalog struct {
	ID    string `toml:"id" json:"id"`
	Title string `toml:"title" json:"title"`
}

// Group is a named set of catalogs shown together in the picker.
type Group struct {
	Name     string    `toml:"name" json:"name"`
	Title    string    `toml:"title" json:"title"`
	Catalogs []Catalog `toml:"catalogs" json:"catalogs"`
}

// CandidateKey returns the settings key that stores the pick for g.
func (g Group) CandidateKey() string {
	return CandidateKeyPrefix + g.Name
}

// DefaultGroups mirrors the CelesTrak element sets.
var DefaultGroups = []Group{
	{Name: "special", Title: "Special-Interest Satellites", Catalogs: []Catalog{
		{ID: "tle-new", Title: "Last 30 Days' Launches"},
		{ID: "stations", Title: "Space Stations"},
		{ID: "visual", Title: "100 (or so) Brightest"},
		{ID: "1999-025", Title: "FENGYUN 1C Debris"},
		{ID: "iridium-33-debris", Title: "IRIDIUM 33 Debris"},
		{ID: "cosmos-2251-debris", Title: "COSMOS 2251 Debris"},
	}},
	{Name: "earth", Title: "Weather & Earth Resources", Catalogs: []Catalog{
		{ID: "weather", Title: "Weather"},
		{ID: "noaa", Title: "NOAA"},
		{ID: "goes", Title: "GOES"},
		{ID: "resource", Title: "Earth Resources"},
		{ID: "sarsat", Title: "Search & Rescue (SARSAT)"},
		{ID: "dmc", Title: "Disaster Monitoring"},
		{ID: "tdrss", Title: "Tracking and Data Relay Satellite System"},
		{ID: "argos", Title: "ARGOS Data Collection System"},
	}},
	{Name: "comm", Title: "Communications", Catalogs: []Catalog{
		{ID: "geo", Title: "Geostationary"},
		{ID: "intelsat", Title: "Intelsat"},
		{ID: "ses", Title: "SES"},
		{ID: "iridium", Title: "Iridium"},
		{ID: "iridium-NEXT", Title: "Iridium NEXT"},
		{ID: "orbcomm", Title: "Orbcomm"},
		{ID: "globalstar", Title: "Globalstar"},
		{ID: "amateur", Title: "Amateur Radio"},
		{ID: "x-comm", Title: "Experimental"},
		{ID: "other-comm", Title: "Other Comm"},
	}},
	{Name: "nav", Title: "Navigation", Catalogs: []Catalog{
		{ID: "gps-ops", Title: "GPS Operational"},
		{ID: "glo-ops", Title: "Glonass Operational"},
		{ID: "galileo", Title: "Galileo"},
		{ID: "beidou", Title: "Beidou"},
		{ID: "sbas", Title: "Satellite-Based Augmentation System"},
		{ID: "nnss", Title: "Navy Navigation Satellite System"},
		{ID: "musson", Title: "Russian LEO Navigation"},
	}},
	{Name: "sci", Title: "Scientific", Catalogs: []Catalog{
		{ID: "science", Title: "Space & Earth Science"},
		{ID: "geodetic", Title: "Geodetic"},
		{ID: "engineering", Title: "Engineering"},
		{ID: "education", Title: "Education"},
	}},
	{Name: "misc", Title: "Miscellaneous", Catalogs: []Catalog{
		{ID: "military", Title: "Miscellaneous Military"},
		{ID: "radar", Title: "Radar Calibration"},
		{ID: "cubesat", Title: "CubeSats"},
		{ID: "other", Title: "Other"},
	}},
}

// Resolver turns a catalog selection into the URL of its element file.
type Resolver struct {
	template string
	fallback string
	groups   []Group
}

// NewResolver builds a Resolver. template must contain a single %s verb.
// fallback is used for empty or unknown selections.
func NewResolver(template, fallback string, groups []Group) *Resolver {
	return &Resolver{
		template: template,
		fallback: fallback,
		groups:   groups,
	}
}

// Resolve is pure and total: unknown selections resolve to the fallback catalog.
func (r *Resolver) Resolve(selection string) string {
	return fmt.Sprintf(r.template, r.Normalize(selection))
}

// Normalize returns selection when it names a known catalog, the fallback otherwise.
func (r *Resolver) Normalize(selection string) string {
	if r.Known(selection) {
		return selection
	}

	return r.fallback
}

// Known reports whether id names a catalog of any group.
func (r *Resolver) Known(id string) bool {
	if id == "" {
		return false
	}

	for _, g := range r.groups {
		if slices.ContainsFunc(g.Catalogs, func(c Catalog) bool { return c.ID == id }) {
			return true
		}
	}

	return false
}

// Default returns the fallback catalog identifier.
func (r *Resolver) Default() string {
	return r.fallback
}

// Groups returns the catalog groups the resolver knows.
func (r *Resolver) Groups() []Group {
	return r.groups
}

// Group finds a group by name.
func (r *Resolver) Group(name string) (Group, bool) {
	for _, g := range r.groups {
		if g.Name == name {
			return g, true
		}
	}

	return Group{}, false
}

// CandidateKeys lists the per-group candidate settings keys.
func (r *Resolver) CandidateKeys() []string {
	keys := make([]string, 0, len(r.groups))
	for _, g := range r.groups {
		keys = append(keys, g.CandidateKey())
	}

	return keys
}

const shortNameLength = 12

// ShortName renders the file name of rawURL for a status label, cut to twelve
// runes with an ellipsis. It returns "N/A" when no name can be derived.
func ShortName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "N/A"
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "N/A"
	}

	runes := []rune(name)
	if len(runes) > shortNameLength {
		return string(runes[:shortNameLength-1]) + "…"
	}

	return name
}

// IsCandidateKey reports whether key is a per-group candidate key and returns the group name.
func IsCandidateKey(key string) (string, bool) {
	group, ok := strings.CutPrefix(key, CandidateKeyPrefix)

	return group, ok && group != ""
}
