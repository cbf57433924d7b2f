package source

import (
	"strings"

	"visor/core-go/internal/catalog"
)

// Origin tells which configuration table produced a Location.
type Origin string

const (
	OriginLocal       Origin = "local"
	OriginRemote      Origin = "remote"
	OriginDefaultBase Origin = "default-base"
)

// Location is where a layer's raw payload is fetched from.
type Location struct {
	Origin Origin `json:"origin"`
	Ref    string `json:"ref"`
}

func (l Location) IsLocal() bool { return l.Origin == OriginLocal }

func (l Location) String() string { return l.Ref }

// Config is the source configuration surface. Empty strings count as unset.
type Config struct {
	UseLocalData     bool
	LocalPaths       map[catalog.Key]string
	LayerURLs        map[catalog.Key]string
	DefaultBase      string
	DefaultFilenames map[catalog.Key]string
}

// Resolver picks a Location for a key: local path (when local mode is on), then the remote
// URL map, then default base + filename.
type Resolver struct {
	useLocal    bool
	local       map[catalog.Key]string
	remote      map[catalog.Key]string
	defaultBase string
	filenames   map[catalog.Key]string
}

func NewResolver(cfg Config) *Resolver {
	return &Resolver{
		useLocal:    cfg.UseLocalData,
		local:       cloneTable(cfg.LocalPaths),
		remote:      cloneTable(cfg.LayerURLs),
		defaultBase: strings.TrimSpace(cfg.DefaultBase),
		filenames:   cloneTable(cfg.DefaultFilenames),
	}
}

// Resolve returns the first configured location for key. ok is false when nothing is
// configured, including for keys outside the catalog.
func (r *Resolver) Resolve(key catalog.Key) (Location, bool) {
	if r == nil {
		return Location{}, false
	}
	if r.useLocal {
		if p, ok := r.local[key]; ok {
			return Location{Origin: OriginLocal, Ref: p}, true
		}
	}
	if u, ok := r.remote[key]; ok {
		return Location{Origin: OriginRemote, Ref: u}, true
	}
	if r.defaultBase != "" {
		if name, ok := r.filenames[key]; ok {
			return Location{Origin: OriginDefaultBase, Ref: r.defaultBase + name}, true
		}
	}
	return Location{}, false
}

// Candidates lists every location Resolve would consider for key, highest priority first.
func (r *Resolver) Candidates(key catalog.Key) []Location {
	if r == nil {
		return nil
	}
	var out []Location
	if p, ok := r.local[key]; ok && r.useLocal {
		out = append(out, Location{Origin: OriginLocal, Ref: p})
	}
	if u, ok := r.remote[key]; ok {
		out = append(out, Location{Origin: OriginRemote, Ref: u})
	}
	if name, ok := r.filenames[key]; ok && r.defaultBase != "" {
		out = append(out, Location{Origin: OriginDefaultBase, Ref: r.defaultBase + name})
	}
	return out
}

func (r *Resolver) UseLocalData() bool {
	return r != nil && r.useLocal
}

func cloneTable(in map[catalog.Key]string) map[catalog.Key]string {
	out := make(map[catalog.Key]string, len(in))
	for k, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
