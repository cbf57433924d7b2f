// Package config loads the viewer's layer source configuration.
//
// Files ending in .yaml/.yml are decoded with yaml.v3; .json, .jsonc and .hujson files may
// contain comments and trailing commas and are standardised with hujson first. Unknown fields
// are rejected in both formats.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"visor/core-go/internal/catalog"
	"visor/core-go/internal/source"
)

const maxFileSize = 1 << 20

// DefaultRawBase is the prefix applied to relative layer_urls entries.
const DefaultRawBase = "https://raw.githubusercontent.com/powerpaz/IE_Atendidas_no_atendidas/main/"

type Config struct {
	UseLocalData       bool              `yaml:"use_local_data" json:"use_local_data"`
	RawBase            string            `yaml:"raw_base" json:"raw_base"`
	LayerURLs          map[string]string `yaml:"layer_urls" json:"layer_urls"`
	LocalPaths         map[string]string `yaml:"local_paths" json:"local_paths"`
	DefaultBase        string            `yaml:"default_base" json:"default_base"`
	DefaultFilenames   map[string]string `yaml:"default_filenames" json:"default_filenames"`
	DataDir            string            `yaml:"data_dir" json:"data_dir"`
	FetchTimeout       string            `yaml:"fetch_timeout" json:"fetch_timeout"`
	Preload            []string          `yaml:"preload" json:"preload"`
	PreloadConcurrency int               `yaml:"preload_concurrency" json:"preload_concurrency"`
	Map                MapSettings       `yaml:"map" json:"map"`
	Layers             map[string]Layer  `yaml:"layers" json:"layers"`
}

// MapSettings is handed to the browser to initialise the map.
type MapSettings struct {
	Center       [2]float64 `yaml:"center" json:"center"`
	Zoom         int        `yaml:"zoom" json:"zoom"`
	BasemapURL   string     `yaml:"basemap_url" json:"basemap_url"`
	Attribution  string     `yaml:"attribution" json:"attribution"`
	PreferCanvas bool       `yaml:"prefer_canvas" json:"prefer_canvas"`
}

// Layer overrides presentation fields of a catalog entry.
type Layer struct {
	Label       string   `yaml:"label" json:"label"`
	ControlID   string   `yaml:"control_id" json:"control_id"`
	PopupFields []string `yaml:"popup_fields" json:"popup_fields"`
}

// Default mirrors the stock deployment: data bundled next to the viewer, remote copies on
// GitHub raw.
func Default() Config {
	return Config{
		UseLocalData: true,
		RawBase:      DefaultRawBase,
		LayerURLs: map[string]string{
			"provincias":          "provincias_simplificado.geojson",
			"cantonesNbiTopo":     "data/cantones_nbi_mayor_50.topo.json",
			"violencia":           "data/total_casos_violencia.geojson",
			"otrasNacionalidades": "data/total_estudiantes_otras_nacionalidades.geojson",
			"ieNoAtendidas":       "data/ie_fiscales_no_atendidas.geojson",
			"servicios":           "data/servicios_agua_luz.geojson",
		},
		LocalPaths: map[string]string{
			"provincias":          "provincias_simplificado.geojson",
			"cantonesNbiTopo":     "data/cantones_nbi_mayor_50.topo.json",
			"violencia":           "data/total_casos_violencia.geojson",
			"otrasNacionalidades": "data/total_estudiantes_otras_nacionalidades.geojson",
			"ieNoAtendidas":       "data/ie_fiscales_no_atendidas.geojson",
			"servicios":           "data/servicios_agua_luz.geojson",
		},
		DefaultFilenames: map[string]string{
			"provincias":          "provincias_simplificado.geojson",
			"cantonesNbiTopo":     "cantones_nbi_mayor_50.topo.json",
			"violencia":           "total_casos_violencia.geojson",
			"otrasNacionalidades": "total_estudiantes_otras_nacionalidades.geojson",
			"ieNoAtendidas":       "ie_fiscales_no_atendidas.geojson",
			"servicios":           "servicios_agua_luz.geojson",
		},
		DataDir:            ".",
		FetchTimeout:       "30s",
		PreloadConcurrency: 2,
		Map: MapSettings{
			Center:       [2]float64{-1.5, -78.5},
			Zoom:         6,
			BasemapURL:   "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}{r}.png",
			Attribution:  "&copy; OpenStreetMap &copy; CARTO",
			PreferCanvas: true,
		},
	}
}

// Load reads path on top of Default. An empty path returns the defaults. Map entries in the
// file are merged over the defaults; an empty string unsets an entry.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}

	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return Config{}, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	b, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse %s: %w", cleanPath, err)
		}
	case ".json", ".jsonc", ".hujson":
		std, err := hujson.Standardize(b)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", cleanPath, err)
		}
		dec := json.NewDecoder(bytes.NewReader(std))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", cleanPath, err)
		}
	default:
		return Config{}, fmt.Errorf("config file must be .yaml, .yml, .json, .jsonc or .hujson, got %q", ext)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", cleanPath, err)
	}
	return cfg, nil
}

// Validate rejects unknown layer keys and malformed values.
func (c Config) Validate() error {
	var errs []error
	tables := []struct {
		name  string
		table map[string]string
	}{
		{"layer_urls", c.LayerURLs},
		{"local_paths", c.LocalPaths},
		{"default_filenames", c.DefaultFilenames},
	}
	for _, t := range tables {
		for k := range t.table {
			if _, ok := catalog.ParseKey(k); !ok {
				errs = append(errs, fmt.Errorf("%s: unknown layer %q", t.name, k))
			}
		}
	}
	for k := range c.Layers {
		if _, ok := catalog.ParseKey(k); !ok {
			errs = append(errs, fmt.Errorf("layers: unknown layer %q", k))
		}
	}
	for _, k := range c.Preload {
		if _, ok := catalog.ParseKey(k); !ok {
			errs = append(errs, fmt.Errorf("preload: unknown layer %q", k))
		}
	}
	if c.FetchTimeout != "" {
		if d, err := time.ParseDuration(c.FetchTimeout); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("fetch_timeout: invalid duration %q", c.FetchTimeout))
		}
	}
	if c.PreloadConcurrency < 0 {
		errs = append(errs, fmt.Errorf("preload_concurrency must be >= 0, got %d", c.PreloadConcurrency))
	}
	return errors.Join(errs...)
}

// FetchTimeoutDuration returns the per-request fetch timeout, zero when unset.
func (c Config) FetchTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.FetchTimeout)
	if err != nil {
		return 0
	}
	return d
}

// SourceConfig converts the string-keyed tables into the resolver's typed configuration.
// Relative layer_urls are prefixed with raw_base.
func (c Config) SourceConfig() source.Config {
	remote := typed(c.LayerURLs)
	if base := strings.TrimSpace(c.RawBase); base != "" {
		for k, u := range remote {
			if u != "" && !strings.Contains(u, "://") {
				remote[k] = base + strings.TrimPrefix(u, "/")
			}
		}
	}
	return source.Config{
		UseLocalData:     c.UseLocalData,
		LocalPaths:       typed(c.LocalPaths),
		LayerURLs:        remote,
		DefaultBase:      c.DefaultBase,
		DefaultFilenames: typed(c.DefaultFilenames),
	}
}

// Catalog applies the layer overrides to the built-in catalog.
func (c Config) Catalog() *catalog.Catalog {
	entries := catalog.Defaults()
	for i, e := range entries {
		o, ok := c.Layers[string(e.Key)]
		if !ok {
			continue
		}
		if o.Label != "" {
			e.Label = o.Label
		}
		if o.ControlID != "" {
			e.ControlID = o.ControlID
		}
		if o.PopupFields != nil {
			e.Popup = o.PopupFields
		}
		entries[i] = e
	}
	return catalog.New(entries)
}

// PreloadKeys returns the validated preload list.
func (c Config) PreloadKeys() []catalog.Key {
	out := make([]catalog.Key, 0, len(c.Preload))
	for _, raw := range c.Preload {
		if k, ok := catalog.ParseKey(raw); ok {
			out = append(out, k)
		}
	}
	return out
}

func typed(in map[string]string) map[catalog.Key]string {
	out := make(map[catalog.Key]string, len(in))
	for raw, v := range in {
		if k, ok := catalog.ParseKey(raw); ok {
			out[k] = v
		}
	}
	return out
}
