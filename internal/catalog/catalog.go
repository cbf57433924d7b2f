package catalog

import (
	"sort"
	"strings"
)

// Key names one logical geographic dataset shown by the viewer.
type Key string

const (
	Provincias          Key = "provincias"
	CantonesNbiTopo     Key = "cantonesNbiTopo"
	Violencia           Key = "violencia"
	OtrasNacionalidades Key = "otrasNacionalidades"
	IENoAtendidas       Key = "ieNoAtendidas"
	Servicios           Key = "servicios"
)

var allKeys = []Key{
	Provincias,
	CantonesNbiTopo,
	Violencia,
	OtrasNacionalidades,
	IENoAtendidas,
	Servicios,
}

// AllKeys returns every valid key in display order.
func AllKeys() []Key {
	out := make([]Key, len(allKeys))
	copy(out, allKeys)
	return out
}

// ParseKey maps a raw identifier onto a known Key. Matching is exact after trimming; keys are
// camelCase identifiers shared with the browser controls.
func ParseKey(raw string) (Key, bool) {
	s := strings.TrimSpace(raw)
	for _, k := range allKeys {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

type Kind string

const (
	KindPolygon  Kind = "polygon"
	KindTopology Kind = "topology"
	KindPoints   Kind = "points"
)

// Style is the draw configuration handed to the browser's mapping library.
type Style struct {
	Marker      string  `json:"marker,omitempty"`
	Color       string  `json:"color,omitempty"`
	Weight      float64 `json:"weight,omitempty"`
	Opacity     float64 `json:"opacity,omitempty"`
	Fill        bool    `json:"fill"`
	FillOpacity float64 `json:"fillOpacity,omitempty"`
	Radius      float64 `json:"radius,omitempty"`
}

// Entry describes how a layer is sourced, built and presented.
type Entry struct {
	Key       Key      `json:"key"`
	Kind      Kind     `json:"kind"`
	Label     string   `json:"label"`
	ControlID string   `json:"control_id"`
	Style     Style    `json:"style"`
	Popup     []string `json:"popup_fields,omitempty"`
	// Fallback is fetched when no source resolves for the key. Empty means resolution
	// failure is fatal.
	Fallback string `json:"-"`
}

func boundaryStyle() Style {
	return Style{Color: "#000", Weight: 1.5, Fill: false, Opacity: 1}
}

func cantonStyle() Style {
	return Style{Color: "#2ecc71", Weight: 1.2, Fill: true, FillOpacity: 0.15}
}

func circleStyle() Style {
	return Style{Marker: "circle", Radius: 4, Fill: true, FillOpacity: 0.75, Weight: 0.5}
}

// Defaults returns the built-in layer table.
func Defaults() []Entry {
	return []Entry{
		{
			Key:       Provincias,
			Kind:      KindPolygon,
			Label:     "Provinces",
			ControlID: "tgProv",
			Style:     boundaryStyle(),
			Fallback:  "provincias_simplificado.geojson",
		},
		{
			Key:       CantonesNbiTopo,
			Kind:      KindTopology,
			Label:     "Cantons with unmet basic needs above 50%",
			ControlID: "tgNbi",
			Style:     cantonStyle(),
		},
		{
			Key:       Violencia,
			Kind:      KindPoints,
			Label:     "Violence cases",
			ControlID: "tgViol",
			Style:     circleStyle(),
			Popup:     []string{"DPA_DESPROV", "DPA_DESCAN", "total_casos", "TOTAL_CASOS", "Total casos"},
		},
		{
			Key:       OtrasNacionalidades,
			Kind:      KindPoints,
			Label:     "Students of other nationalities",
			ControlID: "tgOtras",
			Style:     circleStyle(),
			Popup:     []string{"DPA_DESPROV", "DPA_DESCAN", "total_estudiantes", "TOTAL_EST", "Total estudiantes otras nacionalidades"},
		},
		{
			Key:       IENoAtendidas,
			Kind:      KindPoints,
			Label:     "Public schools not served",
			ControlID: "tgIENo",
			Style:     circleStyle(),
			Popup:     []string{"AMIE", "NOMBRE", "SOSTENIMIENTO", "DPA_DESPROV", "DPA_DESCAN"},
		},
		{
			Key:       Servicios,
			Kind:      KindPoints,
			Label:     "Water and power services",
			ControlID: "tgServ",
			Style:     circleStyle(),
			Popup:     []string{"AMIE", "NOMBRE", "AGUA", "LUZ", "DPA_DESPROV", "DPA_DESCAN"},
		},
	}
}

// Catalog is an immutable, ordered set of layer entries.
type Catalog struct {
	order   []Key
	entries map[Key]Entry
}

// New builds a catalog. Later entries for the same key replace earlier ones but keep the
// original position.
func New(entries []Entry) *Catalog {
	c := &Catalog{entries: make(map[Key]Entry, len(entries))}
	for _, e := range entries {
		if _, ok := c.entries[e.Key]; !ok {
			c.order = append(c.order, e.Key)
		}
		e.Popup = append([]string(nil), e.Popup...)
		c.entries[e.Key] = e
	}
	return c
}

func (c *Catalog) Lookup(key Key) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	e, ok := c.entries[key]
	return e, ok
}

// Entries returns the entries in catalog order.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.entries[k])
	}
	return out
}

// SortKeys orders keys by their position in AllKeys, unknown keys last in lexical order.
func SortKeys(keys []Key) {
	rank := make(map[Key]int, len(allKeys))
	for i, k := range allKeys {
		rank[k] = i
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := rank[keys[i]]
		rj, jok := rank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
}
