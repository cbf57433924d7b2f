// Package topology decodes TopoJSON documents and converts their named objects into GeoJSON
// feature collections.
package topology

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/paulmach/orb/geojson"
)

// ErrNoObjects is returned when a topology has an empty or missing objects collection.
var ErrNoObjects = errors.New("topology has no objects")

// Topology is a decoded TopoJSON document.
type Topology struct {
	Type      string               `json:"type"`
	Transform *Transform           `json:"transform,omitempty"`
	Arcs      [][][]float64        `json:"arcs"`
	Objects   map[string]*Geometry `json:"objects"`

	names []string
}

// Transform maps quantized positions back to coordinates.
type Transform struct {
	Scale     [2]float64 `json:"scale"`
	Translate [2]float64 `json:"translate"`
}

// Geometry is a TopoJSON geometry object. Arcs and Coordinates keep their raw shape since the
// nesting depth depends on Type.
type Geometry struct {
	Type        string          `json:"type"`
	ID          any             `json:"id,omitempty"`
	Properties  map[string]any  `json:"properties,omitempty"`
	Arcs        json.RawMessage `json:"arcs,omitempty"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
	Geometries  []*Geometry     `json:"geometries,omitempty"`
}

// Converter turns one named object of a topology into renderable GeoJSON.
type Converter interface {
	Feature(t *Topology, name string) (*geojson.FeatureCollection, error)
}

// Decode parses a TopoJSON document, remembering the document order of its objects.
func Decode(data []byte) (*Topology, error) {
	var raw struct {
		Type    string          `json:"type"`
		Objects json.RawMessage `json:"objects"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	var t Topology
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	if t.Type != "" && t.Type != "Topology" {
		return nil, fmt.Errorf("decode topology: unexpected type %q", t.Type)
	}
	names, err := objectOrder(raw.Objects)
	if err != nil {
		return nil, fmt.Errorf("decode topology objects: %w", err)
	}
	t.names = names
	return &t, nil
}

// ObjectNames returns object names in enumeration order: array-index names ascending, then
// the rest in document order.
func (t *Topology) ObjectNames() []string {
	if t == nil {
		return nil
	}
	if t.names == nil {
		// Built in code rather than decoded; fall back to lexical order.
		names := make([]string, 0, len(t.Objects))
		for name := range t.Objects {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	}
	return append([]string(nil), t.names...)
}

// FirstObject returns the first object name in enumeration order.
func (t *Topology) FirstObject() (string, error) {
	names := t.ObjectNames()
	if len(names) == 0 {
		return "", ErrNoObjects
	}
	return names[0], nil
}

func objectOrder(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("objects must be a JSON object")
	}
	var names []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return browserKeyOrder(names), nil
}

// browserKeyOrder reorders object names the way a browser enumerates object keys: array-index
// names ("0", "17") first in ascending numeric order, then the rest in document order.
func browserKeyOrder(names []string) []string {
	var indexes, rest []string
	for _, name := range names {
		if _, ok := arrayIndex(name); ok {
			indexes = append(indexes, name)
		} else {
			rest = append(rest, name)
		}
	}
	sort.SliceStable(indexes, func(i, j int) bool {
		a, _ := arrayIndex(indexes[i])
		b, _ := arrayIndex(indexes[j])
		return a < b
	})
	return append(indexes, rest...)
}

// arrayIndex reports whether name is a canonical array index: decimal, no leading zeros,
// below 2^32-1.
func arrayIndex(name string) (uint64, bool) {
	if name == "" || (len(name) > 1 && name[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(name, 10, 32)
	if err != nil || n == math.MaxUint32 {
		return 0, false
	}
	return n, true
}
