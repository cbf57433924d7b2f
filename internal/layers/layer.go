package layers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"visor/core-go/internal/catalog"
	"visor/core-go/internal/source"
	"visor/core-go/internal/topology"
)

// NoAttributesLabel is the popup text for a point without any usable configured field.
const NoAttributesLabel = "no attributes"

// PopupProperty is the feature property that carries the rendered popup text.
const PopupProperty = "popup"

// Layer is a renderable overlay: GeoJSON features plus the style the browser draws them with.
// A Layer is never mutated after it is built.
type Layer struct {
	Key      catalog.Key
	Kind     catalog.Kind
	Style    catalog.Style
	Features *geojson.FeatureCollection
	Source   source.Location
	LoadedAt time.Time
}

func (l *Layer) FeatureCount() int {
	if l == nil || l.Features == nil {
		return 0
	}
	return len(l.Features.Features)
}

// GeoJSON encodes the layer's features.
func (l *Layer) GeoJSON() ([]byte, error) {
	if l == nil || l.Features == nil {
		return geojson.NewFeatureCollection().MarshalJSON()
	}
	return l.Features.MarshalJSON()
}

// Build turns a fetched payload into a layer according to the entry's kind.
func Build(entry catalog.Entry, payload []byte, conv topology.Converter) (*Layer, error) {
	var (
		fc  *geojson.FeatureCollection
		err error
	)
	switch entry.Kind {
	case catalog.KindPolygon:
		fc, err = parseGeoJSON(payload)
	case catalog.KindTopology:
		if conv == nil {
			return nil, fmt.Errorf("layer %s: topology converter: %w", entry.Key, ErrMissingDependency)
		}
		fc, err = parseTopology(payload, conv)
	case catalog.KindPoints:
		fc, err = parseGeoJSON(payload)
		if err == nil {
			decoratePoints(fc, entry.Popup)
		}
	default:
		return nil, fmt.Errorf("layer %s: unsupported kind %q", entry.Key, entry.Kind)
	}
	if err != nil {
		return nil, &ParseError{Key: entry.Key, Err: err}
	}
	return &Layer{
		Key:      entry.Key,
		Kind:     entry.Kind,
		Style:    entry.Style,
		Features: fc,
	}, nil
}

// parseGeoJSON accepts a FeatureCollection or a single Feature.
func parseGeoJSON(payload []byte) (*geojson.FeatureCollection, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(payload)
		if err != nil {
			return nil, err
		}
		for i, f := range fc.Features {
			if f == nil {
				return nil, fmt.Errorf("feature %d is null", i)
			}
		}
		return fc, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(payload)
		if err != nil {
			return nil, err
		}
		fc := geojson.NewFeatureCollection()
		fc.Append(f)
		return fc, nil
	default:
		return nil, fmt.Errorf("unexpected GeoJSON type %q", head.Type)
	}
}

// parseTopology selects the first named object of the topology and converts it.
func parseTopology(payload []byte, conv topology.Converter) (*geojson.FeatureCollection, error) {
	topo, err := topology.Decode(payload)
	if err != nil {
		return nil, err
	}
	name, err := topo.FirstObject()
	if err != nil {
		return nil, err
	}
	fc, err := conv.Feature(topo, name)
	if err != nil {
		return nil, fmt.Errorf("convert object %q: %w", name, err)
	}
	return fc, nil
}

// decoratePoints attaches popup text to every feature. Layers without popup fields get none.
func decoratePoints(fc *geojson.FeatureCollection, fields []string) {
	if len(fields) == 0 {
		return
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		f.Properties[PopupProperty] = PopupLabel(f.Properties, fields)
	}
}

// PopupLabel renders "field: value" lines for the configured fields that have a non-empty
// value, or NoAttributesLabel when none do.
func PopupLabel(props map[string]any, fields []string) string {
	lines := make([]string, 0, len(fields))
	for _, field := range fields {
		v, ok := formatValue(props[field])
		if !ok {
			continue
		}
		lines = append(lines, field+": "+v)
	}
	if len(lines) == 0 {
		return NoAttributesLabel
	}
	return strings.Join(lines, "\n")
}

func formatValue(v any) (string, bool) {
	var s string
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s = x
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		s = x.String()
	case bool:
		s = strconv.FormatBool(x)
	case []any:
		// Arrays read as their comma-joined elements, so an empty array has no value.
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i], _ = formatValue(e)
		}
		s = strings.Join(parts, ",")
	case map[string]any:
		if len(x) == 0 {
			return "", false
		}
		b, err := json.Marshal(x)
		if err != nil {
			return "", false
		}
		s = string(b)
	default:
		s = fmt.Sprint(x)
	}
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
