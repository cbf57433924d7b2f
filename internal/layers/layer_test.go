package layers

import (
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"

	"visor/core-go/internal/catalog"
	"visor/core-go/internal/topology"
)

func TestPopupLabel_SkipsEmptyFields(t *testing.T) {
	got := PopupLabel(map[string]any{"AMIE": "123", "NOMBRE": ""}, []string{"AMIE", "NOMBRE"})
	if got != "AMIE: 123" {
		t.Fatalf("expected only the AMIE line, got %q", got)
	}
}

func TestPopupLabel_Placeholder(t *testing.T) {
	got := PopupLabel(map[string]any{"OTHER": "x", "NOMBRE": "   ", "AGUA": nil}, []string{"AMIE", "NOMBRE", "AGUA"})
	if got != NoAttributesLabel {
		t.Fatalf("expected placeholder, got %q", got)
	}
	if got := PopupLabel(nil, []string{"AMIE"}); got != NoAttributesLabel {
		t.Fatalf("expected placeholder for nil properties, got %q", got)
	}
}

func TestPopupLabel_FormatsValuesInFieldOrder(t *testing.T) {
	props := map[string]any{
		"total_casos": float64(17),
		"DPA_DESPROV": "AZUAY",
		"LUZ":         true,
		"ratio":       0.25,
	}
	got := PopupLabel(props, []string{"DPA_DESPROV", "total_casos", "LUZ", "ratio"})
	want := strings.Join([]string{"DPA_DESPROV: AZUAY", "total_casos: 17", "LUZ: true", "ratio: 0.25"}, "\n")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestBuild_PointsDecoratesEveryFeature(t *testing.T) {
	payload := []byte(`{"type":"FeatureCollection","features":[
	  {"type":"Feature","geometry":{"type":"Point","coordinates":[-78.5,-0.2]},"properties":{"AMIE":"17H00001","NOMBRE":""}},
	  {"type":"Feature","geometry":{"type":"Point","coordinates":[-79.9,-2.1]},"properties":{}}
	]}`)
	entry, _ := catalog.New(catalog.Defaults()).Lookup(catalog.IENoAtendidas)

	l, err := Build(entry, payload, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.FeatureCount() != 2 {
		t.Fatalf("expected 2 features, got %d", l.FeatureCount())
	}
	if got := l.Features.Features[0].Properties[PopupProperty]; got != "AMIE: 17H00001" {
		t.Fatalf("unexpected popup %v", got)
	}
	if got := l.Features.Features[1].Properties[PopupProperty]; got != NoAttributesLabel {
		t.Fatalf("expected placeholder popup, got %v", got)
	}
	if l.Style.Marker != "circle" || l.Style.Radius != 4 {
		t.Fatalf("expected circle marker style, got %+v", l.Style)
	}
}

func TestBuild_PolygonAcceptsSingleFeature(t *testing.T) {
	entry, _ := catalog.New(catalog.Defaults()).Lookup(catalog.Provincias)
	payload := []byte(`{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"properties":{"DPA_DESPRO":"AZUAY"}}`)

	l, err := Build(entry, payload, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.FeatureCount() != 1 {
		t.Fatalf("expected 1 feature, got %d", l.FeatureCount())
	}
	if _, ok := l.Features.Features[0].Properties[PopupProperty]; ok {
		t.Fatalf("expected polygon features to carry no popup")
	}
}

func TestBuild_MalformedJSONIsParseError(t *testing.T) {
	entry, _ := catalog.New(catalog.Defaults()).Lookup(catalog.Violencia)
	for _, payload := range []string{`{"type":`, `[1,2,3]`, `{"type":"Topology"}`} {
		_, err := Build(entry, []byte(payload), nil)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("expected ParseError for %s, got %T %v", payload, err, err)
		}
		if pe.Key != catalog.Violencia {
			t.Fatalf("expected key violencia, got %q", pe.Key)
		}
	}
}

type recordingConverter struct {
	names []string
}

func (r *recordingConverter) Feature(t *topology.Topology, name string) (*geojson.FeatureCollection, error) {
	r.names = append(r.names, name)
	return geojson.NewFeatureCollection(), nil
}

func TestBuild_TopologyUsesFirstObject(t *testing.T) {
	entry, _ := catalog.New(catalog.Defaults()).Lookup(catalog.CantonesNbiTopo)
	conv := &recordingConverter{}

	_, err := Build(entry, []byte(`{"type":"Topology","objects":{"cantones":{"type":"GeometryCollection","geometries":[]}},"arcs":[]}`), conv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conv.names) != 1 || conv.names[0] != "cantones" {
		t.Fatalf("expected converter to be called with cantones, got %v", conv.names)
	}
}

func TestBuild_TopologyWithoutObjectsFails(t *testing.T) {
	entry, _ := catalog.New(catalog.Defaults()).Lookup(catalog.CantonesNbiTopo)
	conv := &recordingConverter{}

	_, err := Build(entry, []byte(`{"type":"Topology","objects":{},"arcs":[]}`), conv)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %T %v", err, err)
	}
	if !errors.Is(err, topology.ErrNoObjects) {
		t.Fatalf("expected ErrNoObjects, got %v", err)
	}
	if len(conv.names) != 0 {
		t.Fatalf("expected converter not to be called, got %v", conv.names)
	}
}

func TestBuild_TopologyWithoutConverter(t *testing.T) {
	entry, _ := catalog.New(catalog.Defaults()).Lookup(catalog.CantonesNbiTopo)

	_, err := Build(entry, []byte(`{"type":"Topology","objects":{"a":{}},"arcs":[]}`), nil)
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
}

func TestPopupLabel_Composites(t *testing.T) {
	props := map[string]any{
		"TAGS":  []any{"agua", float64(2), nil},
		"EMPTY": []any{},
		"META":  map[string]any{"src": "mineduc"},
		"NONE":  map[string]any{},
	}
	got := PopupLabel(props, []string{"TAGS", "EMPTY", "META", "NONE"})
	want := "TAGS: agua,2,\n" + `META: {"src":"mineduc"}`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestBuild_NullFeatureIsParseError(t *testing.T) {
	payload := []byte(`{"type":"FeatureCollection","features":[null]}`)
	for _, key := range []catalog.Key{catalog.IENoAtendidas, catalog.Provincias} {
		entry, _ := catalog.New(catalog.Defaults()).Lookup(key)
		_, err := Build(entry, payload, nil)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("%s: expected ParseError, got %T %v", key, err, err)
		}
	}
}
