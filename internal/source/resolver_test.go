package source

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"visor/core-go/internal/catalog"
)

func fullConfig(useLocal bool) Config {
	return Config{
		UseLocalData: useLocal,
		LocalPaths: map[catalog.Key]string{
			catalog.Provincias:      "provincias_simplificado.geojson",
			catalog.CantonesNbiTopo: "data/cantones_nbi_mayor_50.topo.json",
		},
		LayerURLs: map[catalog.Key]string{
			catalog.Provincias: "https://example.test/provincias.geojson",
			catalog.Violencia:  "https://example.test/data/total_casos_violencia.geojson",
		},
		DefaultBase: "https://releases.example.test/",
		DefaultFilenames: map[catalog.Key]string{
			catalog.Provincias: "provincias_simplificado.geojson",
			catalog.Servicios:  "servicios_agua_luz.geojson",
		},
	}
}

func TestResolve_LocalModeWinsForLocalKeys(t *testing.T) {
	r := NewResolver(fullConfig(true))
	for key, path := range fullConfig(true).LocalPaths {
		loc, ok := r.Resolve(key)
		if !ok {
			t.Fatalf("expected location for %q", key)
		}
		if loc.Origin != OriginLocal || loc.Ref != path {
			t.Fatalf("expected local %q for %q, got %+v", path, key, loc)
		}
	}
}

func TestResolve_LocalPathsIgnoredWhenModeOff(t *testing.T) {
	r := NewResolver(fullConfig(false))

	loc, ok := r.Resolve(catalog.Provincias)
	if !ok || loc.Origin != OriginRemote || loc.Ref != "https://example.test/provincias.geojson" {
		t.Fatalf("expected remote provincias url, got %+v ok=%v", loc, ok)
	}
	if _, ok := r.Resolve(catalog.CantonesNbiTopo); ok {
		t.Fatalf("expected cantones to be unresolved without local mode")
	}
}

func TestResolve_DefaultBaseFallback(t *testing.T) {
	r := NewResolver(fullConfig(false))

	loc, ok := r.Resolve(catalog.Servicios)
	if !ok {
		t.Fatalf("expected default-base location for servicios")
	}
	if loc.Origin != OriginDefaultBase || loc.Ref != "https://releases.example.test/servicios_agua_luz.geojson" {
		t.Fatalf("unexpected location %+v", loc)
	}

	cfg := fullConfig(false)
	cfg.DefaultBase = "  "
	if _, ok := NewResolver(cfg).Resolve(catalog.Servicios); ok {
		t.Fatalf("expected blank default base to disable the fallback")
	}
}

func TestResolve_AbsentForUnconfiguredKeys(t *testing.T) {
	r := NewResolver(fullConfig(true))
	for _, key := range []catalog.Key{catalog.OtrasNacionalidades, catalog.IENoAtendidas, "unknown"} {
		if loc, ok := r.Resolve(key); ok {
			t.Fatalf("expected no location for %q, got %+v", key, loc)
		}
	}

	var nilResolver *Resolver
	if _, ok := nilResolver.Resolve(catalog.Provincias); ok {
		t.Fatalf("expected nil resolver to resolve nothing")
	}
}

func TestResolve_EmptyEntriesAreUnset(t *testing.T) {
	r := NewResolver(Config{
		UseLocalData: true,
		LocalPaths:   map[catalog.Key]string{catalog.Violencia: ""},
		LayerURLs:    map[catalog.Key]string{catalog.Violencia: "https://example.test/v.geojson"},
	})
	loc, ok := r.Resolve(catalog.Violencia)
	if !ok || loc.Origin != OriginRemote {
		t.Fatalf("expected empty local path to fall through to remote, got %+v ok=%v", loc, ok)
	}
}

func TestCandidates_PriorityOrder(t *testing.T) {
	r := NewResolver(fullConfig(true))
	got := r.Candidates(catalog.Provincias)
	want := []Location{
		{Origin: OriginLocal, Ref: "provincias_simplificado.geojson"},
		{Origin: OriginRemote, Ref: "https://example.test/provincias.geojson"},
		{Origin: OriginDefaultBase, Ref: "https://releases.example.test/provincias_simplificado.geojson"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected candidates (-want +got):\n%s", diff)
	}

	first, _ := r.Resolve(catalog.Provincias)
	if first != got[0] {
		t.Fatalf("expected Resolve to return first candidate, got %+v", first)
	}
}
