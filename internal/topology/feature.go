package topology

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ArcConverter is the default Converter. It stitches arcs (delta-decoding quantized
// topologies) into orb geometries.
type ArcConverter struct{}

var _ Converter = ArcConverter{}

// Feature converts the object called name. A GeometryCollection becomes one feature per member;
// any other geometry becomes a single feature. Members with a null geometry are dropped.
func (ArcConverter) Feature(t *Topology, name string) (*geojson.FeatureCollection, error) {
	if t == nil {
		return nil, ErrNoObjects
	}
	obj, ok := t.Objects[name]
	if !ok || obj == nil {
		return nil, fmt.Errorf("topology object %q not found", name)
	}

	d := decoder{t: t}
	fc := geojson.NewFeatureCollection()

	members := []*Geometry{obj}
	if obj.Type == "GeometryCollection" {
		members = obj.Geometries
	}
	for i, g := range members {
		if g == nil || g.Type == "" {
			continue
		}
		geom, err := d.geometry(g)
		if err != nil {
			return nil, fmt.Errorf("object %q geometry %d: %w", name, i, err)
		}
		f := geojson.NewFeature(geom)
		if g.ID != nil {
			f.ID = g.ID
		}
		for k, v := range g.Properties {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	return fc, nil
}

type decoder struct {
	t *Topology
}

func (d decoder) geometry(g *Geometry) (orb.Geometry, error) {
	switch g.Type {
	case "Point":
		var c []float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, err
		}
		return d.position(c)
	case "MultiPoint":
		var cs [][]float64
		if err := json.Unmarshal(g.Coordinates, &cs); err != nil {
			return nil, err
		}
		mp := make(orb.MultiPoint, 0, len(cs))
		for _, c := range cs {
			p, err := d.position(c)
			if err != nil {
				return nil, err
			}
			mp = append(mp, p)
		}
		return mp, nil
	case "LineString":
		var arcs []int
		if err := json.Unmarshal(g.Arcs, &arcs); err != nil {
			return nil, err
		}
		pts, err := d.line(arcs)
		if err != nil {
			return nil, err
		}
		return orb.LineString(pts), nil
	case "MultiLineString":
		var arcs [][]int
		if err := json.Unmarshal(g.Arcs, &arcs); err != nil {
			return nil, err
		}
		mls := make(orb.MultiLineString, 0, len(arcs))
		for _, a := range arcs {
			pts, err := d.line(a)
			if err != nil {
				return nil, err
			}
			mls = append(mls, orb.LineString(pts))
		}
		return mls, nil
	case "Polygon":
		var arcs [][]int
		if err := json.Unmarshal(g.Arcs, &arcs); err != nil {
			return nil, err
		}
		return d.polygon(arcs)
	case "MultiPolygon":
		var arcs [][][]int
		if err := json.Unmarshal(g.Arcs, &arcs); err != nil {
			return nil, err
		}
		mp := make(orb.MultiPolygon, 0, len(arcs))
		for _, p := range arcs {
			poly, err := d.polygon(p)
			if err != nil {
				return nil, err
			}
			mp = append(mp, poly)
		}
		return mp, nil
	case "GeometryCollection":
		col := make(orb.Collection, 0, len(g.Geometries))
		for _, child := range g.Geometries {
			if child == nil || child.Type == "" {
				continue
			}
			geom, err := d.geometry(child)
			if err != nil {
				return nil, err
			}
			col = append(col, geom)
		}
		return col, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
}

func (d decoder) polygon(rings [][]int) (orb.Polygon, error) {
	poly := make(orb.Polygon, 0, len(rings))
	for _, r := range rings {
		pts, err := d.line(r)
		if err != nil {
			return nil, err
		}
		// Degenerate rings are padded so every ring has at least four positions.
		for len(pts) > 0 && len(pts) < 4 {
			pts = append(pts, pts[0])
		}
		poly = append(poly, orb.Ring(pts))
	}
	return poly, nil
}

// line stitches arcs end to end. A negative index ~i means arc i reversed; the shared
// endpoint between consecutive arcs is emitted once.
func (d decoder) line(arcs []int) ([]orb.Point, error) {
	var pts []orb.Point
	for _, idx := range arcs {
		arc, err := d.arc(idx)
		if err != nil {
			return nil, err
		}
		if len(pts) > 0 {
			pts = pts[:len(pts)-1]
		}
		pts = append(pts, arc...)
	}
	// A line needs at least two positions.
	if len(pts) == 1 {
		pts = append(pts, pts[0])
	}
	return pts, nil
}

func (d decoder) arc(idx int) ([]orb.Point, error) {
	reverse := idx < 0
	if reverse {
		idx = ^idx
	}
	if idx >= len(d.t.Arcs) {
		return nil, fmt.Errorf("arc index %d out of range (%d arcs)", idx, len(d.t.Arcs))
	}
	raw := d.t.Arcs[idx]
	out := make([]orb.Point, 0, len(raw))
	var x, y float64
	for _, pos := range raw {
		if len(pos) < 2 {
			return nil, fmt.Errorf("arc %d has a position with %d values", idx, len(pos))
		}
		if tr := d.t.Transform; tr != nil {
			x += pos[0]
			y += pos[1]
			out = append(out, orb.Point{x*tr.Scale[0] + tr.Translate[0], y*tr.Scale[1] + tr.Translate[1]})
			continue
		}
		out = append(out, orb.Point{pos[0], pos[1]})
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (d decoder) position(c []float64) (orb.Point, error) {
	if len(c) < 2 {
		return orb.Point{}, fmt.Errorf("position has %d values", len(c))
	}
	if tr := d.t.Transform; tr != nil {
		return orb.Point{c[0]*tr.Scale[0] + tr.Translate[0], c[1]*tr.Scale[1] + tr.Translate[1]}, nil
	}
	return orb.Point{c[0], c[1]}, nil
}
