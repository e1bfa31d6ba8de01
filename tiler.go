package ngstore

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	"github.com/pkg/errors"
)

// TileGeometry clips g to env and converts the result into a tile item for
// feature fid. Coordinates are snapped to multiples of step. The returned
// item is invalid when nothing of g falls inside env.
func TileGeometry(fid int64, g orb.Geometry, env Envelope, step float64) (VectorTileItem, error) {
	item := NewVectorTileItem(fid)
	if g == nil || isEmptyGeometry(g) {
		return item, nil
	}
	bound := env.Bound()
	if !bound.Intersects(g.Bound()) {
		return item, nil
	}
	cut := clip.Geometry(bound, orb.Clone(g))
	if cut == nil {
		return item, nil
	}
	t := tiler{item: &item, step: step}
	if err := t.fill(cut); err != nil {
		return NewVectorTileItem(fid), err
	}
	return item, nil
}

type tiler struct {
	item *VectorTileItem
	step float64
}

func (t *tiler) quantize(p orb.Point) SimplePoint {
	if t.step <= 0 {
		return SimplePoint{X: float32(p[0]), Y: float32(p[1])}
	}
	return SimplePoint{
		X: float32(math.Round(p[0]/t.step) * t.step),
		Y: float32(math.Round(p[1]/t.step) * t.step),
	}
}

func (t *tiler) room(n int) error {
	if len(t.item.Points)+n > math.MaxUint16+1 {
		return errors.Wrapf(ErrUnsupported, "tile item exceeds %d points", math.MaxUint16+1)
	}
	return nil
}

func (t *tiler) fill(g orb.Geometry) error {
	switch g := g.(type) {
	case orb.Point:
		return t.point(g)
	case orb.MultiPoint:
		for _, p := range g {
			if err := t.point(p); err != nil {
				return err
			}
		}
	case orb.LineString:
		return t.lineString(g)
	case orb.MultiLineString:
		for _, ls := range g {
			if err := t.lineString(ls); err != nil {
				return err
			}
		}
	case orb.Ring:
		return t.polygon(orb.Polygon{g})
	case orb.Polygon:
		return t.polygon(g)
	case orb.MultiPolygon:
		for _, p := range g {
			if err := t.polygon(p); err != nil {
				return err
			}
		}
	case orb.Bound:
		return t.polygon(g.ToPolygon())
	case orb.Collection:
		for _, sub := range g {
			if err := t.fill(sub); err != nil {
				return err
			}
		}
	default:
		return errors.Wrapf(ErrUnsupported, "geometry %T", g)
	}
	return nil
}

func (t *tiler) point(p orb.Point) error {
	return t.snappedPoint(t.quantize(p))
}

func (t *tiler) snappedPoint(q SimplePoint) error {
	for _, have := range t.item.Points {
		if have.Equal(q) {
			return nil
		}
	}
	if err := t.room(1); err != nil {
		return err
	}
	t.item.AddPoint(q)
	return nil
}

// snapped returns the quantized vertices of pts without consecutive
// duplicates.
func (t *tiler) snapped(pts []orb.Point) []SimplePoint {
	out := make([]SimplePoint, 0, len(pts))
	for _, p := range pts {
		q := t.quantize(p)
		if len(out) > 0 && out[len(out)-1].Equal(q) {
			continue
		}
		out = append(out, q)
	}
	return out
}

func (t *tiler) lineString(ls orb.LineString) error {
	pts := t.snapped(ls)
	if len(pts) == 0 {
		return nil
	}
	if len(pts) == 1 {
		// collapsed to a single cell
		t.item.AddCentroid(pts[0])
		return t.snappedPoint(pts[0])
	}
	if err := t.room(len(pts)); err != nil {
		return err
	}
	base := uint16(len(t.item.Points))
	for _, p := range pts {
		t.item.AddPoint(p)
	}
	for i := 0; i < len(pts)-1; i++ {
		t.item.AddIndex(base + uint16(i))
		t.item.AddIndex(base + uint16(i+1))
	}
	return nil
}

func (t *tiler) polygon(p orb.Polygon) error {
	if len(p) == 0 {
		return nil
	}
	var rings [][]SimplePoint
	for i, r := range p {
		pts := t.snapped(r)
		if len(pts) > 1 && pts[0].Equal(pts[len(pts)-1]) {
			pts = pts[:len(pts)-1]
		}
		if len(pts) < 3 {
			if i == 0 {
				return t.collapsedPolygon(p)
			}
			continue
		}
		rings = append(rings, pts)
	}

	total := 0
	for _, r := range rings {
		total += len(r)
	}
	if err := t.room(total); err != nil {
		return err
	}

	triangles := triangulate(rings)
	if len(triangles) == 0 {
		return t.collapsedPolygon(p)
	}

	base := len(t.item.Points)
	ringIndex := len(t.item.BorderIndices)
	offset := base
	for _, r := range rings {
		for j, pt := range r {
			t.item.AddPoint(pt)
			t.item.AddBorderIndex(ringIndex, uint16(offset+j))
		}
		t.item.AddBorderIndex(ringIndex, uint16(offset))
		offset += len(r)
		ringIndex++
	}
	for _, idx := range triangles {
		t.item.AddIndex(uint16(base + idx))
	}

	if c, area := planar.CentroidArea(p); area > 0 {
		t.item.AddCentroid(t.quantize(c))
	}
	return nil
}

// collapsedPolygon keeps a polygon smaller than a grid cell as its centroid.
func (t *tiler) collapsedPolygon(p orb.Polygon) error {
	c, _ := planar.CentroidArea(p)
	q := t.quantize(c)
	t.item.AddCentroid(q)
	return t.snappedPoint(q)
}
