package ngstore

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// GeometryType names the flattened type of a feature class.
type GeometryType string

const (
	GeometryNone            GeometryType = ""
	GeometryPoint           GeometryType = "Point"
	GeometryLineString      GeometryType = "LineString"
	GeometryPolygon         GeometryType = "Polygon"
	GeometryMultiPoint      GeometryType = "MultiPoint"
	GeometryMultiLineString GeometryType = "MultiLineString"
	GeometryMultiPolygon    GeometryType = "MultiPolygon"
	GeometryCollection      GeometryType = "GeometryCollection"
)

func geometryTypeOf(g orb.Geometry) GeometryType {
	if g == nil {
		return GeometryNone
	}
	switch g.(type) {
	case orb.Point:
		return GeometryPoint
	case orb.LineString:
		return GeometryLineString
	case orb.Polygon, orb.Ring, orb.Bound:
		return GeometryPolygon
	case orb.MultiPoint:
		return GeometryMultiPoint
	case orb.MultiLineString:
		return GeometryMultiLineString
	case orb.MultiPolygon:
		return GeometryMultiPolygon
	case orb.Collection:
		return GeometryCollection
	}
	return GeometryNone
}

// IsPointType reports whether features of the type are tiled as points.
func (t GeometryType) IsPointType() bool {
	return t == GeometryPoint || t == GeometryMultiPoint
}

func isEmptyGeometry(g orb.Geometry) bool {
	switch g := g.(type) {
	case nil:
		return true
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(g) == 0
	case orb.LineString:
		return len(g) == 0
	case orb.MultiLineString:
		for _, ls := range g {
			if len(ls) > 0 {
				return false
			}
		}
		return true
	case orb.Ring:
		return len(g) == 0
	case orb.Polygon:
		return len(g) == 0 || len(g[0]) == 0
	case orb.MultiPolygon:
		for _, p := range g {
			if len(p) > 0 && len(p[0]) > 0 {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, sub := range g {
			if !isEmptyGeometry(sub) {
				return false
			}
		}
		return true
	case orb.Bound:
		return false
	}
	return true
}

// isValidGeometry performs the structural checks a tiler relies on: lines
// have two points, rings are closed with at least four points.
func isValidGeometry(g orb.Geometry) bool {
	switch g := g.(type) {
	case nil:
		return false
	case orb.Point:
		return true
	case orb.MultiPoint:
		return len(g) > 0
	case orb.LineString:
		return len(g) >= 2
	case orb.MultiLineString:
		for _, ls := range g {
			if len(ls) < 2 {
				return false
			}
		}
		return len(g) > 0
	case orb.Ring:
		return validRing(g)
	case orb.Polygon:
		for _, r := range g {
			if !validRing(r) {
				return false
			}
		}
		return len(g) > 0
	case orb.MultiPolygon:
		for _, p := range g {
			if !isValidGeometry(p) {
				return false
			}
		}
		return len(g) > 0
	case orb.Collection:
		for _, sub := range g {
			if !isValidGeometry(sub) {
				return false
			}
		}
		return len(g) > 0
	case orb.Bound:
		return true
	}
	return false
}

func validRing(r orb.Ring) bool {
	return len(r) >= 4 && r.Closed()
}

// forceToMulti wraps single geometries into their multi form.
func forceToMulti(g orb.Geometry) orb.Geometry {
	switch g := g.(type) {
	case orb.Point:
		return orb.MultiPoint{g}
	case orb.LineString:
		return orb.MultiLineString{g}
	case orb.Polygon:
		return orb.MultiPolygon{g}
	case orb.Ring:
		return orb.MultiPolygon{orb.Polygon{g}}
	case orb.Bound:
		return orb.MultiPolygon{g.ToPolygon()}
	}
	return g
}

// generalize returns a simplified copy of g with step as tolerance. Empty
// parts are dropped before simplification.
func generalize(g orb.Geometry, step float64) orb.Geometry {
	if g == nil || step <= 0 {
		return g
	}
	g = dropEmptyParts(orb.Clone(g))
	if g == nil {
		return nil
	}
	switch g.(type) {
	case orb.Point, orb.MultiPoint, orb.Bound:
		return g
	}
	return simplify.DouglasPeucker(step).Simplify(g)
}

func dropEmptyParts(g orb.Geometry) orb.Geometry {
	switch g := g.(type) {
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) == 0 {
			return nil
		}
		return g
	case orb.MultiPolygon:
		out := g[:0]
		for _, p := range g {
			if len(p) > 0 && len(p[0]) > 0 {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.Collection:
		out := g[:0]
		for _, sub := range g {
			if sub = dropEmptyParts(sub); sub != nil {
				out = append(out, sub)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	if isEmptyGeometry(g) {
		return nil
	}
	return g
}
