package ngstore

import (
	"encoding/json"
	"io"
	"strings"

	geom "github.com/flywave/go-geom"
	"github.com/flywave/go-geom/general"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// FeatureCollection returns every feature of the class as a GeoJSON feature
// collection. Feature ids are the fids, properties are the user fields.
func (fc *FeatureClass) FeatureCollection() (*geom.FeatureCollection, error) {
	col := geom.NewFeatureCollection()
	if ext, ok := fc.extentIfAny(); ok {
		col.BoundingBox = geom.BoundingBox{ext.MinX, ext.MinY, ext.MaxX, ext.MaxY}
	}
	fields := fc.Fields()
	err := fc.Features(func(f *Feature) bool {
		out := &geom.Feature{
			ID:         f.FID,
			Type:       "Feature",
			Properties: make(map[string]interface{}, len(fields)),
		}
		for _, field := range fields {
			if v, ok := f.Field(field.Name); ok && v != nil {
				out.Properties[field.Name] = v
			}
		}
		if data := geometryData(f.Geometry); data != nil {
			out.GeometryData = *data
		}
		col.AddFeature(out)
		return true
	})
	if err != nil {
		return nil, err
	}
	return col, nil
}

// WriteGeoJSON encodes the FeatureCollection of the class to w.
func (fc *FeatureClass) WriteGeoJSON(w io.Writer) error {
	col, err := fc.FeatureCollection()
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(col)
}

// StoreFeatureCollection inserts every feature of col as a new feature.
// Properties are matched to fields by name ignoring case, unknown ones are
// dropped. It returns the number of inserted features.
func (fc *FeatureClass) StoreFeatureCollection(col *geom.FeatureCollection) (int, error) {
	if col == nil {
		return 0, nil
	}
	byName := map[string]string{}
	for _, field := range fc.Fields() {
		byName[strings.ToLower(field.Name)] = field.Name
	}

	n := 0
	for i, in := range col.Features {
		if in == nil {
			continue
		}
		f := NewFeature()
		g, err := orbGeometry(&in.GeometryData)
		if err != nil {
			return n, errors.Wrapf(err, "feature %d", i)
		}
		f.Geometry = g
		for k, v := range in.Properties {
			if name, ok := byName[strings.ToLower(k)]; ok {
				f.Fields[name] = v
			}
		}
		if err := fc.InsertFeature(f); err != nil {
			return n, errors.Wrapf(err, "feature %d", i)
		}
		n++
	}
	fc.log().WithField("features", n).Debug("stored feature collection")
	return n, nil
}

// ReadGeoJSON decodes a GeoJSON feature collection from r and stores it.
func (fc *FeatureClass) ReadGeoJSON(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	col, err := general.UnmarshalFeatureCollection(data)
	if err != nil {
		return 0, errors.Wrap(ErrUnsupported, err.Error())
	}
	return fc.StoreFeatureCollection(col)
}

func position(p orb.Point) []float64 { return []float64{p[0], p[1]} }

func positions(pts []orb.Point) [][]float64 {
	out := make([][]float64, len(pts))
	for i, p := range pts {
		out[i] = position(p)
	}
	return out
}

func polygonPositions(p orb.Polygon) [][][]float64 {
	out := make([][][]float64, len(p))
	for i, r := range p {
		out[i] = positions(r)
	}
	return out
}

// geometryData converts g for GeoJSON output. Nil and empty geometries give
// nil.
func geometryData(g orb.Geometry) *geom.GeometryData {
	if isEmptyGeometry(g) {
		return nil
	}
	switch g := g.(type) {
	case orb.Point:
		return geom.NewPointGeometryData(position(g))
	case orb.MultiPoint:
		return geom.NewMultiPointGeometryData(positions(g)...)
	case orb.LineString:
		return geom.NewLineStringGeometryData(positions(g))
	case orb.MultiLineString:
		lines := make([][][]float64, len(g))
		for i, ls := range g {
			lines[i] = positions(ls)
		}
		return geom.NewMultiLineStringGeometryData(lines...)
	case orb.Ring:
		return geom.NewPolygonGeometryData(polygonPositions(orb.Polygon{g}))
	case orb.Polygon:
		return geom.NewPolygonGeometryData(polygonPositions(g))
	case orb.Bound:
		return geom.NewPolygonGeometryData(polygonPositions(g.ToPolygon()))
	case orb.MultiPolygon:
		polys := make([][][][]float64, len(g))
		for i, p := range g {
			polys[i] = polygonPositions(p)
		}
		return geom.NewMultiPolygonGeometryData(polys...)
	case orb.Collection:
		parts := make([]*geom.GeometryData, 0, len(g))
		for _, sub := range g {
			if d := geometryData(sub); d != nil {
				parts = append(parts, d)
			}
		}
		return geom.NewCollectionGeometryData(parts...)
	}
	return nil
}

func orbPoint(c []float64) (orb.Point, error) {
	if len(c) < 2 {
		return orb.Point{}, errors.Wrapf(ErrUnsupported, "position %v", c)
	}
	return orb.Point{c[0], c[1]}, nil
}

func orbPoints(cs [][]float64) ([]orb.Point, error) {
	out := make([]orb.Point, len(cs))
	for i, c := range cs {
		p, err := orbPoint(c)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func orbPolygon(rings [][][]float64) (orb.Polygon, error) {
	out := make(orb.Polygon, len(rings))
	for i, r := range rings {
		pts, err := orbPoints(r)
		if err != nil {
			return nil, err
		}
		out[i] = orb.Ring(pts)
	}
	return out, nil
}

// orbGeometry converts decoded GeoJSON geometry. A missing geometry gives
// nil.
func orbGeometry(g *geom.GeometryData) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	switch g.Type {
	case "":
		return nil, nil
	case geom.GeometryPoint:
		return orbPoint(g.Point)
	case geom.GeometryMultiPoint:
		pts, err := orbPoints(g.MultiPoint)
		return orb.MultiPoint(pts), err
	case geom.GeometryLineString:
		pts, err := orbPoints(g.LineString)
		return orb.LineString(pts), err
	case geom.GeometryMultiLineString:
		out := make(orb.MultiLineString, len(g.MultiLineString))
		for i, ls := range g.MultiLineString {
			pts, err := orbPoints(ls)
			if err != nil {
				return nil, err
			}
			out[i] = pts
		}
		return out, nil
	case geom.GeometryPolygon:
		return orbPolygon(g.Polygon)
	case geom.GeometryMultiPolygon:
		out := make(orb.MultiPolygon, len(g.MultiPolygon))
		for i, p := range g.MultiPolygon {
			poly, err := orbPolygon(p)
			if err != nil {
				return nil, err
			}
			out[i] = poly
		}
		return out, nil
	case geom.GeometryCollection:
		out := make(orb.Collection, 0, len(g.Geometries))
		for _, sub := range g.Geometries {
			part, err := orbGeometry(sub)
			if err != nil {
				return nil, err
			}
			if part != nil {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrUnsupported, "geometry type %q", g.Type)
}
