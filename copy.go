package ngstore

import (
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// FieldMap maps destination field names to source field names. A nil map
// copies fields with equal names.
type FieldMap map[string]string

func (m FieldMap) source(dst string) string {
	if m == nil {
		return dst
	}
	if src, ok := m[dst]; ok {
		return src
	}
	return ""
}

func multiType(t GeometryType) GeometryType {
	switch t {
	case GeometryPoint:
		return GeometryMultiPoint
	case GeometryLineString:
		return GeometryMultiLineString
	case GeometryPolygon:
		return GeometryMultiPolygon
	}
	return t
}

// CopyFeatures inserts the features of src into fc. Features whose geometry
// type differs from filter are skipped unless filter is GeometryNone.
// Insert failures are reported as warnings. Returns the number of copied
// features.
func (fc *FeatureClass) CopyFeatures(src Readable, fieldMap FieldMap, filter GeometryType, progress Progress, opts Options) (int, error) {
	if src == nil {
		return 0, errors.Wrap(ErrInvalid, "source feature class is nil")
	}
	if err := fc.ds.checkWritable(); err != nil {
		return 0, err
	}
	srcName := ""
	if o, ok := src.(Object); ok {
		srcName = o.Name()
	}
	progress.report(CodeInProcess, 0, "Start copy features from '%s' to '%s'", srcName, fc.def.name)

	total, err := src.FeatureCount()
	if err != nil {
		return 0, err
	}
	var features []*Feature
	if err := src.Features(func(f *Feature) bool {
		features = append(features, f)
		return true
	}); err != nil {
		return 0, errors.Wrap(err, "Error reading source features")
	}

	rebuild := fc.HasOverviews()
	fc.ds.StartBatchOperation()
	copied, err := fc.copyFeatures(features, total, fieldMap, filter, progress, opts)
	fc.ds.StopBatchOperation()
	if err != nil {
		return copied, err
	}

	if rebuild {
		zooms := formatZoomLevels(fc.ZoomLevels())
		err := fc.CreateOverviews(progress, Options{}.Set(OptionForce, "ON").Set(OptionZoomLevels, zooms))
		if err != nil {
			return copied, errors.Wrap(err, "Error rebuilding overviews")
		}
	}
	progress.report(CodeFinished, 1, "Done. Copied %d features", copied)
	return copied, nil
}

func (fc *FeatureClass) copyFeatures(features []*Feature, total int64, fieldMap FieldMap, filter GeometryType, progress Progress, opts Options) (int, error) {
	skipEmpty := opts.AsBool(OptionSkipEmptyGeometry, false)
	skipInvalid := opts.AsBool(OptionSkipInvalidGeometry, false)
	toMulti := opts.AsBool(OptionForceGeometryToMulti, false)
	dstMulti := multiType(fc.GeometryType()) == fc.GeometryType() && fc.GeometryType() != GeometryCollection
	fields := fc.Fields()

	copied := 0
	for i, f := range features {
		complete := float64(i) / float64(total)
		if !progress.report(CodeInProcess, complete, "Copy in process ...") {
			return copied, ErrCanceled
		}

		var g orb.Geometry
		if f.Geometry == nil || isEmptyGeometry(f.Geometry) {
			if skipEmpty {
				continue
			}
		} else {
			if skipInvalid && !isValidGeometry(f.Geometry) {
				continue
			}
			gtype := geometryTypeOf(f.Geometry)
			if toMulti {
				gtype = multiType(gtype)
			}
			if filter != GeometryNone && filter != gtype {
				continue
			}
			g = orb.Clone(f.Geometry)
			if toMulti || dstMulti {
				g = forceToMulti(g)
			}
		}

		dst := NewFeature()
		dst.Geometry = g
		for _, field := range fields {
			name := fieldMap.source(field.Name)
			if name == "" {
				continue
			}
			if v, ok := f.Field(name); ok {
				dst.SetField(field.Name, v)
			}
		}
		if err := fc.InsertFeature(dst); err != nil {
			fc.log().WithError(err).WithField("source_fid", f.FID).Warn("copy feature")
			if !progress.report(CodeWarning, complete, "Create feature failed. Source feature FID:%d", f.FID) {
				return copied, ErrCanceled
			}
			continue
		}
		copied++
	}
	return copied, nil
}
