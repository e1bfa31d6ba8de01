package ngstore

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

func newCopySource(t *testing.T, ds *DataStore) *FeatureClass {
	t.Helper()
	src := newPointClass(t, ds, "src")
	for _, p := range []struct {
		name string
		pt   orb.Point
	}{
		{"a", orb.Point{1200000, 1200000}},
		{"b", orb.Point{1300000, 1250000}},
	} {
		f := NewFeature().SetField("name", p.name)
		f.Geometry = p.pt
		if err := src.InsertFeature(f); err != nil {
			t.Fatal(err)
		}
	}
	if err := src.InsertFeature(NewFeature().SetField("name", "empty")); err != nil {
		t.Fatal(err)
	}
	return src
}

func TestCopyFeatures(t *testing.T) {
	ds := newTestStore(t)
	src := newCopySource(t, ds)
	dst, err := ds.CreateFeatureClass("dst", GeometryMultiPoint, 3857, []Field{{Name: "label", Type: FieldString}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var last string
	progress := func(code Code, complete float64, message string) bool {
		last = message
		return true
	}
	opts := Options{}.Set(OptionSkipEmptyGeometry, "ON")
	n, err := dst.CopyFeatures(src, FieldMap{"label": "name"}, GeometryNone, progress, opts)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("copied %d", n)
	}
	if last != "Done. Copied 2 features" {
		t.Fatalf("last message %q", last)
	}

	var labels []string
	dst.Features(func(f *Feature) bool {
		if _, ok := f.Geometry.(orb.MultiPoint); !ok {
			t.Errorf("feature %d geometry %T", f.FID, f.Geometry)
		}
		labels = append(labels, f.FieldAsString("label"))
		return true
	})
	if len(labels) != 2 || labels[0] != "a" || labels[1] != "b" {
		t.Fatalf("labels = %v", labels)
	}
}

func TestCopyFeaturesFilter(t *testing.T) {
	ds := newTestStore(t)
	src := newCopySource(t, ds)
	dst := newPointClass(t, ds, "dst")

	opts := Options{}.Set(OptionSkipEmptyGeometry, "ON")
	n, err := dst.CopyFeatures(src, nil, GeometryLineString, nil, opts)
	if err != nil || n != 0 {
		t.Fatalf("line filter copied %d, %v", n, err)
	}
	n, err = dst.CopyFeatures(src, nil, GeometryPoint, nil, nil)
	if err != nil || n != 3 {
		t.Fatalf("point filter copied %d, %v", n, err)
	}
	var names []string
	dst.Features(func(f *Feature) bool {
		names = append(names, f.FieldAsString("name"))
		return true
	})
	if len(names) != 3 || names[2] != "empty" {
		t.Fatalf("names = %v", names)
	}
}

func TestCopyFeaturesRebuildsOverviews(t *testing.T) {
	ds := newTestStore(t)
	src := newCopySource(t, ds)
	dst := newPointClass(t, ds, "dst")
	if err := dst.CreateOverviews(nil, Options{}.Set(OptionZoomLevels, "4")); err != nil {
		t.Fatal(err)
	}

	if _, err := dst.CopyFeatures(src, nil, GeometryNone, nil, Options{}.Set(OptionSkipEmptyGeometry, "ON")); err != nil {
		t.Fatal(err)
	}
	if vt := storedTile(t, ds, "dst", cityTile); vt.IDCount() != 2 {
		t.Fatalf("rebuilt tile ids = %d", vt.IDCount())
	}
}

func TestCopyFeaturesCanceled(t *testing.T) {
	ds := newTestStore(t)
	src := newCopySource(t, ds)
	dst := newPointClass(t, ds, "dst")
	stop := func(Code, float64, string) bool { return false }
	if _, err := dst.CopyFeatures(src, nil, GeometryNone, stop, nil); errors.Cause(err) != ErrCanceled {
		t.Fatalf("got %v, want ErrCanceled", err)
	}
	if ds.IsBatchOperation() {
		t.Fatal("batch mode left on")
	}
}
