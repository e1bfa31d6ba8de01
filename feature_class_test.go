package ngstore

import (
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
)

func newPointClass(t *testing.T, ds *DataStore, name string) *FeatureClass {
	t.Helper()
	fc, err := ds.CreateFeatureClass(name, GeometryPoint, 3857, []Field{{Name: "name", Type: FieldString}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return fc
}

func insertPoint(t *testing.T, fc *FeatureClass, x, y float64) *Feature {
	t.Helper()
	f := NewFeature()
	f.Geometry = orb.Point{x, y}
	if err := fc.InsertFeature(f); err != nil {
		t.Fatalf("insert point %v,%v: %v", x, y, err)
	}
	return f
}

func fidsIn(t *testing.T, fc *FeatureClass, env Envelope) []int64 {
	t.Helper()
	var out []int64
	if err := fc.FeaturesIn(env, func(f *Feature) bool {
		out = append(out, f.FID)
		return true
	}); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestFeatureClassExtent(t *testing.T) {
	ds := newTestStore(t)
	fc := newPointClass(t, ds, "points")

	insertPoint(t, fc, 10, 20)
	insertPoint(t, fc, -5, 40)
	want := NewEnvelope(-5, 20, 10, 40)
	if got := fc.Extent(); got != want {
		t.Fatalf("extent = %+v, want %+v", got, want)
	}

	c, err := ds.content("points")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Extent(); got != want {
		t.Fatalf("stored extent = %+v", got)
	}

	if err := fc.DeleteFeatures(); err != nil {
		t.Fatal(err)
	}
	if fc.Extent().IsInit() {
		t.Fatalf("extent after delete all = %+v", fc.Extent())
	}
}

func TestFeaturesIn(t *testing.T) {
	ds := newTestStore(t)
	fc := newPointClass(t, ds, "points")

	a := insertPoint(t, fc, 1, 1)
	b := insertPoint(t, fc, 100, 100)
	c := insertPoint(t, fc, 1000, 1000)

	tests := []struct {
		name string
		env  Envelope
		want []int64
	}{
		{"first two", NewEnvelope(-1, -1, 150, 150), []int64{a.FID, b.FID}},
		{"one", NewEnvelope(900, 900, 1100, 1100), []int64{c.FID}},
		{"none", NewEnvelope(200, 200, 300, 300), nil},
		{"all", NewEnvelope(-10, -10, 2000, 2000), []int64{a.FID, b.FID, c.FID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fidsIn(t, fc, tt.env)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}

	b.Geometry = orb.Point{950, 950}
	if err := fc.UpdateFeature(b); err != nil {
		t.Fatal(err)
	}
	if got := fidsIn(t, fc, NewEnvelope(900, 900, 1100, 1100)); len(got) != 2 {
		t.Fatalf("after move: %v", got)
	}
	if err := fc.DeleteFeature(c.FID); err != nil {
		t.Fatal(err)
	}
	if got := fidsIn(t, fc, NewEnvelope(900, 900, 1100, 1100)); len(got) != 1 || got[0] != b.FID {
		t.Fatalf("after delete: %v", got)
	}
}

func TestFeaturesInStops(t *testing.T) {
	ds := newTestStore(t)
	fc := newPointClass(t, ds, "points")
	for i := 1; i <= 5; i++ {
		insertPoint(t, fc, float64(i), float64(i))
	}
	calls := 0
	fc.FeaturesIn(NewEnvelope(-1, -1, 10, 10), func(*Feature) bool {
		calls++
		return calls < 2
	})
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestFeatureClassReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.ngst")
	ds, err := Create(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	fc := newPointClass(t, ds, "points")
	p := insertPoint(t, fc, 500, 600)
	insertPoint(t, fc, -500, -600)
	ds.Close()

	ds, err = Open(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()
	fc, err = ds.FeatureClass("points")
	if err != nil {
		t.Fatal(err)
	}
	if fc.GeometryType() != GeometryPoint || fc.SRS() != 3857 {
		t.Fatalf("layout = %s/%d", fc.GeometryType(), fc.SRS())
	}
	if got := fc.Extent(); got != NewEnvelope(-500, -600, 500, 600) {
		t.Fatalf("extent = %+v", got)
	}
	got := fidsIn(t, fc, NewEnvelope(400, 500, 600, 700))
	if len(got) != 1 || got[0] != p.FID {
		t.Fatalf("index after reopen: %v", got)
	}

	f, err := fc.Feature(p.FID)
	if err != nil {
		t.Fatal(err)
	}
	if pt, ok := f.Geometry.(orb.Point); !ok || pt != (orb.Point{500, 600}) {
		t.Fatalf("geometry = %v", f.Geometry)
	}
}

func TestCreateFeatureClassNeedsGeometry(t *testing.T) {
	ds := newTestStore(t)
	if _, err := ds.CreateFeatureClass("bad", GeometryNone, 3857, nil, nil); err == nil {
		t.Fatal("feature class without geometry type created")
	}
}

func TestFeatureAtOrigin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "origin.ngst")
	ds, err := Create(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	fc := newPointClass(t, ds, "points")
	origin := insertPoint(t, fc, 0, 0)

	near := NewEnvelope(-1, -1, 1, 1)
	if got := fidsIn(t, fc, near); len(got) != 1 || got[0] != origin.FID {
		t.Fatalf("origin not indexed: %v", got)
	}
	if _, ok := fc.extentIfAny(); !ok {
		t.Fatal("extent not set by a point at the origin")
	}

	insertPoint(t, fc, 5, 5)
	want := NewEnvelope(0, 0, 5, 5)
	if got := fc.Extent(); got != want {
		t.Fatalf("extent = %+v, want %+v", got, want)
	}
	ds.Close()

	ds, err = Open(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()
	fc, err = ds.FeatureClass("points")
	if err != nil {
		t.Fatal(err)
	}
	if got := fc.Extent(); got != want {
		t.Fatalf("extent after reopen = %+v", got)
	}
	if got := fidsIn(t, fc, near); len(got) != 1 || got[0] != origin.FID {
		t.Fatalf("origin not indexed after reopen: %v", got)
	}
}
