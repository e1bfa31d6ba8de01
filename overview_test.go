package ngstore

import (
	"reflect"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// cityTile holds every point inserted by newCityClass at zoom 4.
var cityTile = Tile{X: 8, Y: 8, Z: 4}

func newCityClass(t *testing.T) (*DataStore, *FeatureClass, []*Feature) {
	t.Helper()
	ds := newTestStore(t)
	fc := newPointClass(t, ds, "cities")
	features := []*Feature{
		insertPoint(t, fc, 1200000, 1200000),
		insertPoint(t, fc, 1300000, 1250000),
		insertPoint(t, fc, 1250000, 1300000),
	}
	return ds, fc, features
}

func storedTile(t *testing.T, ds *DataStore, name string, tile Tile) *VectorTile {
	t.Helper()
	data, err := ds.GetTile(name, tile)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		return &VectorTile{}
	}
	vt, err := DecodeVectorTile(data)
	if err != nil {
		t.Fatal(err)
	}
	return vt
}

func TestParseZoomLevels(t *testing.T) {
	tests := []struct {
		in   string
		want []uint8
	}{
		{"", nil},
		{"4", []uint8{4}},
		{"8, 4,4", []uint8{4, 8}},
		{"x,31,-1,2", []uint8{2}},
	}
	for _, tt := range tests {
		if got := ParseZoomLevels(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseZoomLevels(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNearestZoom(t *testing.T) {
	zooms := []uint8{4, 8, 12}
	tests := []struct {
		z, want uint8
	}{
		{0, 4},
		{4, 4},
		{6, 4},
		{7, 8},
		{10, 8},
		{11, 12},
		{14, 12},
	}
	for _, tt := range tests {
		if got := nearestZoom(zooms, tt.z); got != tt.want {
			t.Errorf("nearestZoom(%d) = %d, want %d", tt.z, got, tt.want)
		}
	}
}

func TestCreateOverviews(t *testing.T) {
	ds, fc, _ := newCityClass(t)

	var finished bool
	progress := func(code Code, complete float64, message string) bool {
		if code == CodeFinished {
			finished = true
		}
		return true
	}
	if err := fc.CreateOverviews(progress, Options{}.Set(OptionZoomLevels, "4")); err != nil {
		t.Fatal(err)
	}
	if !finished {
		t.Fatal("no finish report")
	}
	if !fc.HasOverviews() {
		t.Fatal("overviews missing")
	}
	if got := ds.Property("cities.zoom_levels", ""); got != "4" {
		t.Fatalf("stored zoom levels = %q", got)
	}
	if n, _ := ds.OverviewsCount("cities", 4); n != 1 {
		t.Fatalf("tiles at zoom 4 = %d", n)
	}
	if vt := storedTile(t, ds, "cities", cityTile); vt.IDCount() != 3 {
		t.Fatalf("stored ids = %d", vt.IDCount())
	}

	vt, err := fc.GetTile(cityTile, TileExtent(cityTile))
	if err != nil {
		t.Fatal(err)
	}
	if vt.IDCount() != 3 {
		t.Fatalf("tile ids = %d", vt.IDCount())
	}
	if got := ds.Context().Snapshot()[metricTileCached]; got != 1 {
		t.Fatalf("cached reads = %d", got)
	}

	sets, err := ds.GetTileMatrixSets()
	if err != nil || len(sets) != 1 {
		t.Fatalf("tile matrix sets = %v, %v", sets, err)
	}
	matrices, err := ds.TileMatrices("cities")
	if err != nil || len(matrices) != 1 || matrices[0].ZoomLevel != 4 {
		t.Fatalf("tile matrices = %+v, %v", matrices, err)
	}
}

func TestCreateOverviewsKeepsExisting(t *testing.T) {
	_, fc, _ := newCityClass(t)
	if err := fc.CreateOverviews(nil, Options{}.Set(OptionZoomLevels, "4")); err != nil {
		t.Fatal(err)
	}
	if err := fc.CreateOverviews(nil, Options{}.Set(OptionZoomLevels, "2,4")); err != nil {
		t.Fatal(err)
	}
	if got := fc.ZoomLevels(); !reflect.DeepEqual(got, []uint8{4}) {
		t.Fatalf("without force: %v", got)
	}
	opts := Options{}.Set(OptionZoomLevels, "2,4").Set(OptionForce, "ON")
	if err := fc.CreateOverviews(nil, opts); err != nil {
		t.Fatal(err)
	}
	if got := fc.ZoomLevels(); !reflect.DeepEqual(got, []uint8{2, 4}) {
		t.Fatalf("with force: %v", got)
	}
}

func TestCreateOverviewsTableOnly(t *testing.T) {
	ds, fc, _ := newCityClass(t)
	if err := fc.CreateOverviews(nil, Options{}.Set(OptionCreateOverviewsTable, "ON")); err != nil {
		t.Fatal(err)
	}
	if !ds.HasOverviewsTable("cities") {
		t.Fatal("overviews table missing")
	}
	if fc.HasOverviews() {
		t.Fatal("empty table reported as overviews")
	}
	if n, _ := ds.OverviewsCount("cities", 4); n != 0 {
		t.Fatalf("tiles = %d", n)
	}
}

func TestCreateOverviewsCanceled(t *testing.T) {
	ds, fc, _ := newCityClass(t)
	stop := func(Code, float64, string) bool { return false }
	err := fc.CreateOverviews(stop, Options{}.Set(OptionZoomLevels, "4"))
	if errors.Cause(err) != ErrCanceled {
		t.Fatalf("got %v, want ErrCanceled", err)
	}
	if n, _ := ds.OverviewsCount("cities", 4); n != 0 {
		t.Fatalf("tiles stored after cancel = %d", n)
	}
	if fc.HasOverviews() || len(fc.ZoomLevels()) != 0 {
		t.Fatalf("zoom levels after cancel = %v", fc.ZoomLevels())
	}
	if got := ds.Property(zoomLevelsKey("cities"), ""); got != "" {
		t.Fatalf("stored zoom levels after cancel = %q", got)
	}
	var index int
	err = ds.DB.DB().QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = ?`,
		overviewsIndexName("cities")).Scan(&index)
	if err != nil || index != 1 {
		t.Fatalf("overviews index after cancel = %d, %v", index, err)
	}

	if err := fc.CreateOverviews(nil, Options{}.Set(OptionZoomLevels, "4")); err != nil {
		t.Fatal(err)
	}
	if vt := storedTile(t, ds, "cities", cityTile); vt.IDCount() != 3 {
		t.Fatalf("tile ids after rebuild = %d", vt.IDCount())
	}
}

func TestOverviewsConcurrentInserts(t *testing.T) {
	ds, fc, _ := newCityClass(t)
	if err := fc.CreateOverviews(nil, Options{}.Set(OptionZoomLevels, "4")); err != nil {
		t.Fatal(err)
	}

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := NewFeature()
			f.Geometry = orb.Point{1200000 + float64(i)*100, 1210000}
			if err := fc.InsertFeature(f); err != nil {
				t.Errorf("insert %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	count, err := fc.FeatureCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 3+workers {
		t.Fatalf("features = %d", count)
	}
	if vt := storedTile(t, ds, "cities", cityTile); int64(vt.IDCount()) != count {
		t.Fatalf("tile ids = %d, features = %d", vt.IDCount(), count)
	}
}

func TestGetTileOnTheFly(t *testing.T) {
	ds, fc, _ := newCityClass(t)

	vt, err := fc.GetTile(cityTile, TileExtent(cityTile))
	if err != nil {
		t.Fatal(err)
	}
	if vt.IDCount() != 3 {
		t.Fatalf("tile ids = %d", vt.IDCount())
	}
	if got := ds.Context().Snapshot()[metricTileFly]; got != 1 {
		t.Fatalf("fly reads = %d", got)
	}

	far := Tile{X: 0, Y: 0, Z: 4}
	vt, err = fc.GetTile(far, TileExtent(far))
	if err != nil {
		t.Fatal(err)
	}
	if vt.IsValid() {
		t.Fatalf("tile outside extent has %d ids", vt.IDCount())
	}
}

func TestOverviewsFollowEdits(t *testing.T) {
	ds, fc, features := newCityClass(t)
	if err := fc.CreateOverviews(nil, Options{}.Set(OptionZoomLevels, "4")); err != nil {
		t.Fatal(err)
	}

	added := insertPoint(t, fc, 1220000, 1210000)
	if vt := storedTile(t, ds, "cities", cityTile); vt.IDCount() != 4 {
		t.Fatalf("after insert: %d ids", vt.IDCount())
	}

	if err := fc.DeleteFeature(features[0].FID); err != nil {
		t.Fatal(err)
	}
	if vt := storedTile(t, ds, "cities", cityTile); vt.IDCount() != 3 {
		t.Fatalf("after delete: %d ids", vt.IDCount())
	}

	added.Geometry = orb.Point{-1200000, -1200000}
	if err := fc.UpdateFeature(added); err != nil {
		t.Fatal(err)
	}
	if vt := storedTile(t, ds, "cities", cityTile); vt.IDCount() != 2 {
		t.Fatalf("after move, old tile: %d ids", vt.IDCount())
	}
	moved := Tile{X: 7, Y: 7, Z: 4}
	vt := storedTile(t, ds, "cities", moved)
	if vt.IDCount() != 1 || !vt.Items()[0].IDs.Has(added.FID) {
		t.Fatalf("after move, new tile: %d ids", vt.IDCount())
	}

	if err := fc.DeleteFeatures(); err != nil {
		t.Fatal(err)
	}
	if n, _ := ds.OverviewsCount("cities", 4); n != 0 {
		t.Fatalf("tiles after delete all = %d", n)
	}
}

func TestOverviewsSkippedInBatch(t *testing.T) {
	ds, fc, _ := newCityClass(t)
	if err := fc.CreateOverviews(nil, Options{}.Set(OptionZoomLevels, "4")); err != nil {
		t.Fatal(err)
	}
	ds.StartBatchOperation()
	insertPoint(t, fc, 1220000, 1210000)
	ds.StopBatchOperation()
	if vt := storedTile(t, ds, "cities", cityTile); vt.IDCount() != 3 {
		t.Fatalf("batch insert touched tiles: %d ids", vt.IDCount())
	}
}
