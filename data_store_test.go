package ngstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func newTestStore(t *testing.T) *DataStore {
	t.Helper()
	ctx := NewContext()
	ctx.Workers = 2
	ds, err := Create(ctx, filepath.Join(t.TempDir(), "test.ngst"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}

func TestCreateOpenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.ngst")
	ds, err := Create(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Create(nil, path); errors.Cause(err) != ErrCreateFailed {
		t.Fatalf("second create: got %v, want ErrCreateFailed", err)
	}

	srs, err := ds.GetSpatialReferenceSystem(3857)
	if err != nil || srs.Code() == "" {
		t.Fatalf("default srs 3857: %v", err)
	}
	if n, err := ds.QueryInt("PRAGMA application_id"); err != nil || n != ApplicationID {
		t.Fatalf("application_id = %d, %v", n, err)
	}
	ds.Close()

	ds, err = Open(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	ds.Close()

	if _, err := Open(nil, filepath.Join(t.TempDir(), "missing.ngst")); errors.Cause(err) != ErrNotFound {
		t.Fatalf("open missing: got %v", err)
	}
}

func TestStoreTile(t *testing.T) {
	ds := newTestStore(t)
	if err := ds.CreateOverviewsTable("roads"); err != nil {
		t.Fatal(err)
	}

	tile := Tile{X: 1, Y: 2, Z: 3}
	if err := ds.StoreTile("roads", tile, []byte("test")); err != nil {
		t.Fatal(err)
	}
	if err := ds.StoreTile("roads", tile, []byte("again")); err != nil {
		t.Fatal(err)
	}
	data, err := ds.GetTile("roads", tile)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("again")) {
		t.Fatalf("tile = %q", data)
	}
	if n, _ := ds.OverviewsCount("roads", 3); n != 1 {
		t.Fatalf("overviews count = %d, want 1", n)
	}

	data, err = ds.GetTile("roads", Tile{Z: 3})
	if err != nil || len(data) != 0 {
		t.Fatalf("missing tile = %q, %v", data, err)
	}
}

func TestStoreProperties(t *testing.T) {
	ds := newTestStore(t)
	ds.SetProperty("roads.ngs.save_edit_history", "ON")
	ds.SetProperty("roads.zoom_levels", "1,2")
	ds.SetProperty("rivers.zoom_levels", "3")

	if got := ds.Property("roads.zoom_levels", ""); got != "1,2" {
		t.Fatalf("property = %q", got)
	}
	if got := ds.Property("missing", "def"); got != "def" {
		t.Fatalf("default = %q", got)
	}
	props, err := ds.Properties("roads.")
	if err != nil {
		t.Fatal(err)
	}
	if len(props) != 2 || props["zoom_levels"] != "1,2" {
		t.Fatalf("properties = %v", props)
	}
	if err := ds.DeleteProperties("roads."); err != nil {
		t.Fatal(err)
	}
	if got := ds.Property("rivers.zoom_levels", ""); got != "3" {
		t.Fatalf("unrelated property removed: %q", got)
	}
}

func TestReadOnlyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.ngst")
	ds, err := Create(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	ds.Close()

	ctx := NewContext()
	ctx.ReadOnly = true
	ds, err = Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()
	if _, err := ds.CreateTable("notes", nil, nil); errors.Cause(err) != ErrReadOnly {
		t.Fatalf("create in read only store: %v", err)
	}
}

func TestDestroyObject(t *testing.T) {
	ds := newTestStore(t)
	fc, err := ds.CreateFeatureClass("points", GeometryPoint, 3857, nil, Options{OptionLogEdits: "ON"})
	if err != nil {
		t.Fatal(err)
	}
	insertPoint(t, fc, 10, 10)
	if err := fc.CreateOverviews(nil, Options{OptionZoomLevels: "2"}); err != nil {
		t.Fatal(err)
	}

	if err := ds.DestroyObject("points"); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"points", overviewsTableName("points"), editLogTableName("points")} {
		if ds.verifyTable(name) {
			t.Fatalf("%s still exists", name)
		}
	}
	if _, err := ds.Object("points"); errors.Cause(err) != ErrNotFound {
		t.Fatalf("object after destroy: %v", err)
	}
	if got := ds.Property(zoomLevelsKey("points"), ""); got != "" {
		t.Fatalf("zoom levels left: %q", got)
	}
	if _, err := os.Stat(filepath.Join(ds.AttachmentsPath(), "points")); !os.IsNotExist(err) {
		t.Fatalf("attachments folder left: %v", err)
	}
}
