package ngstore

import (
	"testing"
)

func squareItem(id int64, x, y float32) VectorTileItem {
	it := NewVectorTileItem(id)
	it.AddPoint(SimplePoint{X: x, Y: y})
	it.AddPoint(SimplePoint{X: x + 1, Y: y})
	it.AddPoint(SimplePoint{X: x + 1, Y: y + 1})
	it.AddPoint(SimplePoint{X: x, Y: y + 1})
	for _, i := range []uint16{0, 1, 2, 0, 2, 3} {
		it.AddIndex(i)
	}
	for _, i := range []uint16{0, 1, 2, 3, 0} {
		it.AddBorderIndex(0, i)
	}
	it.AddCentroid(SimplePoint{X: x + .5, Y: y + .5})
	return it
}

func TestVectorTileSaveLoad(t *testing.T) {
	var vt VectorTile
	vt.Add(squareItem(1, 0, 0), true)
	vt.Add(squareItem(2, 10, 10), true)

	got, err := DecodeVectorTile(vt.Save())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Items()) != 2 {
		t.Fatalf("items = %d, want 2", len(got.Items()))
	}
	for i := range vt.Items() {
		want := vt.Items()[i]
		have := got.Items()[i]
		if !have.GeometryEqual(&want) {
			t.Fatalf("item %d geometry differs", i)
		}
		if !have.IsIDsPresent(want.IDs, true) || len(have.IDs) != len(want.IDs) {
			t.Fatalf("item %d ids = %v, want %v", i, have.IDs.Sorted(), want.IDs.Sorted())
		}
	}
}

func TestVectorTileDecodeTruncated(t *testing.T) {
	var vt VectorTile
	vt.Add(squareItem(1, 0, 0), false)
	data := vt.Save()
	for _, n := range []int{0, 3, 10, len(data) - 1} {
		if _, err := DecodeVectorTile(data[:n]); err == nil {
			t.Fatalf("decoding %d of %d bytes succeeded", n, len(data))
		}
	}
}

func TestVectorTileAdd(t *testing.T) {
	tests := []struct {
		name      string
		dedup     bool
		wantItems int
	}{
		{"dedup merges ids", true, 1},
		{"no dedup appends", false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vt VectorTile
			vt.Add(squareItem(1, 0, 0), tt.dedup)
			vt.Add(squareItem(2, 0, 0), tt.dedup)
			vt.Add(NewVectorTileItem(3), tt.dedup)
			if len(vt.Items()) != tt.wantItems {
				t.Fatalf("items = %d, want %d", len(vt.Items()), tt.wantItems)
			}
			if vt.IDCount() != 2 {
				t.Fatalf("id count = %d, want 2", vt.IDCount())
			}
		})
	}
}

func TestVectorTileRemove(t *testing.T) {
	var vt VectorTile
	vt.Add(squareItem(1, 0, 0), true)
	vt.Add(squareItem(2, 0, 0), true)
	vt.Add(squareItem(3, 5, 5), true)

	vt.Remove(3)
	if len(vt.Items()) != 1 || vt.IDCount() != 2 {
		t.Fatalf("after removing 3: items=%d ids=%d", len(vt.Items()), vt.IDCount())
	}
	vt.Remove(1)
	vt.Remove(2)
	if vt.IsValid() || !vt.Empty() {
		t.Fatal("tile still valid after removing every id")
	}
	vt.Add(squareItem(4, 0, 0), true)
	if !vt.IsValid() {
		t.Fatal("tile not valid after re-adding")
	}
}

func TestVectorTileItemIDs(t *testing.T) {
	it := NewVectorTileItem(1, 2, 3)
	tests := []struct {
		other IDSet
		full  bool
		want  bool
	}{
		{NewIDSet(1, 2), true, true},
		{NewIDSet(1, 9), true, false},
		{NewIDSet(1, 9), false, true},
		{NewIDSet(8, 9), false, false},
	}
	for _, tt := range tests {
		if got := it.IsIDsPresent(tt.other, tt.full); got != tt.want {
			t.Errorf("IsIDsPresent(%v, %v) = %v", tt.other.Sorted(), tt.full, got)
		}
	}
	if got := it.IDsIntersect(NewIDSet(2, 3, 4)).Sorted(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("IDsIntersect = %v", got)
	}

	if it.IsClosed() {
		t.Fatal("item without points is closed")
	}
	it.AddPoint(SimplePoint{X: 1, Y: 1})
	it.AddPoint(SimplePoint{X: 2, Y: 1})
	it.AddPoint(SimplePoint{X: 1, Y: 1})
	if !it.IsClosed() {
		t.Fatal("ring is not closed")
	}
}
