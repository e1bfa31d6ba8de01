package ngstore

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestPixelSize(t *testing.T) {
	if got, want := PixelSize(0), WorldWidth/TileSize; math.Abs(got-want) > 1e-9 {
		t.Fatalf("PixelSize(0) = %v, want %v", got, want)
	}
	for z := 1; z <= 20; z++ {
		if got, want := PixelSize(z), PixelSize(z-1)/2; math.Abs(got-want) > 1e-9 {
			t.Fatalf("PixelSize(%d) = %v, want %v", z, got, want)
		}
	}
}

func TestTilesForExtent(t *testing.T) {
	tests := []struct {
		name   string
		extent Envelope
		zoom   uint8
		want   []Tile
	}{
		{"zoom 0", NewEnvelope(1, 1, 2, 2), 0, []Tile{{Z: 0}}},
		{"point near origin", NewEnvelope(1200000, 1200000, 1200000, 1200000), 4, []Tile{{X: 8, Y: 8, Z: 4}}},
		{"world at zoom 1", DefaultBounds, 1, []Tile{{0, 0, 1}, {0, 1, 1}, {1, 0, 1}, {1, 1, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := TilesForExtent(tt.extent, tt.zoom, false, false)
			got := map[Tile]bool{}
			for _, it := range items {
				got[it.Tile] = true
				if it.Env != TileExtent(it.Tile) {
					t.Fatalf("extent of %s = %+v, want %+v", it.Tile, it.Env, TileExtent(it.Tile))
				}
			}
			for _, w := range tt.want {
				if !got[w] {
					t.Fatalf("tile %s missing from %v", w, items)
				}
			}
		})
	}
}

func TestTilesForExtentWrap(t *testing.T) {
	ext := NewEnvelope(DefaultMaxX-1000, 0, DefaultMaxX+1000, 1000)
	items := TilesForExtent(ext, 2, false, true)
	crossed := false
	for _, it := range items {
		if it.Tile.X < 0 || it.Tile.X >= 4 {
			t.Fatalf("tile %s outside the grid", it.Tile)
		}
		if it.CrossExtent == 1 {
			crossed = true
		}
	}
	if !crossed {
		t.Fatal("no tile wrapped across the antimeridian")
	}
}

func TestEnvelope(t *testing.T) {
	var zero Envelope
	if zero.IsInit() {
		t.Fatal("zero envelope is initialized")
	}
	a := NewEnvelope(0, 0, 10, 10)
	if got := zero.Merge(a); got != a {
		t.Fatalf("merge into zero = %+v", got)
	}
	if got := a.Merge(NewEnvelope(5, -5, 20, 5)); got != NewEnvelope(0, -5, 20, 10) {
		t.Fatalf("merge = %+v", got)
	}
	if got := a.Intersect(NewEnvelope(20, 20, 30, 30)); got.IsInit() {
		t.Fatalf("disjoint intersect = %+v", got)
	}
	if got := a.Resize(2); got != NewEnvelope(-5, -5, 15, 15) {
		t.Fatalf("resize = %+v", got)
	}

	fixed := NewEnvelope(10, 5, 0, 5).Fix()
	if fixed.MinX != 0 || fixed.MaxX != 10 {
		t.Fatalf("fix did not swap x: %+v", fixed)
	}
	if !(fixed.MinY < 5 && fixed.MaxY > 5) {
		t.Fatalf("fix did not widen y: %+v", fixed)
	}
}

func TestEnvelopeTransforms(t *testing.T) {
	a := NewEnvelope(0, 0, 10, 10)
	if got := a.Move(5, -5); got != NewEnvelope(5, -5, 15, 5) {
		t.Fatalf("move = %+v", got)
	}
	if got := a.SetRatio(2); got != NewEnvelope(-5, 0, 15, 10) {
		t.Fatalf("set ratio = %+v", got)
	}
	if got := a.SetRatio(1); got != a {
		t.Fatalf("same ratio = %+v", got)
	}

	r := a.Rotate(math.Pi / 2)
	want := NewEnvelope(-10, 0, 0, 10)
	if !isEqual(r.MinX, want.MinX) || !isEqual(r.MinY, want.MinY) ||
		!isEqual(r.MaxX, want.MaxX) || !isEqual(r.MaxY, want.MaxY) {
		t.Fatalf("rotate = %+v", r)
	}

	if (Envelope{}).ToGeometry() != nil {
		t.Fatal("zero envelope has a geometry")
	}
	poly, ok := a.ToGeometry().(orb.Polygon)
	if !ok || len(poly[0]) != 5 || !poly[0].Closed() {
		t.Fatalf("geometry = %v", a.ToGeometry())
	}
}

func TestTriangulateSquare(t *testing.T) {
	ring := []SimplePoint{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	idx := triangulate([][]SimplePoint{ring})
	if len(idx) != 6 {
		t.Fatalf("indices = %v, want two triangles", idx)
	}

	hole := []SimplePoint{{3, 3}, {3, 6}, {6, 6}, {6, 3}}
	idx = triangulate([][]SimplePoint{ring, hole})
	if len(idx) == 0 || len(idx)%3 != 0 {
		t.Fatalf("indices with hole = %v", idx)
	}
}

func TestEnvelopeRotateLargeCoordinates(t *testing.T) {
	tests := []struct {
		name  string
		in    Envelope
		angle float64
		want  Envelope
	}{
		{"identity", NewEnvelope(1.5e7, 1.5e7, 1.8e7, 1.8e7), 0, NewEnvelope(1.5e7, 1.5e7, 1.8e7, 1.8e7)},
		{"negative", NewEnvelope(-1.8e7, -1.8e7, -1.5e7, -1.5e7), 0, NewEnvelope(-1.8e7, -1.8e7, -1.5e7, -1.5e7)},
		{"half turn", NewEnvelope(1.5e7, 1.5e7, 1.8e7, 1.8e7), math.Pi, NewEnvelope(-1.8e7, -1.8e7, -1.5e7, -1.5e7)},
	}
	for _, tt := range tests {
		got := tt.in.Rotate(tt.angle)
		// Relative tolerance: sin(pi) is not exactly zero.
		near := func(a, b float64) bool { return math.Abs(a-b) < 1e-6*math.Max(1, math.Abs(b)) }
		if !near(got.MinX, tt.want.MinX) || !near(got.MinY, tt.want.MinY) ||
			!near(got.MaxX, tt.want.MaxX) || !near(got.MaxY, tt.want.MaxY) {
			t.Errorf("%s: Rotate = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestEnvelopeExtend(t *testing.T) {
	zero := Envelope{}
	a := NewEnvelope(5, 5, 10, 10)
	if got := zero.Merge(a); got != a {
		t.Fatalf("merge skips zero side: %+v", got)
	}
	if got := zero.Extend(a); got != NewEnvelope(0, 0, 10, 10) {
		t.Fatalf("extend keeps origin: %+v", got)
	}
	if got := EnvelopeFromRect(a.Rect()); got != a {
		t.Fatalf("rect round trip = %+v", got)
	}
}
