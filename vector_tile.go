package ngstore

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// tileByteOrder is the byte order of every integer and float in a stored
// tile.
var tileByteOrder = binary.LittleEndian

// SimplePoint is a reduced precision point used inside tiles.
type SimplePoint struct {
	X, Y float32
}

func (p SimplePoint) Equal(o SimplePoint) bool {
	return p.X == o.X && p.Y == o.Y
}

// IDSet is a set of feature ids.
type IDSet map[int64]struct{}

func NewIDSet(ids ...int64) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// VectorTileItem is one generalized geometry fragment of a tile. Features
// whose generalized geometry is identical share a single item.
type VectorTileItem struct {
	Points        []SimplePoint
	Indices       []uint16
	BorderIndices [][]uint16
	Centroids     []SimplePoint
	IDs           IDSet
	// Is2D is carried in the encoding. Points are always stored as x,y.
	Is2D bool
}

func NewVectorTileItem(ids ...int64) VectorTileItem {
	return VectorTileItem{IDs: NewIDSet(ids...), Is2D: true}
}

// IsValid reports whether the item has at least one point.
func (it *VectorTileItem) IsValid() bool { return len(it.Points) > 0 }

func (it *VectorTileItem) AddID(id int64) {
	if it.IDs == nil {
		it.IDs = IDSet{}
	}
	it.IDs[id] = struct{}{}
}

func (it *VectorTileItem) AddPoint(pt SimplePoint) uint16 {
	it.Points = append(it.Points, pt)
	return uint16(len(it.Points) - 1)
}

func (it *VectorTileItem) AddIndex(index uint16) {
	it.Indices = append(it.Indices, index)
}

func (it *VectorTileItem) AddBorderIndex(ring int, index uint16) {
	for len(it.BorderIndices) <= ring {
		it.BorderIndices = append(it.BorderIndices, nil)
	}
	it.BorderIndices[ring] = append(it.BorderIndices[ring], index)
}

func (it *VectorTileItem) AddCentroid(pt SimplePoint) {
	it.Centroids = append(it.Centroids, pt)
}

// IsClosed reports whether the first and the last point are equal.
func (it *VectorTileItem) IsClosed() bool {
	if len(it.Points) == 0 {
		return false
	}
	return it.Points[0].Equal(it.Points[len(it.Points)-1])
}

// LoadIDs merges the ids of other into the item.
func (it *VectorTileItem) LoadIDs(other *VectorTileItem) {
	for id := range other.IDs {
		it.AddID(id)
	}
}

// IsIDsPresent reports whether all (full) or any of the ids of other are in
// the item.
func (it *VectorTileItem) IsIDsPresent(other IDSet, full bool) bool {
	if full {
		for id := range other {
			if !it.IDs.Has(id) {
				return false
			}
		}
		return true
	}
	for id := range other {
		if it.IDs.Has(id) {
			return true
		}
	}
	return false
}

func (it *VectorTileItem) IDsIntersect(other IDSet) IDSet {
	out := IDSet{}
	for id := range other {
		if it.IDs.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// GeometryEqual compares the geometry of two items. Ids are ignored.
func (it *VectorTileItem) GeometryEqual(other *VectorTileItem) bool {
	if it.Is2D != other.Is2D ||
		len(it.Points) != len(other.Points) ||
		len(it.Indices) != len(other.Indices) ||
		len(it.BorderIndices) != len(other.BorderIndices) ||
		len(it.Centroids) != len(other.Centroids) {
		return false
	}
	for i := range it.Points {
		if !it.Points[i].Equal(other.Points[i]) {
			return false
		}
	}
	for i := range it.Indices {
		if it.Indices[i] != other.Indices[i] {
			return false
		}
	}
	for i := range it.BorderIndices {
		if len(it.BorderIndices[i]) != len(other.BorderIndices[i]) {
			return false
		}
		for j := range it.BorderIndices[i] {
			if it.BorderIndices[i][j] != other.BorderIndices[i][j] {
				return false
			}
		}
	}
	for i := range it.Centroids {
		if !it.Centroids[i].Equal(other.Centroids[i]) {
			return false
		}
	}
	return true
}

func (it *VectorTileItem) geometryHash() uint64 {
	h := fnv.New64a()
	var b [4]byte
	for _, pt := range it.Points {
		tileByteOrder.PutUint32(b[:], math.Float32bits(pt.X))
		h.Write(b[:])
		tileByteOrder.PutUint32(b[:], math.Float32bits(pt.Y))
		h.Write(b[:])
	}
	for _, idx := range it.Indices {
		tileByteOrder.PutUint16(b[:2], idx)
		h.Write(b[:2])
	}
	for _, pt := range it.Centroids {
		tileByteOrder.PutUint32(b[:], math.Float32bits(pt.X))
		h.Write(b[:])
		tileByteOrder.PutUint32(b[:], math.Float32bits(pt.Y))
		h.Write(b[:])
	}
	return h.Sum64()
}

// Save appends the binary form of the item to buf.
func (it *VectorTileItem) Save(buf *bytes.Buffer) {
	if it.Is2D {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeUint32(buf, uint32(len(it.Points)))
	for _, pt := range it.Points {
		writePoint(buf, pt)
	}
	writeUint32(buf, uint32(len(it.Indices)))
	for _, idx := range it.Indices {
		writeUint16(buf, idx)
	}
	writeUint32(buf, uint32(len(it.BorderIndices)))
	for _, ring := range it.BorderIndices {
		writeUint32(buf, uint32(len(ring)))
		for _, idx := range ring {
			writeUint16(buf, idx)
		}
	}
	writeUint32(buf, uint32(len(it.Centroids)))
	for _, pt := range it.Centroids {
		writePoint(buf, pt)
	}
	ids := it.IDs.Sorted()
	writeUint32(buf, uint32(len(ids)))
	for _, id := range ids {
		var b [8]byte
		tileByteOrder.PutUint64(b[:], uint64(id))
		buf.Write(b[:])
	}
}

// Load replaces the item with the one decoded from r.
func (it *VectorTileItem) Load(r *tileReader) error {
	flag, err := r.readByte()
	if err != nil {
		return err
	}
	out := VectorTileItem{Is2D: flag == 1, IDs: IDSet{}}

	n, err := r.count(8)
	if err != nil {
		return errors.Wrap(err, "points")
	}
	if n > 0 {
		out.Points = make([]SimplePoint, n)
		for i := range out.Points {
			out.Points[i] = r.point()
		}
	}

	if n, err = r.count(2); err != nil {
		return errors.Wrap(err, "indices")
	}
	if n > 0 {
		out.Indices = make([]uint16, n)
		for i := range out.Indices {
			out.Indices[i] = r.uint16()
		}
	}

	if n, err = r.count(4); err != nil {
		return errors.Wrap(err, "border rings")
	}
	if n > 0 {
		out.BorderIndices = make([][]uint16, n)
		for i := range out.BorderIndices {
			m, err := r.count(2)
			if err != nil {
				return errors.Wrap(err, "border ring")
			}
			ring := make([]uint16, m)
			for j := range ring {
				ring[j] = r.uint16()
			}
			out.BorderIndices[i] = ring
		}
	}

	if n, err = r.count(8); err != nil {
		return errors.Wrap(err, "centroids")
	}
	if n > 0 {
		out.Centroids = make([]SimplePoint, n)
		for i := range out.Centroids {
			out.Centroids[i] = r.point()
		}
	}

	if n, err = r.count(8); err != nil {
		return errors.Wrap(err, "ids")
	}
	for i := 0; i < n; i++ {
		out.IDs[int64(r.uint64())] = struct{}{}
	}

	*it = out
	return nil
}

// VectorTile holds the items of one tile cell.
type VectorTile struct {
	items []VectorTileItem
	index map[uint64][]int
}

// IsValid reports whether the tile has items.
func (t *VectorTile) IsValid() bool { return len(t.items) > 0 }

// Empty reports whether no item has a point.
func (t *VectorTile) Empty() bool {
	for i := range t.items {
		if len(t.items[i].Points) > 0 {
			return false
		}
	}
	return true
}

func (t *VectorTile) Items() []VectorTileItem { return t.items }

// Add appends an item. With checkDuplicates an item whose geometry equals
// an existing one is merged into it. Invalid items are ignored.
func (t *VectorTile) Add(item VectorTileItem, checkDuplicates bool) {
	if !item.IsValid() {
		return
	}
	item.IDs = item.IDs.clone()
	if checkDuplicates {
		t.buildIndex()
		h := item.geometryHash()
		for _, i := range t.index[h] {
			if t.items[i].GeometryEqual(&item) {
				t.items[i].LoadIDs(&item)
				return
			}
		}
		t.items = append(t.items, item)
		t.index[h] = append(t.index[h], len(t.items)-1)
		return
	}
	t.items = append(t.items, item)
	t.index = nil
}

func (t *VectorTile) AddItems(items []VectorTileItem, checkDuplicates bool) {
	for _, item := range items {
		t.Add(item, checkDuplicates)
	}
}

// Merge adds every item of other.
func (t *VectorTile) Merge(other *VectorTile, checkDuplicates bool) {
	t.AddItems(other.items, checkDuplicates)
}

// Remove drops id from every item and removes items left without ids.
func (t *VectorTile) Remove(id int64) {
	kept := t.items[:0]
	for _, item := range t.items {
		delete(item.IDs, id)
		if len(item.IDs) > 0 {
			kept = append(kept, item)
		}
	}
	for i := len(kept); i < len(t.items); i++ {
		t.items[i] = VectorTileItem{}
	}
	t.items = kept
	t.index = nil
}

// IDCount returns the number of ids summed over all items.
func (t *VectorTile) IDCount() int {
	n := 0
	for i := range t.items {
		n += len(t.items[i].IDs)
	}
	return n
}

func (t *VectorTile) buildIndex() {
	if t.index != nil {
		return
	}
	t.index = make(map[uint64][]int, len(t.items))
	for i := range t.items {
		h := t.items[i].geometryHash()
		t.index[h] = append(t.index[h], i)
	}
}

// Save returns the binary form of the tile.
func (t *VectorTile) Save() []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(t.items)))
	for i := range t.items {
		t.items[i].Save(&buf)
	}
	return buf.Bytes()
}

// Load replaces the tile content with the decoded data.
func (t *VectorTile) Load(data []byte) error {
	r := &tileReader{data: data}
	n, err := r.count(1)
	if err != nil {
		return errors.Wrap(err, "tile")
	}
	items := make([]VectorTileItem, n)
	for i := range items {
		if err := items[i].Load(r); err != nil {
			return errors.Wrapf(err, "item %d", i)
		}
	}
	t.items = items
	t.index = nil
	return nil
}

// DecodeVectorTile decodes a stored tile.
func DecodeVectorTile(data []byte) (*VectorTile, error) {
	t := &VectorTile{}
	if err := t.Load(data); err != nil {
		return nil, err
	}
	return t, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	tileByteOrder.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	tileByteOrder.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writePoint(buf *bytes.Buffer, pt SimplePoint) {
	writeUint32(buf, math.Float32bits(pt.X))
	writeUint32(buf, math.Float32bits(pt.Y))
}

type tileReader struct {
	data []byte
	off  int
}

func (r *tileReader) remaining() int { return len(r.data) - r.off }

func (r *tileReader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, errors.Wrap(ErrInvalid, "truncated tile")
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

// count reads an element count and checks that count elements of size
// bytes fit in the rest of the buffer.
func (r *tileReader) count(size int) (int, error) {
	if r.remaining() < 4 {
		return 0, errors.Wrap(ErrInvalid, "truncated tile")
	}
	n := int(tileByteOrder.Uint32(r.data[r.off:]))
	r.off += 4
	if n < 0 || n > r.remaining()/size {
		return 0, errors.Wrapf(ErrInvalid, "count %d exceeds buffer", n)
	}
	return n, nil
}

func (r *tileReader) uint16() uint16 {
	v := tileByteOrder.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *tileReader) uint32() uint32 {
	v := tileByteOrder.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *tileReader) uint64() uint64 {
	v := tileByteOrder.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *tileReader) point() SimplePoint {
	x := math.Float32frombits(r.uint32())
	y := math.Float32frombits(r.uint32())
	return SimplePoint{X: x, Y: y}
}
