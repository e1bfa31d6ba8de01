package ngstore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// fidChunk bounds the number of ids in one IN clause.
const fidChunk = 500

type indexedFeature struct {
	fid    int64
	bounds rtreego.Rect
}

func (f *indexedFeature) Bounds() rtreego.Rect { return f.bounds }

// FeatureClass is a table with a geometry column. It keeps the extent, a
// spatial index of the feature envelopes and the overview levels.
type FeatureClass struct {
	*Table

	mu         sync.RWMutex
	extent     Envelope
	hasExtent  bool
	index      *rtreego.Rtree
	indexed    map[int64]*indexedFeature
	zoomLevels []uint8

	// featureMu serializes reads that walk the table for tiling.
	featureMu sync.Mutex
	// tileMu serializes read-modify-write cycles on stored tiles.
	tileMu sync.Mutex
}

func newFeatureClass(ds *DataStore, def table, c Content) (*FeatureClass, error) {
	fc := &FeatureClass{
		Table:     newTable(ds, def),
		extent:    c.Extent(),
		hasExtent: c.HasExtent(),
		index:     rtreego.NewTree(2, 25, 50),
		indexed:   map[int64]*indexedFeature{},
	}
	fc.listener = fc
	fc.zoomLevels = ParseZoomLevels(ds.Property(zoomLevelsKey(def.name), ""))
	if err := fc.buildIndex(); err != nil {
		return nil, errors.Wrapf(err, "Error indexing %s", def.name)
	}
	return fc, nil
}

func (fc *FeatureClass) Kind() ObjectKind { return KindFeatureClass }

func (fc *FeatureClass) GeometryType() GeometryType { return fc.def.gtype }

func (fc *FeatureClass) SRS() int { return fc.def.srs }

// Extent returns the union of the feature envelopes.
func (fc *FeatureClass) Extent() Envelope {
	ext, _ := fc.extentIfAny()
	return ext
}

// extentIfAny also reports whether any feature has a geometry. A class
// holding only a point at the origin has a zero but set extent.
func (fc *FeatureClass) extentIfAny() (Envelope, bool) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.extent, fc.hasExtent
}

// ZoomLevels returns the zoom levels of the stored overviews in ascending
// order.
func (fc *FeatureClass) ZoomLevels() []uint8 {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return append([]uint8(nil), fc.zoomLevels...)
}

func (fc *FeatureClass) setZoomLevels(zooms []uint8) {
	fc.mu.Lock()
	fc.zoomLevels = append([]uint8(nil), zooms...)
	fc.mu.Unlock()
}

// HasOverviews reports whether overview tiles were built.
func (fc *FeatureClass) HasOverviews() bool {
	return len(fc.ZoomLevels()) > 0 && fc.ds.HasOverviewsTable(fc.def.name)
}

func (fc *FeatureClass) buildIndex() error {
	stmt := fmt.Sprintf(`SELECT %s, %s FROM "%v"`, FIDColumn, quote(fc.def.gcolumn), fc.def.name)
	rows, err := fc.ds.DB.DB().Query(stmt)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fid  int64
			blob []byte
		)
		if err := rows.Scan(&fid, &blob); err != nil {
			return err
		}
		if len(blob) == 0 {
			continue
		}
		h, err := DecodeBinaryHeader(blob)
		if err != nil || h.IsGeometryEmpty() {
			continue
		}
		env := h.Envelope()
		if len(env) < 4 {
			sb, err := DecodeGeometry(blob)
			if err != nil {
				continue
			}
			fc.indexFeature(fid, sb.Extent())
			continue
		}
		fc.indexFeature(fid, Envelope{MinX: env[0], MaxX: env[1], MinY: env[2], MaxY: env[3]})
	}
	return rows.Err()
}

func (fc *FeatureClass) indexFeature(fid int64, env Envelope) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.unindexLocked(fid)
	item := &indexedFeature{fid: fid, bounds: env.rect()}
	fc.index.Insert(item)
	fc.indexed[fid] = item
}

func (fc *FeatureClass) unindexLocked(fid int64) {
	if item, ok := fc.indexed[fid]; ok {
		fc.index.Delete(item)
		delete(fc.indexed, fid)
	}
}

func (fc *FeatureClass) unindex(fid int64) {
	fc.mu.Lock()
	fc.unindexLocked(fid)
	fc.mu.Unlock()
}

// fidsIn returns the ids of features whose envelope intersects env.
func (fc *FeatureClass) fidsIn(env Envelope) []int64 {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	found := fc.index.SearchIntersect(env.rect())
	out := make([]int64, 0, len(found))
	for _, s := range found {
		out = append(out, s.(*indexedFeature).fid)
	}
	return out
}

// FeaturesIn calls fn for each feature whose geometry intersects env until
// fn returns false.
func (fc *FeatureClass) FeaturesIn(env Envelope, fn func(*Feature) bool) error {
	fids := fc.fidsIn(env)
	if len(fids) == 0 {
		return nil
	}
	bound := env.Bound()
	stop := false
	for start := 0; start < len(fids) && !stop; start += fidChunk {
		end := start + fidChunk
		if end > len(fids) {
			end = len(fids)
		}
		chunk := fids[start:end]
		marks := make([]string, len(chunk))
		args := make([]interface{}, len(chunk))
		for i, fid := range chunk {
			marks[i] = "?"
			args[i] = fid
		}
		where := FIDColumn + " IN (" + strings.Join(marks, ",") + ")"
		err := fc.query(where, args, func(f *Feature) bool {
			if f.Geometry == nil || !geometryIntersects(f.Geometry, bound) {
				return true
			}
			if !fn(f) {
				stop = true
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// geometryIntersects is exact for points and an envelope test otherwise.
func geometryIntersects(g orb.Geometry, b orb.Bound) bool {
	if !b.Intersects(g.Bound()) {
		return false
	}
	switch g := g.(type) {
	case orb.Point:
		return b.Contains(g)
	case orb.MultiPoint:
		for _, p := range g {
			if b.Contains(p) {
				return true
			}
		}
		return false
	}
	return true
}

// featureListener

// placeFeature indexes f and grows the extent, or drops f from the index
// when its geometry is empty.
func (fc *FeatureClass) placeFeature(f *Feature) error {
	env, ok := geometryBounds(f.Geometry)
	if !ok {
		fc.unindex(f.FID)
		return nil
	}
	fc.indexFeature(f.FID, env)

	fc.mu.Lock()
	if fc.hasExtent {
		fc.extent = fc.extent.Extend(env)
	} else {
		fc.extent, fc.hasExtent = env, true
	}
	fc.mu.Unlock()
	return fc.ds.locked(func() error { return fc.ds.updateExtent(fc.def.name, env) })
}

func (fc *FeatureClass) featureInserted(f *Feature) error {
	if err := fc.placeFeature(f); err != nil {
		return err
	}
	if fc.ds.IsBatchOperation() || !fc.HasOverviews() {
		return nil
	}
	return fc.overviewInsert(f)
}

func (fc *FeatureClass) featureUpdated(old, f *Feature) error {
	if err := fc.placeFeature(f); err != nil {
		return err
	}
	if fc.ds.IsBatchOperation() || !fc.HasOverviews() {
		return nil
	}
	return fc.overviewUpdate(old, f)
}

func (fc *FeatureClass) featureDeleted(old *Feature) error {
	fc.unindex(old.FID)
	if fc.ds.IsBatchOperation() || !fc.HasOverviews() {
		return nil
	}
	return fc.overviewDelete(old)
}

func (fc *FeatureClass) featuresDeleted() error {
	fc.mu.Lock()
	fc.extent, fc.hasExtent = Envelope{}, false
	fc.index = rtreego.NewTree(2, 25, 50)
	fc.indexed = map[int64]*indexedFeature{}
	fc.mu.Unlock()

	if err := fc.ds.locked(func() error { return fc.ds.setExtent(fc.def.name, nil) }); err != nil {
		return err
	}
	if !fc.ds.HasOverviewsTable(fc.def.name) {
		return nil
	}
	return fc.ds.ClearOverviewsTable(fc.def.name)
}
