package ngstore

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const maxZoom = 30

func zoomLevelsKey(name string) string { return name + ".zoom_levels" }

// ParseZoomLevels reads a comma separated list of zoom levels. Invalid and
// out of range values are dropped, the result is sorted and unique.
func ParseZoomLevels(list string) []uint8 {
	seen := map[uint8]bool{}
	var out []uint8
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		z, err := strconv.Atoi(part)
		if err != nil || z < 0 || z > maxZoom {
			continue
		}
		if !seen[uint8(z)] {
			seen[uint8(z)] = true
			out = append(out, uint8(z))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func formatZoomLevels(zooms []uint8) string {
	parts := make([]string, len(zooms))
	for i, z := range zooms {
		parts[i] = strconv.Itoa(int(z))
	}
	return strings.Join(parts, ",")
}

type tiledItem struct {
	tile Tile
	item VectorTileItem
}

type tilingResult struct {
	fid   int64
	items []tiledItem
	err   error
}

// tileFeature tiles one geometry for every zoom level. Zooms are walked from
// the highest so that each level simplifies the previous result.
func tileFeature(fid int64, g orb.Geometry, zooms []uint8) ([]tiledItem, error) {
	var out []tiledItem
	if g == nil || isEmptyGeometry(g) {
		return out, nil
	}
	env := GeometryEnvelope(g)
	for i := len(zooms) - 1; i >= 0; i-- {
		z := zooms[i]
		step := PixelSize(int(z))
		g = generalize(g, step)
		if g == nil || isEmptyGeometry(g) {
			break
		}
		for _, ti := range TilesForExtent(ExtraExtentForZoom(z, env), z, false, true) {
			item, err := TileGeometry(fid, g, ti.Env.Resize(TileResize), step)
			if err != nil {
				return out, errors.Wrapf(err, "feature %d tile %s", fid, ti.Tile)
			}
			if item.IsValid() {
				out = append(out, tiledItem{tile: ti.Tile, item: item})
			}
		}
	}
	return out, nil
}

// CreateOverviews tiles every feature at the ZOOM_LEVELS option and stores
// the tiles in the overview table. Existing overviews are kept unless FORCE
// is set. With CREATE_OVERVIEWS_TABLE only the empty table is prepared.
func (fc *FeatureClass) CreateOverviews(progress Progress, opts Options) error {
	if err := fc.ds.checkWritable(); err != nil {
		return err
	}
	force := opts.AsBool(OptionForce, false)
	if !force && fc.HasOverviews() {
		return nil
	}
	defer fc.ds.ctx.timer(metricOverviewsCreate).UpdateSince(time.Now())

	name := fc.def.name
	err := fc.ds.locked(func() error {
		if fc.ds.HasOverviewsTable(name) {
			if err := fc.ds.clearTable(overviewsTableName(name)); err != nil {
				return err
			}
		} else if err := fc.ds.createTable(createOverviewsTableSQL, overviewsTableName(name)); err != nil {
			return err
		}
		return fc.ds.dropOverviewsTableIndex(name)
	})
	if err != nil {
		return errors.Wrapf(ErrCreateFailed, "overviews table of %s: %v", name, err)
	}

	if opts.AsBool(OptionCreateOverviewsTable, false) {
		return fc.ds.locked(func() error { return fc.ds.createOverviewsTableIndex(name) })
	}

	zooms := ParseZoomLevels(opts.AsString(OptionZoomLevels, ""))
	if len(zooms) == 0 {
		fc.setZoomLevels(nil)
		return fc.ds.locked(func() error { return fc.ds.createOverviewsTableIndex(name) })
	}
	if err := fc.ds.SetProperty(zoomLevelsKey(name), formatZoomLevels(zooms)); err != nil {
		return errors.Wrap(err, "Error storing zoom levels")
	}
	fc.setZoomLevels(zooms)

	log := fc.log().WithField("zoom_levels", formatZoomLevels(zooms))
	log.Debug("start tiling and simplifying geometry")
	progress.report(CodeInProcess, 0, "Start tiling and simplifying geometry")
	fc.ds.ctx.logMemory(name)

	sp := newSteppedProgress(progress, 2)
	tiles, warnings, err := fc.tileFeatures(zooms, sp)
	if err != nil {
		return fc.abandonOverviews(err)
	}
	for _, w := range warnings {
		progress.report(CodeWarning, 0.5, "%s", w)
	}

	sp.setStep(1)
	if err := fc.saveTiles(tiles, sp); err != nil {
		return fc.abandonOverviews(err)
	}

	tms := NewTileMatrixSet(name)
	if ext, ok := fc.extentIfAny(); ok {
		tms.MinX, tms.MinY, tms.MaxX, tms.MaxY = &ext.MinX, &ext.MinY, &ext.MaxX, &ext.MaxY
	}
	err = fc.ds.locked(func() error { return fc.ds.saveTileMatrixSet(tms, NewTileMatrices(name, zooms)) })
	if err != nil {
		log.WithError(err).Warn("save tile matrix set")
	}

	log.WithField("tiles", len(tiles)).Debug("finish tiling and simplifying geometry")
	progress.report(CodeFinished, 1, "Finish tiling and simplifying geometry")
	return nil
}

// abandonOverviews empties the overview table after a failed or canceled
// build, restores its index and forgets the zoom levels, so the class reports
// no overviews and a later CreateOverviews starts over. cause is returned.
func (fc *FeatureClass) abandonOverviews(cause error) error {
	name := fc.def.name
	fc.setZoomLevels(nil)
	err := fc.ds.locked(func() error {
		if err := fc.ds.clearTable(overviewsTableName(name)); err != nil {
			return err
		}
		if err := fc.ds.createOverviewsTableIndex(name); err != nil {
			return err
		}
		_, err := fc.ds.exec(`DELETE FROM nga_meta WHERE "key" = ?`, zoomLevelsKey(name))
		return err
	})
	if err != nil {
		fc.log().WithError(err).Warn("reset overviews after failed build")
	}
	return cause
}

// tileFeatures runs the tiling pool over every feature. One goroutine owns
// the tile map, workers only produce items.
func (fc *FeatureClass) tileFeatures(zooms []uint8, sp *steppedProgress) (map[Tile]*VectorTile, []string, error) {
	count, err := fc.FeatureCount()
	if err != nil {
		return nil, nil, err
	}
	workers := fc.ds.ctx.workers()

	type job struct {
		fid int64
		geo orb.Geometry
	}
	jobs := make(chan job, workers*2)
	results := make(chan tilingResult, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				items, err := tileFeature(j.fid, j.geo, zooms)
				results <- tilingResult{fid: j.fid, items: items, err: err}
			}
		}()
	}

	tiles := map[Tile]*VectorTile{}
	var warnings []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range results {
			if r.err != nil {
				warnings = append(warnings, r.err.Error())
			}
			for _, ti := range r.items {
				vt, ok := tiles[ti.tile]
				if !ok {
					vt = &VectorTile{}
					tiles[ti.tile] = vt
				}
				vt.Add(ti.item, true)
			}
		}
	}()

	canceled := false
	var read int64
	fc.featureMu.Lock()
	err = fc.Features(func(f *Feature) bool {
		read++
		if count > 0 && !sp.report(CodeInProcess, float64(read)/float64(count), "Tiling feature %d", f.FID) {
			canceled = true
			return false
		}
		if f.Geometry != nil {
			jobs <- job{fid: f.FID, geo: f.Geometry}
		}
		return true
	})
	fc.featureMu.Unlock()

	close(jobs)
	wg.Wait()
	close(results)
	<-done

	if err != nil {
		return nil, nil, errors.Wrapf(err, "Error reading features of %s", fc.def.name)
	}
	if canceled {
		return nil, nil, ErrCanceled
	}
	return tiles, warnings, nil
}

// saveTiles writes the tiles in one transaction and recreates the overview
// index.
func (fc *FeatureClass) saveTiles(tiles map[Tile]*VectorTile, sp *steppedProgress) error {
	name := fc.def.name
	keys := make([]Tile, 0, len(tiles))
	for t := range tiles {
		keys = append(keys, t)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})

	return fc.ds.locked(func() error {
		tx, err := fc.ds.DB.DB().Begin()
		if err != nil {
			return errors.Wrap(err, "Error starting tile transaction")
		}
		stmt, err := tx.Prepare(`INSERT INTO "` + overviewsTableName(name) + `" (x, y, z, tile) VALUES (?,?,?,?)`)
		if err != nil {
			tx.Rollback()
			return errors.Wrap(err, "Error preparing tile insert")
		}

		saved := fc.ds.ctx.counter(metricTilesSaved)
		failed := fc.ds.ctx.counter(metricTilesFailed)
		for i, t := range keys {
			vt := tiles[t]
			if !vt.IsValid() || vt.Empty() {
				continue
			}
			if _, err := stmt.Exec(t.X, t.Y, int(t.Z), vt.Save()); err != nil {
				failed.Inc(1)
				fc.log().WithError(err).WithField("tile", t.String()).Warn("insert tile failed")
				sp.progress.report(CodeWarning, 0.5, "Insert tile %s failed", t)
				continue
			}
			saved.Inc(1)
			if !sp.report(CodeInProcess, float64(i+1)/float64(len(keys)), "Save tiles %d of %d", i+1, len(keys)) {
				stmt.Close()
				tx.Rollback()
				return ErrCanceled
			}
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return errors.Wrap(err, "Error committing tiles")
		}
		return fc.ds.createOverviewsTableIndex(name)
	})
}

// nearestZoom returns the stored zoom level closest to z. Ties go to the
// smaller level.
func nearestZoom(zooms []uint8, z uint8) uint8 {
	best := zooms[0]
	bestDiff := absDiff(best, z)
	for _, level := range zooms[1:] {
		if d := absDiff(level, z); d < bestDiff {
			best, bestDiff = level, d
		}
	}
	return best
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// GetTile returns the content of tile. Stored overviews are used for zooms
// up to the highest stored level, other zooms are tiled from the features.
func (fc *FeatureClass) GetTile(tile Tile, tileExtent Envelope) (*VectorTile, error) {
	vt := &VectorTile{}
	if !fc.Extent().Intersects(tileExtent) {
		return vt, nil
	}

	zooms := fc.ZoomLevels()
	if len(zooms) > 0 && tile.Z <= zooms[len(zooms)-1] && fc.ds.HasOverviewsTable(fc.def.name) {
		stored := tile
		stored.Z = nearestZoom(zooms, tile.Z)
		data, err := fc.ds.GetTile(fc.def.name, stored)
		if err != nil {
			return nil, errors.Wrapf(err, "Error reading tile %s", stored)
		}
		if len(data) > 0 {
			cached, err := DecodeVectorTile(data)
			if err != nil {
				fc.log().WithError(err).WithField("tile", stored.String()).Warn("stored tile is broken")
			} else if cached.IsValid() {
				fc.ds.ctx.counter(metricTileCached).Inc(1)
				return cached, nil
			}
		}
	}

	fc.ds.ctx.counter(metricTileFly).Inc(1)
	ext := tileExtent.Resize(TileResize)
	step := PixelSize(int(tile.Z))
	log := fc.log().WithField("tile", tile.String())
	log.Debug("tiling on the fly")

	fc.featureMu.Lock()
	defer fc.featureMu.Unlock()
	err := fc.FeaturesIn(ext, func(f *Feature) bool {
		item, err := TileGeometry(f.FID, generalize(f.Geometry, step), ext, step)
		if err != nil {
			log.WithError(err).WithField("fid", f.FID).Warn("tile geometry")
			return true
		}
		vt.Add(item, false)
		return true
	})
	if err != nil {
		return nil, err
	}
	return vt, nil
}

// Incremental maintenance of stored tiles. Each hook runs after the feature
// row was written.

func (fc *FeatureClass) overviewInsert(f *Feature) error {
	items, err := tileFeature(f.FID, f.Geometry, fc.ZoomLevels())
	if err != nil {
		return err
	}
	return fc.updateTiles(items, nil)
}

func (fc *FeatureClass) overviewUpdate(old, f *Feature) error {
	zooms := fc.ZoomLevels()
	items, err := tileFeature(f.FID, f.Geometry, zooms)
	if err != nil {
		return err
	}
	removals := append(fc.tilesFor(old.Geometry, zooms, f.FID), fc.tilesFor(f.Geometry, zooms, f.FID)...)
	return fc.updateTiles(items, removals)
}

func (fc *FeatureClass) overviewDelete(old *Feature) error {
	return fc.updateTiles(nil, fc.tilesFor(old.Geometry, fc.ZoomLevels(), old.FID))
}

type tileRemoval struct {
	tile Tile
	fid  int64
}

func (fc *FeatureClass) tilesFor(g orb.Geometry, zooms []uint8, fid int64) []tileRemoval {
	env, ok := geometryBounds(g)
	if !ok {
		return nil
	}
	var out []tileRemoval
	for _, z := range zooms {
		for _, ti := range TilesForExtent(ExtraExtentForZoom(z, env), z, false, true) {
			out = append(out, tileRemoval{tile: ti.Tile, fid: fid})
		}
	}
	return out
}

// updateTiles removes fids from and adds items to the stored tiles. Tiles
// left without items are deleted. The whole load, edit and store cycle runs
// under tileMu so concurrent edits of one tile do not drop each other.
func (fc *FeatureClass) updateTiles(items []tiledItem, removals []tileRemoval) error {
	if len(items) == 0 && len(removals) == 0 {
		return nil
	}
	fc.tileMu.Lock()
	defer fc.tileMu.Unlock()

	name := fc.def.name
	changed := map[Tile]*VectorTile{}
	load := func(t Tile) (*VectorTile, error) {
		if vt, ok := changed[t]; ok {
			return vt, nil
		}
		data, err := fc.ds.GetTile(name, t)
		if err != nil {
			return nil, err
		}
		vt := &VectorTile{}
		if len(data) > 0 {
			if err := vt.Load(data); err != nil {
				fc.log().WithError(err).WithField("tile", t.String()).Warn("stored tile is broken, rebuilding")
				vt = &VectorTile{}
			}
		}
		changed[t] = vt
		return vt, nil
	}

	for _, r := range removals {
		vt, err := load(r.tile)
		if err != nil {
			return err
		}
		vt.Remove(r.fid)
	}
	for _, ti := range items {
		vt, err := load(ti.tile)
		if err != nil {
			return err
		}
		vt.Add(ti.item, true)
	}

	return fc.ds.locked(func() error {
		for t, vt := range changed {
			var err error
			if vt.IsValid() {
				err = fc.ds.storeTile(name, t, vt.Save())
			} else {
				err = fc.ds.deleteTile(name, t)
			}
			if err != nil {
				fc.log().WithError(err).WithFields(logrus.Fields{"tile": t.String()}).Warn("update stored tile")
				return err
			}
		}
		return nil
	})
}
