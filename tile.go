package ngstore

import (
	"fmt"
	"math"
)

const (
	DefaultMaxX = 20037508.34
	DefaultMaxY = 20037508.34
	DefaultMinX = -DefaultMaxX
	DefaultMinY = -DefaultMaxY

	// TileSize is the logical tile edge in pixels used for generalization.
	TileSize = 512
	// TileResize pads a tile extent before clipping.
	TileResize = 1.1
	// MaxTilesCount limits the tiles enumerated for one extent.
	MaxTilesCount = 4096
	// DefaultEPSG is the spatial reference of overview tiles.
	DefaultEPSG = 3857
)

// WorldWidth is the width of the doubled web mercator bounds.
var WorldWidth = DefaultBoundsX2.Width()

// Tile identifies a grid cell. Y grows from the bottom of the world.
type Tile struct {
	X int
	Y int
	Z uint8
}

func (t Tile) String() string { return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y) }

// TileItem is a tile together with its extent.
type TileItem struct {
	Tile Tile
	Env  Envelope
	// CrossExtent is -1 or 1 when the tile was wrapped across the
	// antimeridian.
	CrossExtent int8
}

// PixelSize returns the generalization step at zoom.
func PixelSize(zoom int) float64 {
	tilesInMapOneDim := float64(int64(1) << uint(zoom))
	return WorldWidth / (tilesInMapOneDim * TileSize)
}

func tileSizeOneDim(zoom uint8) float64 {
	halfTilesInMapOneDim := float64(int64(1)<<zoom) * 0.5
	return DefaultMaxX / halfTilesInMapOneDim
}

// TileExtent returns the extent of a tile.
func TileExtent(t Tile) Envelope {
	if t.Z == 0 {
		return DefaultBounds
	}
	size := tileSizeOneDim(t.Z)
	minX := DefaultMinX + float64(t.X)*size
	minY := DefaultMinY + float64(t.Y)*size
	return Envelope{MinX: minX, MinY: minY, MaxX: minX + size, MaxY: minY + size}
}

// ExtraExtentForZoom pads env by the part of a tile that TileResize adds.
func ExtraExtentForZoom(zoom uint8, env Envelope) Envelope {
	size := tileSizeOneDim(zoom)
	extra := size*TileResize - size
	return Envelope{
		MinX: env.MinX - extra,
		MinY: env.MinY - extra,
		MaxX: env.MaxX + extra,
		MaxY: env.MaxY + extra,
	}
}

// TilesForExtent enumerates tiles intersecting extent at zoom, column by
// column from the bottom left corner. With reverseY rows are counted from
// the top. With unlimitX columns outside the world wrap around.
func TilesForExtent(extent Envelope, zoom uint8, reverseY, unlimitX bool) []TileItem {
	if zoom == 0 {
		return []TileItem{{Tile: Tile{Z: 0}, Env: DefaultBounds}}
	}

	tilesInMapOneDim := int(int64(1) << zoom)
	halfTilesInMapOneDim := float64(tilesInMapOneDim) * 0.5
	size := DefaultMaxX / halfTilesInMapOneDim

	begX := int(math.Floor(extent.MinX/size + halfTilesInMapOneDim))
	begY := int(math.Floor(extent.MinY/size + halfTilesInMapOneDim))
	endX := int(math.Ceil(extent.MaxX/size+halfTilesInMapOneDim)) + 1
	endY := int(math.Ceil(extent.MaxY/size+halfTilesInMapOneDim)) + 1
	if begY == endY {
		endY++
	}
	if begX == endX {
		endX++
	}
	if begY < 0 {
		begY = 0
	}
	if endY > tilesInMapOneDim {
		endY = tilesInMapOneDim
	}
	if !unlimitX {
		if begX < 0 {
			begX = 0
		}
		if endX > tilesInMapOneDim {
			endX = tilesInMapOneDim
		}
	}

	var result []TileItem
	for x := begX; x < endX; x++ {
		for y := begY; y < endY; y++ {
			realX := x
			var cross int8
			if realX < 0 {
				cross = -1
				realX += tilesInMapOneDim
			} else if realX >= tilesInMapOneDim {
				cross = 1
				realX -= tilesInMapOneDim
			}

			realY := y
			if reverseY {
				realY = tilesInMapOneDim - y - 1
			}
			if realY < 0 || realY >= tilesInMapOneDim {
				continue
			}

			minX := DefaultMinX + float64(realX)*size
			minY := DefaultMinY + float64(realY)*size
			result = append(result, TileItem{
				Tile:        Tile{X: realX, Y: realY, Z: zoom},
				Env:         Envelope{MinX: minX, MinY: minY, MaxX: minX + size, MaxY: minY + size},
				CrossExtent: cross,
			})
			if len(result) > MaxTilesCount {
				return result
			}
		}
	}
	return result
}
