package ngstore

import "github.com/pkg/errors"

// TileMatrix describes one generated overview level of a feature class.
type TileMatrix struct {
	Name         string  `sql:"type:text" gorm:"column:table_name;not null"`
	ZoomLevel    int8    `gorm:"column:zoom_level;not null"`
	MatrixWidth  uint64  `gorm:"column:matrix_width;not null"`
	MatrixHeight uint64  `gorm:"column:matrix_height;not null"`
	TileWidth    uint32  `gorm:"column:tile_width;not null"`
	TileHeight   uint32  `gorm:"column:tile_height;not null"`
	PixelXSize   float64 `gorm:"column:pixel_x_size;not null"`
	PixelYSize   float64 `gorm:"column:pixel_y_size;not null"`
}

func (TileMatrix) TableName() string {
	return systemTablePrefix + "tile_matrix"
}

func NewTileMatrices(tableName string, zoomLevels []uint8) []TileMatrix {
	tms := make([]TileMatrix, 0, len(zoomLevels))
	for _, z := range zoomLevels {
		grids := uint64(1) << z
		res := PixelSize(int(z))

		tms = append(tms, TileMatrix{
			Name:         tableName,
			ZoomLevel:    int8(z),
			MatrixWidth:  grids,
			MatrixHeight: grids,
			TileWidth:    TileSize,
			TileHeight:   TileSize,
			PixelXSize:   res,
			PixelYSize:   res,
		})
	}
	return tms
}

// TileMatrices returns the overview levels stored for a feature class ordered
// by zoom.
func (ds *DataStore) TileMatrices(tableName string) ([]TileMatrix, error) {
	tms := make([]TileMatrix, 0)
	err := ds.DB.Where("table_name = ?", tableName).Order("zoom_level").Find(&tms).Error
	return tms, err
}

// saveTileMatrixSet replaces the overview levels and bounds of a feature
// class in one transaction.
func (ds *DataStore) saveTileMatrixSet(tms *TileMatrixSet, ts []TileMatrix) error {
	tx := ds.DB.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	if err := tx.Where("table_name = ?", tms.Name).Delete(TileMatrix{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Save(tms).Error; err != nil {
		tx.Rollback()
		return err
	}

	for i := range ts {
		if err := tx.Create(&ts[i]).Error; err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "Error saving zoom level %d", ts[i].ZoomLevel)
		}
	}

	return tx.Commit().Error
}

func (ds *DataStore) deleteTileMatrixSet(tableName string) error {
	if err := ds.DB.Where("table_name = ?", tableName).Delete(TileMatrix{}).Error; err != nil {
		return err
	}
	return ds.DB.Where("table_name = ?", tableName).Delete(TileMatrixSet{}).Error
}
