package ngstore

// TileMatrixSet holds the bounds and spatial reference of the overview tiles
// of a feature class.
type TileMatrixSet struct {
	Name                     string   `sql:"type:text" gorm:"column:table_name;not null;primary_key"`
	SpatialReferenceSystemId *int     `gorm:"column:srs_id;not null"`
	MinX                     *float64 `gorm:"column:min_x;not null"`
	MinY                     *float64 `gorm:"column:min_y;not null"`
	MaxX                     *float64 `gorm:"column:max_x;not null"`
	MaxY                     *float64 `gorm:"column:max_y;not null"`
}

func (TileMatrixSet) TableName() string {
	return systemTablePrefix + "tile_matrix_set"
}

func (tms TileMatrixSet) GetSpatialReferenceSystemId() int {
	if tms.SpatialReferenceSystemId == nil {
		return 0
	}
	return *tms.SpatialReferenceSystemId
}

func (tms TileMatrixSet) Extent() Envelope {
	if tms.MinX == nil || tms.MinY == nil || tms.MaxX == nil || tms.MaxY == nil {
		return Envelope{}
	}
	return Envelope{MinX: *tms.MinX, MinY: *tms.MinY, MaxX: *tms.MaxX, MaxY: *tms.MaxY}
}

// NewTileMatrixSet describes overview tiles in web mercator covering the
// whole world.
func NewTileMatrixSet(tableName string) *TileMatrixSet {
	bbox := DefaultBounds
	srsId := DefaultEPSG
	return &TileMatrixSet{Name: tableName, MinX: &bbox.MinX, MinY: &bbox.MinY, MaxX: &bbox.MaxX, MaxY: &bbox.MaxY, SpatialReferenceSystemId: &srsId}
}

func (ds *DataStore) GetTileMatrixSets() ([]TileMatrixSet, error) {
	tileMatrixSets := make([]TileMatrixSet, 0)
	err := ds.DB.Find(&tileMatrixSets).Error
	return tileMatrixSets, err
}
