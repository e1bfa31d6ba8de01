package ngstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

type SpatialReferenceSystem struct {
	Name                           string `gorm:"column:srs_name;not null"`
	SpatialReferenceSystemId       *int   `gorm:"column:srs_id;unique;not null;primary_key"`
	Organization                   string `gorm:"column:organization;not null" json:"org"`
	OrganizationCoordinateSystemId *int   `gorm:"column:organization_coordsys_id;not null" json:"org_id"`
	Definition                     string `gorm:"column:definition;not null" json:"def"`
	Description                    string `gorm:"column:description" json:"description"`
}

// Code returns the authority code, EPSG:3857 for example.
func (srs *SpatialReferenceSystem) Code() string {
	if len(srs.Organization) > 0 && srs.OrganizationCoordinateSystemId != nil {
		return strings.ToUpper(srs.Organization + ":" + strconv.Itoa(*srs.OrganizationCoordinateSystemId))
	}
	return ""
}

func (SpatialReferenceSystem) TableName() string {
	return systemTablePrefix + "spatial_ref_sys"
}

func NewSpatialReferenceSystem(epsg int) *SpatialReferenceSystem {
	return &SpatialReferenceSystem{Name: fmt.Sprintf("EPSG:%d", epsg), SpatialReferenceSystemId: &epsg, OrganizationCoordinateSystemId: &epsg, Organization: "epsg", Definition: "Not provided"}
}

func intPtr(v int) *int { return &v }

var defaultSpatialReferenceSystems = []SpatialReferenceSystem{
	{Name: "WGS 84 / Pseudo-Mercator", SpatialReferenceSystemId: intPtr(3857), OrganizationCoordinateSystemId: intPtr(3857), Organization: "epsg", Definition: `
	PROJCS["WGS 84 / Pseudo-Mercator",
    GEOGCS["WGS 84",
        DATUM["WGS_1984",
            SPHEROID["WGS 84",6378137,298.257223563,
                AUTHORITY["EPSG","7030"]],
            AUTHORITY["EPSG","6326"]],
        PRIMEM["Greenwich",0,
            AUTHORITY["EPSG","8901"]],
        UNIT["degree",0.0174532925199433,
            AUTHORITY["EPSG","9122"]],
        AUTHORITY["EPSG","4326"]],
    PROJECTION["Mercator_1SP"],
    PARAMETER["central_meridian",0],
    PARAMETER["scale_factor",1],
    PARAMETER["false_easting",0],
    PARAMETER["false_northing",0],
    UNIT["metre",1,
        AUTHORITY["EPSG","9001"]],
    AXIS["X",EAST],
    AXIS["Y",NORTH],
    EXTENSION["PROJ4","+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +wktext  +no_defs"],
    AUTHORITY["EPSG","3857"]]
	`},
	{Name: "WGS 84", SpatialReferenceSystemId: intPtr(4326), OrganizationCoordinateSystemId: intPtr(4326), Organization: "epsg", Definition: `
	GEOGCS["WGS 84",
    DATUM["WGS_1984",
        SPHEROID["WGS 84",6378137,298.257223563,
            AUTHORITY["EPSG","7030"]],
        AUTHORITY["EPSG","6326"]],
    PRIMEM["Greenwich",0,
        AUTHORITY["EPSG","8901"]],
    UNIT["degree",0.0174532925199433,
        AUTHORITY["EPSG","9122"]],
    AUTHORITY["EPSG","4326"]]
	`},
}

// DefaultSpatialReferenceSystems returns the systems every new store knows:
// web mercator, used by overviews, and WGS 84.
func DefaultSpatialReferenceSystems() []SpatialReferenceSystem {
	out := make([]SpatialReferenceSystem, len(defaultSpatialReferenceSystems))
	copy(out, defaultSpatialReferenceSystems)
	sort.Slice(out, func(i, j int) bool {
		return *out[i].SpatialReferenceSystemId < *out[j].SpatialReferenceSystemId
	})
	return out
}

// UpdateSRS stores the systems that are not yet known.
func (ds *DataStore) UpdateSRS(srss ...SpatialReferenceSystem) error {
	const (
		UpdateSQL = `
	INSERT INTO nga_spatial_ref_sys(
		srs_name,
		srs_id,
		organization,
		organization_coordsys_id,
		definition,
		description
	)
	VALUES %v
    ON CONFLICT(srs_id) DO NOTHING;
	`
		placeHolders = `(?,?,?,?,?,?) `
	)
	if len(srss) == 0 {
		return nil
	}

	valuePlaceHolder := strings.Join(
		strings.SplitN(
			strings.Repeat(placeHolders, len(srss)),
			" ",
			len(srss),
		),
		",",
	)
	updateSQL := fmt.Sprintf(UpdateSQL, valuePlaceHolder)
	values := make([]interface{}, 0, len(srss)*6)

	for _, srs := range srss {
		values = append(
			values,
			srs.Name,
			srs.SpatialReferenceSystemId,
			srs.Organization,
			srs.OrganizationCoordinateSystemId,
			strings.TrimSpace(srs.Definition),
			srs.Description,
		)
	}
	return ds.locked(func() error {
		_, err := ds.exec(updateSQL, values...)
		return err
	})
}

func (ds *DataStore) GetSpatialReferenceSystem(srsID int) (SpatialReferenceSystem, error) {
	srs := SpatialReferenceSystem{}
	err := ds.DB.Where("srs_id = ?", srsID).First(&srs).Error
	if gorm.IsRecordNotFoundError(err) {
		return srs, errors.Wrapf(ErrNotFound, "spatial reference system %d", srsID)
	}
	return srs, err
}

// ensureSRS registers srsID when it is missing, falling back to a stub
// definition for unknown codes.
func (ds *DataStore) ensureSRS(srsID int) error {
	if _, err := ds.GetSpatialReferenceSystem(srsID); err == nil {
		return nil
	} else if errors.Cause(err) != ErrNotFound {
		return err
	}
	for _, srs := range defaultSpatialReferenceSystems {
		if *srs.SpatialReferenceSystemId == srsID {
			return ds.UpdateSRS(srs)
		}
	}
	return ds.UpdateSRS(*NewSpatialReferenceSystem(srsID))
}
