package ngstore

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

const (
	DataTypeFeatures   = "features"
	DataTypeAttributes = "attributes"
)

// ObjectKind tells a plain table from a feature class.
type ObjectKind int

const (
	KindUnknown ObjectKind = iota
	KindTable
	KindFeatureClass
)

func (k ObjectKind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindFeatureClass:
		return "feature class"
	}
	return "unknown"
}

// Object is a named member of a store. Use Kind to pick the concrete type:
// *Table for KindTable, *FeatureClass for KindFeatureClass.
type Object interface {
	Name() string
	Kind() ObjectKind
}

type Content struct {
	ContentTableName         string     `sql:"type:text" gorm:"column:table_name;unique;not null;primary_key"`
	DataType                 string     `sql:"type:text" gorm:"column:data_type;not null"`
	Identifier               string     `sql:"type:text" gorm:"column:identifier"`
	Description              string     `sql:"type:text" gorm:"column:description;default:''"`
	GeometryColumn           string     `sql:"type:text" gorm:"column:geometry_column"`
	GeometryType             string     `sql:"type:text" gorm:"column:geometry_type"`
	LastChange               *time.Time `gorm:"column:last_change;not null"`
	MinX                     *float64   `gorm:"column:min_x"`
	MinY                     *float64   `gorm:"column:min_y"`
	MaxX                     *float64   `gorm:"column:max_x"`
	MaxY                     *float64   `gorm:"column:max_y"`
	SpatialReferenceSystemId int        `gorm:"column:srs_id"`
}

func (Content) TableName() string {
	return systemTablePrefix + "contents"
}

func (c Content) Kind() ObjectKind {
	switch c.DataType {
	case DataTypeFeatures:
		return KindFeatureClass
	case DataTypeAttributes:
		return KindTable
	}
	return KindUnknown
}

// Extent returns the stored extent or the zero envelope when none is set.
func (c Content) Extent() Envelope {
	if !c.HasExtent() {
		return Envelope{}
	}
	return Envelope{MinX: *c.MinX, MinY: *c.MinY, MaxX: *c.MaxX, MaxY: *c.MaxY}
}

func (c Content) HasExtent() bool {
	return c.MinX != nil && c.MinY != nil && c.MaxX != nil && c.MaxY != nil
}

func newContent(def table) *Content {
	now := time.Now()
	c := &Content{
		ContentTableName:         def.name,
		DataType:                 DataTypeAttributes,
		Identifier:               def.name,
		LastChange:               &now,
		SpatialReferenceSystemId: def.srs,
	}
	if def.hasGeometry() {
		c.DataType = DataTypeFeatures
		c.GeometryColumn = def.gcolumn
		c.GeometryType = string(def.gtype)
	}
	return c
}

func (ds *DataStore) content(name string) (Content, error) {
	var c Content
	err := ds.DB.Where("table_name = ?", name).First(&c).Error
	if gorm.IsRecordNotFoundError(err) {
		return c, errors.Wrapf(ErrNotFound, "object %s", name)
	}
	return c, err
}

// Contents lists the registered tables and feature classes.
func (ds *DataStore) Contents() ([]Content, error) {
	contents := make([]Content, 0)
	err := ds.DB.Order("table_name").Find(&contents).Error
	return contents, err
}

// updateExtent grows the stored extent of a feature class by the envelope
// of a non-empty geometry.
func (ds *DataStore) updateExtent(name string, extent Envelope) error {
	var (
		minx,
		miny,
		maxx,
		maxy *float64
	)
	const (
		selectSQL = `
		SELECT
			min_x,
			min_y,
			max_x,
			max_y
		FROM
			nga_contents
		WHERE
			table_name = ?
		`
	)
	err := ds.DB.DB().QueryRow(selectSQL, name).Scan(&minx, &miny, &maxx, &maxy)
	if err != nil {
		return err
	}
	ext := extent
	if minx != nil && miny != nil && maxx != nil && maxy != nil {
		ext = Envelope{MinX: *minx, MinY: *miny, MaxX: *maxx, MaxY: *maxy}.Extend(extent)
	}
	return ds.setExtent(name, &ext)
}

// setExtent replaces the stored extent. A nil extent clears it.
func (ds *DataStore) setExtent(name string, ext *Envelope) error {
	const (
		updateSQL = `
		UPDATE nga_contents
		SET
			min_x = ?,
			min_y = ?,
			max_x = ?,
			max_y = ?,
			last_change = ?
		WHERE
			table_name = ?
		`
	)
	var args []interface{}
	if ext != nil {
		args = []interface{}{ext.MinX, ext.MinY, ext.MaxX, ext.MaxY}
	} else {
		args = []interface{}{nil, nil, nil, nil}
	}
	args = append(args, time.Now(), name)
	_, err := ds.exec(updateSQL, args...)
	return err
}

func validObjectName(name string) error {
	if name == "" || strings.ContainsAny(name, "\"'`[]") {
		return errors.Wrapf(ErrInvalid, "object name %q", name)
	}
	if strings.HasPrefix(strings.ToLower(name), systemTablePrefix) ||
		strings.HasPrefix(strings.ToLower(name), "sqlite_") {
		return errors.Wrapf(ErrInvalid, "object name %q is reserved", name)
	}
	return nil
}

func (ds *DataStore) createObject(def table) error {
	if err := ds.checkWritable(); err != nil {
		return err
	}
	if err := validObjectName(def.name); err != nil {
		return err
	}
	if err := validateFields(def.fields); err != nil {
		return err
	}
	if def.hasGeometry() {
		if err := ds.ensureSRS(def.srs); err != nil {
			return errors.Wrap(err, "Error registering spatial reference system")
		}
	}
	return ds.locked(func() error {
		if ds.verifyTable(def.name) {
			return errors.Wrapf(ErrCreateFailed, "table %s already exists", def.name)
		}
		if _, err := ds.exec(def.createSQL()); err != nil {
			return errors.Wrapf(ErrCreateFailed, "table %s: %v", def.name, err)
		}
		if err := ds.DB.Create(newContent(def)).Error; err != nil {
			return errors.Wrapf(ErrCreateFailed, "register %s: %v", def.name, err)
		}
		return nil
	})
}

// CreateTable creates a table without geometry. With LOG_EDIT_HISTORY=ON the
// table starts logging its edits.
func (ds *DataStore) CreateTable(name string, fields []Field, opts Options) (*Table, error) {
	def := table{name: name, fields: fields}
	if err := ds.createObject(def); err != nil {
		return nil, err
	}
	t := newTable(ds, def)
	if err := t.applyCreateOptions(opts); err != nil {
		return nil, err
	}
	ds.objects.Store(name, t)
	return t, nil
}

// CreateFeatureClass creates a table with a geometry column of type gtype in
// the spatial reference srs.
func (ds *DataStore) CreateFeatureClass(name string, gtype GeometryType, srs int, fields []Field, opts Options) (*FeatureClass, error) {
	if gtype == GeometryNone {
		return nil, errors.Wrap(ErrInvalid, "feature class needs a geometry type")
	}
	def := table{name: name, fields: fields, gcolumn: GeometryColumnName, gtype: gtype, srs: srs}
	if err := ds.createObject(def); err != nil {
		return nil, err
	}
	fc, err := newFeatureClass(ds, def, Content{})
	if err != nil {
		return nil, err
	}
	if err := fc.applyCreateOptions(opts); err != nil {
		return nil, err
	}
	ds.objects.Store(name, fc)
	return fc, nil
}

// Object opens a registered table or feature class.
func (ds *DataStore) Object(name string) (Object, error) {
	if obj, ok := ds.objects.Load(name); ok {
		return obj, nil
	}
	c, err := ds.content(name)
	if err != nil {
		return nil, err
	}
	columns, err := ds.getTableColumns(name)
	if err != nil {
		return nil, err
	}
	def := tableFromColumns(name, columns, c)

	var obj Object
	switch c.Kind() {
	case KindTable:
		obj = newTable(ds, def)
	case KindFeatureClass:
		fc, err := newFeatureClass(ds, def, c)
		if err != nil {
			return nil, err
		}
		obj = fc
	default:
		return nil, errors.Wrapf(ErrUnsupported, "object %s of type %s", name, c.DataType)
	}
	actual, _ := ds.objects.LoadOrStore(name, obj)
	return actual, nil
}

// Table opens name as a table. Feature classes are returned through their
// table part.
func (ds *DataStore) Table(name string) (*Table, error) {
	obj, err := ds.Object(name)
	if err != nil {
		return nil, err
	}
	switch obj.Kind() {
	case KindTable:
		return obj.(*Table), nil
	case KindFeatureClass:
		return obj.(*FeatureClass).Table, nil
	}
	return nil, errors.Wrapf(ErrInvalid, "%s is a %s", name, obj.Kind())
}

func (ds *DataStore) FeatureClass(name string) (*FeatureClass, error) {
	obj, err := ds.Object(name)
	if err != nil {
		return nil, err
	}
	if obj.Kind() != KindFeatureClass {
		return nil, errors.Wrapf(ErrInvalid, "%s is a %s", name, obj.Kind())
	}
	return obj.(*FeatureClass), nil
}

func (ds *DataStore) Objects() ([]Object, error) {
	contents, err := ds.Contents()
	if err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(contents))
	for _, c := range contents {
		obj, err := ds.Object(c.ContentTableName)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// DestroyObject drops a table or feature class together with its system
// tables, properties, overview levels and attachment files.
func (ds *DataStore) DestroyObject(name string) error {
	if err := ds.checkWritable(); err != nil {
		return err
	}
	if _, err := ds.content(name); err != nil {
		return err
	}
	err := ds.locked(func() error {
		for _, t := range []string{
			name,
			overviewsTableName(name),
			editLogTableName(name),
			attachmentsTableName(name),
			hashTableName(name),
		} {
			if err := ds.dropTable(t); err != nil {
				return err
			}
		}
		if err := ds.deleteProperties(name + "."); err != nil {
			return err
		}
		if err := ds.deleteTileMatrixSet(name); err != nil {
			return err
		}
		return ds.DB.Where("table_name = ?", name).Delete(Content{}).Error
	})
	if err != nil {
		return errors.Wrapf(err, "Error destroying %s", name)
	}
	ds.objects.Delete(name)
	if err := os.RemoveAll(filepath.Join(ds.AttachmentsPath(), name)); err != nil {
		ds.log().WithError(err).WithField("table", name).Warn("remove attachments folder")
	}
	return nil
}
