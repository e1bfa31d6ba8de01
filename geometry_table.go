package ngstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	FIDColumn          = "fid"
	RIDColumn          = "rid"
	GeometryColumnName = "geom"
)

// FieldType is the storage type of a user field.
type FieldType int

const (
	FieldInteger FieldType = iota
	FieldReal
	FieldString
	FieldDate
	FieldBinary
)

func (t FieldType) String() string {
	switch t {
	case FieldInteger:
		return "integer"
	case FieldReal:
		return "real"
	case FieldString:
		return "string"
	case FieldDate:
		return "date"
	case FieldBinary:
		return "binary"
	}
	return "unknown"
}

func (t FieldType) sqlType() string {
	switch t {
	case FieldInteger:
		return "INTEGER"
	case FieldReal:
		return "REAL"
	case FieldDate:
		return "DATETIME"
	case FieldBinary:
		return "BLOB"
	}
	return "TEXT"
}

func fieldTypeOf(ctype string) FieldType {
	ctype = strings.ToLower(ctype)
	switch {
	case strings.Contains(ctype, "int"):
		return FieldInteger
	case strings.Contains(ctype, "real"), strings.Contains(ctype, "floa"), strings.Contains(ctype, "doub"):
		return FieldReal
	case strings.Contains(ctype, "date"), strings.Contains(ctype, "time"):
		return FieldDate
	case strings.Contains(ctype, "blob"):
		return FieldBinary
	}
	return FieldString
}

// Field is a user defined column.
type Field struct {
	Name string
	Type FieldType
}

func validateFields(fields []Field) error {
	seen := map[string]bool{}
	for _, f := range fields {
		name := strings.ToLower(f.Name)
		switch {
		case name == "":
			return errors.Wrap(ErrInvalid, "empty field name")
		case strings.ContainsAny(name, "\"'`[]"):
			return errors.Wrapf(ErrInvalid, "field name %q", f.Name)
		case name == FIDColumn || name == RIDColumn || name == GeometryColumnName:
			return errors.Wrapf(ErrInvalid, "field name %q is reserved", f.Name)
		case seen[name]:
			return errors.Wrapf(ErrInvalid, "duplicate field %q", f.Name)
		}
		seen[name] = true
	}
	return nil
}

// changeColumnValue converts val to the Go type stored for a field of type t.
// Values that cannot be converted become nil.
func changeColumnValue(val interface{}, t FieldType) interface{} {
	if val == nil {
		return nil
	}
	switch t {
	case FieldString:
		switch v := val.(type) {
		case string:
			return v
		case []byte:
			return string(v)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case int32:
			return strconv.Itoa(int(v))
		case uint64:
			return strconv.FormatUint(v, 10)
		case uint32:
			return strconv.Itoa(int(v))
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		default:
			data, _ := json.Marshal(val)
			return string(data)
		}
	case FieldInteger:
		switch v := val.(type) {
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil
			}
			return i
		case bool:
			if v {
				return int64(1)
			}
			return int64(0)
		case int:
			return int64(v)
		case int64:
			return v
		case int32:
			return int64(v)
		case uint64:
			return int64(v)
		case uint32:
			return int64(v)
		case float32:
			return int64(v)
		case float64:
			return int64(v)
		}
	case FieldReal:
		switch v := val.(type) {
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil
			}
			return f
		case int:
			return float64(v)
		case int64:
			return float64(v)
		case int32:
			return float64(v)
		case uint64:
			return float64(v)
		case uint32:
			return float64(v)
		case float32:
			return float64(v)
		case float64:
			return v
		}
	case FieldDate:
		switch v := val.(type) {
		case time.Time:
			return v
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
				if tm, err := time.Parse(layout, v); err == nil {
					return tm
				}
			}
		}
	case FieldBinary:
		switch v := val.(type) {
		case []byte:
			return v
		case string:
			return []byte(v)
		default:
			data, _ := json.Marshal(val)
			return data
		}
	}

	return nil
}

type column struct {
	cid       int
	name      string
	ctype     string
	notnull   int
	dfltValue *string
	pk        int
}

// table is the layout of a user table: the fid and rid columns, the user
// fields and, for feature classes, the geometry column.
type table struct {
	name    string
	fields  []Field
	gcolumn string
	gtype   GeometryType
	srs     int
}

func (t table) hasGeometry() bool { return t.gcolumn != "" }

func quote(name string) string { return `"` + name + `"` }

func (t table) fieldIndex(name string) int {
	for i, f := range t.fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

func (t table) createSQL() string {
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%v"`, t.name)
	columnparts := []string{
		FIDColumn + ` INTEGER PRIMARY KEY AUTOINCREMENT`,
		RIDColumn + ` INTEGER NOT NULL DEFAULT -1`,
	}
	for _, f := range t.fields {
		columnparts = append(columnparts, quote(f.Name)+` `+f.Type.sqlType())
	}
	if t.hasGeometry() {
		columnparts = append(columnparts, quote(t.gcolumn)+` BLOB`)
	}

	query := create + `(` + strings.Join(columnparts, `, `) + `);`
	return query
}

func (t table) columnNames() []string {
	csql := []string{FIDColumn, RIDColumn}
	for _, f := range t.fields {
		csql = append(csql, quote(f.Name))
	}
	if t.hasGeometry() {
		csql = append(csql, quote(t.gcolumn))
	}
	return csql
}

func (t table) selectSQL() string {
	return `SELECT ` + strings.Join(t.columnNames(), `,`) + ` FROM "` + t.name + `"`
}

func (t table) insertSQL(withFID bool) string {
	csql := t.columnNames()
	if !withFID {
		csql = csql[1:]
	}
	vsql := make([]string, len(csql))
	for i := range vsql {
		vsql[i] = `?`
	}
	query := `INSERT INTO "` + t.name + `"(` + strings.Join(csql, `,`) + `) VALUES(` + strings.Join(vsql, `,`) + `)`
	return query
}

func (t table) updateSQL() string {
	var sets []string
	for _, c := range t.columnNames()[1:] {
		sets = append(sets, c+` = ?`)
	}
	return `UPDATE "` + t.name + `" SET ` + strings.Join(sets, `, `) + ` WHERE ` + FIDColumn + ` = ?`
}

func (ds *DataStore) getTableColumns(table string) ([]column, error) {
	var columns []column
	query := `PRAGMA table_info('%v');`
	rows, err := ds.DB.DB().Query(fmt.Sprintf(query, table))
	if err != nil {
		return nil, errors.Wrapf(err, "Error reading columns of %s", table)
	}
	defer rows.Close()

	for rows.Next() {
		var column column
		err := rows.Scan(&column.cid, &column.name, &column.ctype, &column.notnull, &column.dfltValue, &column.pk)
		if err != nil {
			return nil, errors.Wrap(err, "Error getting the column information")
		}
		columns = append(columns, column)
	}
	return columns, rows.Err()
}

// tableFromColumns rebuilds the layout of an existing table.
func tableFromColumns(name string, columns []column, c Content) table {
	t := table{name: name, srs: c.SpatialReferenceSystemId}
	if c.Kind() == KindFeatureClass {
		t.gcolumn = c.GeometryColumn
		if t.gcolumn == "" {
			t.gcolumn = GeometryColumnName
		}
		t.gtype = GeometryType(c.GeometryType)
	}
	for _, col := range columns {
		switch strings.ToLower(col.name) {
		case FIDColumn, RIDColumn, strings.ToLower(t.gcolumn):
			continue
		}
		t.fields = append(t.fields, Field{Name: col.name, Type: fieldTypeOf(col.ctype)})
	}
	return t
}
