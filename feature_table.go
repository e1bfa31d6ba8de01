package ngstore

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb"
)

// Feature is one row of a table. Geometry is nil for plain tables.
type Feature struct {
	FID      int64
	RID      int64
	Geometry orb.Geometry
	Fields   map[string]interface{}
}

func NewFeature() *Feature {
	return &Feature{FID: NotFound, RID: NotFound, Fields: map[string]interface{}{}}
}

func (f *Feature) SetField(name string, value interface{}) *Feature {
	if f.Fields == nil {
		f.Fields = map[string]interface{}{}
	}
	f.Fields[name] = value
	return f
}

func (f *Feature) Field(name string) (interface{}, bool) {
	if v, ok := f.Fields[name]; ok {
		return v, true
	}
	for k, v := range f.Fields {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func (f *Feature) FieldAsString(name string) string {
	v, ok := f.Field(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := changeColumnValue(v, FieldString).(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Envelope returns the extent of the geometry.
func (f *Feature) Envelope() Envelope {
	if f == nil {
		return Envelope{}
	}
	return GeometryEnvelope(f.Geometry)
}

func (f *Feature) Clone() *Feature {
	out := &Feature{FID: f.FID, RID: f.RID, Fields: make(map[string]interface{}, len(f.Fields))}
	if f.Geometry != nil {
		out.Geometry = orb.Clone(f.Geometry)
	}
	for k, v := range f.Fields {
		out.Fields[k] = v
	}
	return out
}

// sortedFields returns name=value pairs ordered by name.
func (f *Feature) sortedFields() []string {
	out := make([]string, 0, len(f.Fields))
	for k := range f.Fields {
		out = append(out, k+"="+f.FieldAsString(k))
	}
	sort.Strings(out)
	return out
}

// featureValues returns the statement arguments for the columns of t after
// fid.
func (t table) featureValues(f *Feature) ([]interface{}, error) {
	values := make([]interface{}, 0, len(t.fields)+2)
	rid := f.RID
	if rid == 0 {
		rid = NotFound
	}
	values = append(values, rid)
	for _, field := range t.fields {
		v, _ := f.Field(field.Name)
		values = append(values, changeColumnValue(v, field.Type))
	}
	if t.hasGeometry() {
		if f.Geometry == nil {
			values = append(values, nil)
		} else {
			sb, err := NewBinary(int32(t.srs), f.Geometry)
			if err != nil {
				return nil, err
			}
			raw, err := sb.Encode()
			if err != nil {
				return nil, err
			}
			values = append(values, raw)
		}
	}
	return values, nil
}

func (t table) scanFeature(rows *sql.Rows) (*Feature, error) {
	var (
		fid int64
		rid sql.NullInt64
		sb  StandardBinary
	)
	values := make([]interface{}, len(t.fields))
	dest := []interface{}{&fid, &rid}
	for i := range values {
		dest = append(dest, &values[i])
	}
	if t.hasGeometry() {
		dest = append(dest, &sb)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	f := NewFeature()
	f.FID = fid
	if rid.Valid {
		f.RID = rid.Int64
	}
	for i, field := range t.fields {
		v := values[i]
		if b, ok := v.([]byte); ok && field.Type == FieldString {
			v = string(b)
		}
		f.Fields[field.Name] = v
	}
	f.Geometry = sb.Geometry
	return f, nil
}
