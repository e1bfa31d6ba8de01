package ngstore

import (
	"sort"
	"strconv"
	"strings"
)

// Option keys understood by the store.
const (
	OptionZoomLevels           = "ZOOM_LEVELS"
	OptionForce                = "FORCE"
	OptionCreateOverviewsTable = "CREATE_OVERVIEWS_TABLE"
	OptionSkipEmptyGeometry    = "SKIP_EMPTY_GEOMETRY"
	OptionSkipInvalidGeometry  = "SKIP_INVALID_GEOMETRY"
	OptionForceGeometryToMulti = "FORCE_GEOMETRY_TO_MULTI"
	OptionMove                 = "MOVE"
	OptionLogEdits             = "LOG_EDIT_HISTORY"
)

// Options is a case insensitive set of KEY=VALUE pairs.
type Options map[string]string

// ParseOptions builds Options from KEY=VALUE strings. Entries without a value
// are stored as ON.
func ParseOptions(list []string) Options {
	out := Options{}
	for _, item := range list {
		kv := strings.SplitN(item, "=", 2)
		key := strings.ToUpper(strings.TrimSpace(kv[0]))
		if key == "" {
			continue
		}
		if len(kv) == 1 {
			out[key] = "ON"
			continue
		}
		out[key] = strings.TrimSpace(kv[1])
	}
	return out
}

func (o Options) Set(key, value string) Options {
	o[strings.ToUpper(key)] = value
	return o
}

func (o Options) AsString(key, def string) string {
	if v, ok := o[strings.ToUpper(key)]; ok {
		return v
	}
	return def
}

func (o Options) AsBool(key string, def bool) bool {
	v, ok := o[strings.ToUpper(key)]
	if !ok {
		return def
	}
	switch strings.ToUpper(v) {
	case "ON", "YES", "TRUE", "1":
		return true
	case "OFF", "NO", "FALSE", "0":
		return false
	}
	return def
}

func (o Options) AsInt(key string, def int) int {
	v, ok := o[strings.ToUpper(key)]
	if !ok {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return i
}

// Strings returns the options as sorted KEY=VALUE pairs.
func (o Options) Strings() []string {
	out := make([]string, 0, len(o))
	for k, v := range o {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
