package ngstore

import (
	"reflect"
	"testing"
)

func TestParseOptions(t *testing.T) {
	opts := ParseOptions([]string{"zoom_levels=4,6", "force", "=x", " Move = off "})
	want := Options{"ZOOM_LEVELS": "4,6", "FORCE": "ON", "MOVE": "off"}
	if !reflect.DeepEqual(opts, want) {
		t.Fatalf("got %v, want %v", opts, want)
	}
	if got := opts.Strings(); !reflect.DeepEqual(got, []string{"FORCE=ON", "MOVE=off", "ZOOM_LEVELS=4,6"}) {
		t.Fatalf("Strings() = %v", got)
	}
}

func TestOptionsAsBool(t *testing.T) {
	opts := Options{}.Set("a", "yes").Set("b", "0").Set("c", "maybe").Set("d", "TRUE")
	tests := []struct {
		key  string
		def  bool
		want bool
	}{
		{"a", false, true},
		{"b", true, false},
		{"c", true, true},
		{"c", false, false},
		{"d", false, true},
		{"missing", true, true},
	}
	for _, tt := range tests {
		if got := opts.AsBool(tt.key, tt.def); got != tt.want {
			t.Errorf("AsBool(%q, %v) = %v", tt.key, tt.def, got)
		}
	}
}

func TestOptionsAsInt(t *testing.T) {
	opts := Options{}.Set("n", " 12 ").Set("bad", "x")
	if got := opts.AsInt("N", 0); got != 12 {
		t.Fatalf("n = %d", got)
	}
	if got := opts.AsInt("bad", 7); got != 7 {
		t.Fatalf("bad = %d", got)
	}
	if got := opts.AsString("missing", "def"); got != "def" {
		t.Fatalf("missing = %q", got)
	}
}
