package ngstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

var noteFields = []Field{
	{Name: "title", Type: FieldString},
	{Name: "rank", Type: FieldInteger},
}

func newNote(title string, rank int) *Feature {
	return NewFeature().SetField("title", title).SetField("rank", rank)
}

func editCodes(t *testing.T, tbl *Table) []ChangeCode {
	t.Helper()
	ops, err := tbl.EditOperations()
	if err != nil {
		t.Fatal(err)
	}
	out := make([]ChangeCode, len(ops))
	for i, op := range ops {
		out[i] = op.Code
	}
	return out
}

func TestTableCRUD(t *testing.T) {
	ds := newTestStore(t)
	tbl, err := ds.CreateTable("notes", noteFields, nil)
	if err != nil {
		t.Fatal(err)
	}

	f := newNote("first", 1)
	if err := tbl.InsertFeature(f); err != nil {
		t.Fatal(err)
	}
	if f.FID <= 0 {
		t.Fatalf("fid = %d", f.FID)
	}

	got, err := tbl.Feature(f.FID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FieldAsString("title") != "first" || got.FieldAsString("rank") != "1" {
		t.Fatalf("feature = %+v", got.Fields)
	}

	got.SetField("title", "changed")
	if err := tbl.UpdateFeature(got); err != nil {
		t.Fatal(err)
	}
	got, _ = tbl.Feature(f.FID)
	if got.FieldAsString("title") != "changed" {
		t.Fatalf("title = %q", got.FieldAsString("title"))
	}

	if err := tbl.DeleteFeature(f.FID); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Feature(f.FID); errors.Cause(err) != ErrNotFound {
		t.Fatalf("deleted feature: %v", err)
	}
	if n, _ := tbl.FeatureCount(); n != 0 {
		t.Fatalf("count = %d", n)
	}
}

func TestTableInsertExplicitFID(t *testing.T) {
	ds := newTestStore(t)
	tbl, err := ds.CreateTable("notes", noteFields, nil)
	if err != nil {
		t.Fatal(err)
	}
	f := newNote("a", 1)
	f.FID = 42
	if err := tbl.InsertFeature(f); err != nil {
		t.Fatal(err)
	}
	dup := newNote("b", 2)
	dup.FID = 42
	if err := tbl.InsertFeature(dup); errors.Cause(err) != ErrInsertFailed {
		t.Fatalf("duplicate fid: %v", err)
	}
}

func TestCreateTableValidation(t *testing.T) {
	ds := newTestStore(t)
	tests := []struct {
		name   string
		table  string
		fields []Field
	}{
		{"empty name", "", nil},
		{"system prefix", "nga_notes", nil},
		{"reserved field", "notes", []Field{{Name: "fid", Type: FieldInteger}}},
		{"duplicate field", "notes", []Field{{Name: "a"}, {Name: "A"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ds.CreateTable(tt.table, tt.fields, nil); errors.Cause(err) != ErrInvalid {
				t.Fatalf("got %v, want ErrInvalid", err)
			}
		})
	}
	if _, err := ds.CreateTable("notes", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ds.CreateTable("notes", nil, nil); errors.Cause(err) != ErrCreateFailed {
		t.Fatalf("second create: %v", err)
	}
}

func TestTableReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.ngst")
	ds, err := Create(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := ds.CreateTable("notes", noteFields, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := tbl.CreateField(Field{Name: "weight", Type: FieldReal}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.InsertFeature(newNote("x", 3).SetField("weight", 1.5)); err != nil {
		t.Fatal(err)
	}
	ds.Close()

	ds, err = Open(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()
	tbl, err = ds.Table("notes")
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Fields()) != 3 {
		t.Fatalf("fields = %+v", tbl.Fields())
	}
	var weights []string
	tbl.Features(func(f *Feature) bool {
		weights = append(weights, f.FieldAsString("weight"))
		return true
	})
	if len(weights) != 1 || weights[0] != "1.5" {
		t.Fatalf("weights = %v", weights)
	}
}

func TestTableEditHistory(t *testing.T) {
	ds := newTestStore(t)
	tbl, err := ds.CreateTable("notes", noteFields, Options{OptionLogEdits: "ON"})
	if err != nil {
		t.Fatal(err)
	}
	if !tbl.SaveEditHistory() {
		t.Fatal("edit history is off")
	}

	a, b := newNote("a", 1), newNote("b", 2)
	tbl.InsertFeature(a)
	tbl.InsertFeature(b)
	if codes := editCodes(t, tbl); len(codes) != 2 {
		t.Fatalf("after inserts: %v", codes)
	}

	// created and deleted before a sync leaves nothing
	tbl.DeleteFeature(b.FID)
	codes := editCodes(t, tbl)
	if len(codes) != 1 || codes[0] != OpCreateFeature {
		t.Fatalf("after delete: %v", codes)
	}

	ops, _ := tbl.EditOperations()
	if err := tbl.DeleteEditOperation(ops[0]); err != nil {
		t.Fatal(err)
	}
	if codes := editCodes(t, tbl); len(codes) != 0 {
		t.Fatalf("after ack: %v", codes)
	}

	if err := tbl.SetRemoteID(a.FID, 700); err != nil {
		t.Fatal(err)
	}
	a.SetField("rank", 10)
	tbl.UpdateFeature(a)
	ops, _ = tbl.EditOperations()
	if len(ops) != 1 || ops[0].Code != OpChangeFeature || ops[0].RID != 700 {
		t.Fatalf("after update: %+v", ops)
	}

	tbl.DeleteFeatures()
	codes = editCodes(t, tbl)
	if len(codes) != 1 || codes[0] != OpDeleteAllFeatures {
		t.Fatalf("after delete all: %v", codes)
	}
}

func TestTableEditHistorySwitch(t *testing.T) {
	ds := newTestStore(t)
	tbl, err := ds.CreateTable("notes", noteFields, nil)
	if err != nil {
		t.Fatal(err)
	}
	tbl.InsertFeature(newNote("off", 0))
	if codes := editCodes(t, tbl); len(codes) != 0 {
		t.Fatalf("logged while off: %v", codes)
	}

	if err := tbl.SetProperty(SaveEditHistoryKey, "ON", AdditionsDomain); err != nil {
		t.Fatal(err)
	}
	if got := ds.Property("notes.ngs.save_edit_history", ""); got != "ON" {
		t.Fatalf("stored switch = %q", got)
	}
	tbl.InsertFeature(newNote("on", 1))
	if codes := editCodes(t, tbl); len(codes) != 1 {
		t.Fatalf("logged while on: %v", codes)
	}

	if err := tbl.SetProperty(SaveEditHistoryKey, "OFF", AdditionsDomain); err != nil {
		t.Fatal(err)
	}
	if codes := editCodes(t, tbl); len(codes) != 0 {
		t.Fatalf("log not cleared: %v", codes)
	}
}

func TestTableProperties(t *testing.T) {
	ds := newTestStore(t)
	tbl, err := ds.CreateTable("notes", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	tbl.SetProperty("color", "red", "style")
	tbl.SetProperty("width", "2", "style")
	if got := tbl.Property("color", "", "style"); got != "red" {
		t.Fatalf("color = %q", got)
	}
	props, err := tbl.Properties("style")
	if err != nil {
		t.Fatal(err)
	}
	if len(props) != 2 || props["width"] != "2" {
		t.Fatalf("properties = %v", props)
	}
}

func TestTableAttachments(t *testing.T) {
	ds := newTestStore(t)
	tbl, err := ds.CreateTable("notes", noteFields, Options{OptionLogEdits: "ON"})
	if err != nil {
		t.Fatal(err)
	}
	f := newNote("with file", 1)
	tbl.InsertFeature(f)
	ops, _ := tbl.EditOperations()
	for _, op := range ops {
		tbl.DeleteEditOperation(op)
	}

	src := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(src, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	aid, err := tbl.AddAttachment(f.FID, "photo", "a photo", src, Options{OptionMove: "ON"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("moved file still at source")
	}

	list, err := tbl.Attachments(f.FID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "photo" || list[0].Size != 4 {
		t.Fatalf("attachments = %+v", list)
	}
	if codes := editCodes(t, tbl); len(codes) != 1 || codes[0] != OpCreateAttachment {
		t.Fatalf("after add: %v", codes)
	}

	if err := tbl.UpdateAttachment(aid, "", "new description"); err != nil {
		t.Fatal(err)
	}
	list, _ = tbl.Attachments(f.FID)
	if list[0].Name != "photo" || list[0].Description != "new description" {
		t.Fatalf("after update: %+v", list[0])
	}

	if err := tbl.DeleteAttachment(aid); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(list[0].Path); !os.IsNotExist(err) {
		t.Fatal("attachment file left after delete")
	}
	if codes := editCodes(t, tbl); len(codes) != 0 {
		t.Fatalf("create and delete of an attachment logged: %v", codes)
	}

	if _, err := tbl.AddAttachment(999, "x", "", "", nil); errors.Cause(err) != ErrNotFound {
		t.Fatalf("attachment of missing feature: %v", err)
	}
}

func TestAttachmentRemoteID(t *testing.T) {
	ds := newTestStore(t)
	tbl, _ := ds.CreateTable("notes", nil, Options{OptionLogEdits: "ON"})
	f := NewFeature()
	tbl.InsertFeature(f)
	aid, err := tbl.AddAttachment(f.FID, "doc", "", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := tbl.SetAttachmentRemoteID(aid, 55); err != nil {
		t.Fatal(err)
	}
	if rid, _ := tbl.AttachmentRemoteID(aid); rid != 55 {
		t.Fatalf("rid = %d", rid)
	}
	ops, _ := tbl.EditOperations()
	found := false
	for _, op := range ops {
		if op.AID == aid && op.ARID == 55 {
			found = true
		}
	}
	if !found {
		t.Fatalf("attachment remote id missing from %+v", ops)
	}
}
