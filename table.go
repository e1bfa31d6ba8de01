package ngstore

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// AdditionsDomain holds the properties the store itself keeps for a
	// table.
	AdditionsDomain = "ngs"
	// SaveEditHistoryKey switches edit logging of a table ON or OFF.
	SaveEditHistoryKey = "save_edit_history"
)

// Readable objects return their features.
type Readable interface {
	Feature(fid int64) (*Feature, error)
	Features(fn func(*Feature) bool) error
	FeatureCount() (int64, error)
}

// Writable objects accept feature changes.
type Writable interface {
	InsertFeature(f *Feature) error
	UpdateFeature(f *Feature) error
	DeleteFeature(fid int64) error
	DeleteFeatures() error
}

// Syncable objects keep the edit operations a sync client has to push.
type Syncable interface {
	EditOperations() ([]EditOperation, error)
	DeleteEditOperation(op EditOperation) error
}

// SpatialFilterable objects read the features intersecting an extent.
type SpatialFilterable interface {
	Extent() Envelope
	FeaturesIn(env Envelope, fn func(*Feature) bool) error
}

var (
	_ Readable          = (*Table)(nil)
	_ Writable          = (*Table)(nil)
	_ Syncable          = (*Table)(nil)
	_ SpatialFilterable = (*FeatureClass)(nil)
)

// featureListener follows the row changes of a table.
type featureListener interface {
	featureInserted(f *Feature) error
	featureUpdated(old, f *Feature) error
	featureDeleted(old *Feature) error
	featuresDeleted() error
}

// Table is a store table: features without geometry, their attachments and
// edit history.
type Table struct {
	ds *DataStore

	fieldsMu sync.Mutex
	def      table

	editHistory atomic.Int32
	editLog     EditLogStore
	listener    featureListener
}

func newTable(ds *DataStore, def table) *Table {
	t := &Table{
		ds:      ds,
		def:     def,
		editLog: newSqliteEditLog(ds.DB, def.name),
	}
	t.editHistory.Store(-1)
	return t
}

func (t *Table) Name() string { return t.def.name }

func (t *Table) Kind() ObjectKind { return KindTable }

func (t *Table) DataStore() *DataStore { return t.ds }

func (t *Table) log() *logrus.Entry { return t.ds.log().WithField("table", t.def.name) }

// Fields returns the user fields in column order.
func (t *Table) Fields() []Field {
	t.fieldsMu.Lock()
	defer t.fieldsMu.Unlock()
	return append([]Field(nil), t.def.fields...)
}

// layout returns a snapshot of the table layout.
func (t *Table) layout() table {
	t.fieldsMu.Lock()
	defer t.fieldsMu.Unlock()
	def := t.def
	def.fields = append([]Field(nil), t.def.fields...)
	return def
}

func (t *Table) applyCreateOptions(opts Options) error {
	if opts.AsBool(OptionLogEdits, false) {
		return t.SetProperty(SaveEditHistoryKey, "ON", AdditionsDomain)
	}
	return nil
}

// CreateField adds a user field to the table.
func (t *Table) CreateField(f Field) error {
	if err := t.ds.checkWritable(); err != nil {
		return err
	}
	t.fieldsMu.Lock()
	defer t.fieldsMu.Unlock()
	if err := validateFields(append(append([]Field(nil), t.def.fields...), f)); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`ALTER TABLE "%v" ADD COLUMN %s %s`, t.def.name, quote(f.Name), f.Type.sqlType())
	if err := t.ds.ExecuteSQL(stmt); err != nil {
		return errors.Wrapf(err, "Error adding field %s", f.Name)
	}
	t.def.fields = append(t.def.fields, f)
	return nil
}

// Properties

func (t *Table) propertyKey(key, domain string) string {
	if domain == "" {
		return t.def.name + "." + key
	}
	return t.def.name + "." + domain + "." + key
}

func (t *Table) SetProperty(key, value, domain string) error {
	if err := t.ds.SetProperty(t.propertyKey(key, domain), value); err != nil {
		return err
	}
	t.checkSetProperty(key, value, domain)
	return nil
}

func (t *Table) Property(key, def, domain string) string {
	return t.ds.Property(t.propertyKey(key, domain), def)
}

// Properties returns the properties of a domain keyed without the table and
// domain prefix.
func (t *Table) Properties(domain string) (map[string]string, error) {
	return t.ds.Properties(t.propertyKey("", domain))
}

func (t *Table) checkSetProperty(key, value, domain string) {
	if !strings.EqualFold(key, SaveEditHistoryKey) || !strings.EqualFold(domain, AdditionsDomain) {
		return
	}
	wasOn := t.SaveEditHistory()
	on := strings.EqualFold(value, "ON")
	if on {
		t.editHistory.Store(1)
	} else {
		t.editHistory.Store(0)
	}
	if wasOn && !on {
		if err := t.ds.ClearEditHistoryTable(t.def.name); err != nil {
			t.log().WithError(err).Warn("clear edit history")
		}
	}
}

// SaveEditHistory reports whether edits of the table are logged.
func (t *Table) SaveEditHistory() bool {
	v := t.editHistory.Load()
	if v < 0 {
		v = 0
		if strings.EqualFold(t.Property(SaveEditHistoryKey, "OFF", AdditionsDomain), "ON") {
			v = 1
		}
		t.editHistory.Store(v)
	}
	return v == 1
}

// Reading

func (t *Table) query(where string, args []interface{}, fn func(*Feature) bool) error {
	def := t.layout()
	stmt := def.selectSQL()
	if where != "" {
		stmt += " WHERE " + where
	}
	stmt += " ORDER BY " + FIDColumn

	rows, err := t.ds.DB.DB().Query(stmt, args...)
	if err != nil {
		return errors.Wrapf(err, "Error reading %s", def.name)
	}
	defer rows.Close()

	for rows.Next() {
		f, err := def.scanFeature(rows)
		if err != nil {
			return errors.Wrapf(err, "Error reading %s", def.name)
		}
		if !fn(f) {
			break
		}
	}
	return rows.Err()
}

func (t *Table) Feature(fid int64) (*Feature, error) {
	var out *Feature
	err := t.query(FIDColumn+" = ?", []interface{}{fid}, func(f *Feature) bool {
		out = f
		return false
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.Wrapf(ErrNotFound, "feature %d of %s", fid, t.def.name)
	}
	return out, nil
}

// Features calls fn for every feature in fid order until fn returns false.
func (t *Table) Features(fn func(*Feature) bool) error {
	return t.query("", nil, fn)
}

func (t *Table) FeatureCount() (int64, error) {
	n, err := t.ds.QueryInt(fmt.Sprintf(`SELECT count(*) FROM "%v"`, t.def.name))
	return int64(n), err
}

// Writing

// InsertFeature stores f and sets its FID. A positive FID is kept.
func (t *Table) InsertFeature(f *Feature) error {
	if err := t.ds.checkWritable(); err != nil {
		return err
	}
	def := t.layout()
	values, err := def.featureValues(f)
	if err != nil {
		return errors.Wrap(ErrInsertFailed, err.Error())
	}
	withFID := f.FID > 0
	if withFID {
		values = append([]interface{}{f.FID}, values...)
	}

	err = t.ds.locked(func() error {
		res, err := t.ds.exec(def.insertSQL(withFID), values...)
		if err != nil {
			if isConstraint(err) {
				return errors.Wrapf(ErrInsertFailed, "feature %d violates a constraint of %s: %v", f.FID, def.name, err)
			}
			return errors.Wrapf(ErrInsertFailed, "%s: %v", def.name, err)
		}
		if !withFID {
			f.FID, err = res.LastInsertId()
		}
		return err
	})
	if err != nil {
		return err
	}
	if f.RID == 0 {
		f.RID = NotFound
	}
	t.ds.ctx.counter(metricFeaturesInserted).Inc(1)

	t.logEditOperation(EditOperation{FID: f.FID, AID: NotFound, Code: OpCreateFeature, RID: f.RID, ARID: NotFound})
	t.notify(func(l featureListener) error { return l.featureInserted(f) })
	return nil
}

// UpdateFeature rewrites the row of f.FID. A missing remote id keeps the
// stored one.
func (t *Table) UpdateFeature(f *Feature) error {
	if err := t.ds.checkWritable(); err != nil {
		return err
	}
	old, err := t.Feature(f.FID)
	if err != nil {
		return err
	}
	if f.RID == NotFound || f.RID == 0 {
		f.RID = old.RID
	}
	def := t.layout()
	values, err := def.featureValues(f)
	if err != nil {
		return errors.Wrapf(err, "Error updating feature %d", f.FID)
	}
	values = append(values, f.FID)

	err = t.ds.locked(func() error {
		_, err := t.ds.exec(def.updateSQL(), values...)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "Error updating feature %d", f.FID)
	}

	t.logEditOperation(EditOperation{FID: f.FID, AID: NotFound, Code: OpChangeFeature, RID: f.RID, ARID: NotFound})
	t.notify(func(l featureListener) error { return l.featureUpdated(old, f) })
	return nil
}

// DeleteFeature removes a feature and its attachments.
func (t *Table) DeleteFeature(fid int64) error {
	if err := t.ds.checkWritable(); err != nil {
		return err
	}
	old, err := t.Feature(fid)
	if err != nil {
		return err
	}
	err = t.ds.locked(func() error {
		_, err := t.ds.exec(fmt.Sprintf(`DELETE FROM "%v" WHERE %s = ?`, t.def.name, FIDColumn), fid)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "Error deleting feature %d", fid)
	}

	if err := t.DeleteAttachments(fid); err != nil {
		t.log().WithError(err).WithField("fid", fid).Warn("delete attachments")
	}
	t.logEditOperation(EditOperation{FID: fid, AID: NotFound, Code: OpDeleteFeature, RID: old.RID, ARID: NotFound})
	t.notify(func(l featureListener) error { return l.featureDeleted(old) })
	return nil
}

// DeleteFeatures removes every feature and every attachment.
func (t *Table) DeleteFeatures() error {
	if err := t.ds.checkWritable(); err != nil {
		return err
	}
	err := t.ds.locked(func() error {
		_, err := t.ds.exec(fmt.Sprintf(`DELETE FROM "%v"`, t.def.name))
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "Error deleting features of %s", t.def.name)
	}

	t.logEditOperation(EditOperation{FID: NotFound, AID: NotFound, Code: OpDeleteAllFeatures, RID: NotFound, ARID: NotFound})
	if err := t.ds.DestroyAttachmentsTable(t.def.name); err != nil {
		t.log().WithError(err).Warn("destroy attachments table")
	}
	if err := os.RemoveAll(t.attachmentsPath()); err != nil {
		t.log().WithError(err).Warn("remove attachments folder")
	}
	t.notify(func(l featureListener) error { return l.featuresDeleted() })
	return nil
}

func (t *Table) notify(fn func(l featureListener) error) {
	if t.listener == nil {
		return
	}
	if err := fn(t.listener); err != nil {
		t.log().WithError(err).Warn("feature change follow up failed")
	}
}

// Remote ids

func (t *Table) SetRemoteID(fid, rid int64) error {
	if err := t.ds.checkWritable(); err != nil {
		return err
	}
	return t.ds.locked(func() error {
		res, err := t.ds.exec(fmt.Sprintf(`UPDATE "%v" SET %s = ? WHERE %s = ?`, t.def.name, RIDColumn, FIDColumn), rid, fid)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Wrapf(ErrNotFound, "feature %d of %s", fid, t.def.name)
		}
		return nil
	})
}

func (t *Table) RemoteID(fid int64) (int64, error) {
	var rid sql.NullInt64
	err := t.ds.DB.DB().QueryRow(fmt.Sprintf(`SELECT %s FROM "%v" WHERE %s = ?`, RIDColumn, t.def.name, FIDColumn), fid).Scan(&rid)
	if err == sql.ErrNoRows {
		return NotFound, errors.Wrapf(ErrNotFound, "feature %d of %s", fid, t.def.name)
	}
	if err != nil || !rid.Valid {
		return NotFound, err
	}
	return rid.Int64, nil
}

// Edit history

// logEditOperation records op when edit history is on. Failures are logged
// and counted, the data change stands.
func (t *Table) logEditOperation(op EditOperation) {
	if !t.SaveEditHistory() {
		return
	}
	err := t.ds.locked(func() error {
		if err := t.ds.createTable(createEditLogTableSQL, editLogTableName(t.def.name)); err != nil {
			return err
		}
		return applyEditOperation(t.editLog, op)
	})
	if err != nil {
		t.ds.ctx.counter(metricEditLogFailed).Inc(1)
		t.log().WithError(err).WithFields(logrus.Fields{
			"fid": op.FID,
			"aid": op.AID,
			"op":  op.Code,
		}).Warn("save edit operation failed")
	}
}

// EditOperations returns the logged operations in log order. Missing remote
// ids are taken from the feature and attachment rows.
func (t *Table) EditOperations() ([]EditOperation, error) {
	if !t.ds.verifyTable(editLogTableName(t.def.name)) {
		return []EditOperation{}, nil
	}
	rows, err := t.editLog.All()
	if err != nil {
		return nil, errors.Wrapf(err, "Error reading edit history of %s", t.def.name)
	}
	out := make([]EditOperation, 0, len(rows))
	for _, r := range rows {
		op := r.Operation()
		if op.RID == NotFound && op.FID != NotFound {
			if rid, err := t.RemoteID(op.FID); err == nil {
				op.RID = rid
			}
		}
		if op.ARID == NotFound && op.AID != NotFound && op.Code.isAttachment() {
			if arid, err := t.AttachmentRemoteID(op.AID); err == nil {
				op.ARID = arid
			}
		}
		out = append(out, op)
	}
	return out, nil
}

// DeleteEditOperation acknowledges a pushed operation.
func (t *Table) DeleteEditOperation(op EditOperation) error {
	if !t.ds.verifyTable(editLogTableName(t.def.name)) {
		return nil
	}
	return t.ds.locked(func() error { return t.editLog.Acknowledge(op) })
}
