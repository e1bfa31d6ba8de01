package ngstore

import (
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// EditOperation is a pending change of a feature or attachment that a sync
// client has to push to the remote side.
type EditOperation struct {
	FID  int64
	AID  int64
	Code ChangeCode
	RID  int64
	ARID int64
}

// EditLogRow is a stored edit operation.
type EditLogRow struct {
	ID   int64      `gorm:"column:id;primary_key"`
	FID  int64      `gorm:"column:ffid;not null"`
	AID  int64      `gorm:"column:afid;not null"`
	Code ChangeCode `gorm:"column:op;not null"`
	RID  int64      `gorm:"column:rid"`
	ARID int64      `gorm:"column:arid"`
}

func (r EditLogRow) Operation() EditOperation {
	return EditOperation{FID: r.FID, AID: r.AID, Code: r.Code, RID: r.RID, ARID: r.ARID}
}

// EditLogStore is the storage behind the edit log of one table.
type EditLogStore interface {
	// PurgeByCode deletes rows with code. A fid other than NotFound limits
	// the purge to that feature.
	PurgeByCode(code ChangeCode, fid int64) error
	// PurgeByFeature deletes the rows of fid, or only its attachment rows.
	PurgeByFeature(fid int64, attachmentsOnly bool) error
	// UpsertRow inserts a row with a zero ID and assigns the ID, or
	// rewrites the row with that ID.
	UpsertRow(row *EditLogRow) error
	DeleteRow(id int64) error
	// Rows returns the rows of fid in log order.
	Rows(fid int64) ([]EditLogRow, error)
	All() ([]EditLogRow, error)
	Clear() error
	// Acknowledge deletes the rows matching fid, aid and code.
	Acknowledge(op EditOperation) error
}

// applyEditOperation appends op to the log, compacting the rows already
// logged for the same feature or attachment.
func applyEditOperation(store EditLogStore, op EditOperation) error {
	row := EditLogRow{FID: op.FID, AID: op.AID, Code: op.Code, RID: op.RID, ARID: op.ARID}

	switch op.Code {
	case OpDeleteAllFeatures:
		if err := store.Clear(); err != nil {
			return err
		}
		return store.UpsertRow(&row)
	case OpDeleteAllAttachments:
		if err := store.PurgeByFeature(op.FID, true); err != nil {
			return err
		}
		return store.UpsertRow(&row)
	}

	if err := store.PurgeByCode(OpDeleteAllFeatures, NotFound); err != nil {
		return err
	}
	if op.Code == OpCreateAttachment || op.Code == OpChangeAttachment {
		if err := store.PurgeByCode(OpDeleteAllAttachments, op.FID); err != nil {
			return err
		}
	}

	switch op.Code {
	case OpCreateFeature, OpCreateAttachment:
		return store.UpsertRow(&row)
	}

	rows, err := store.Rows(op.FID)
	if err != nil {
		return err
	}

	switch op.Code {
	case OpDeleteFeature:
		if len(rows) > 0 {
			if err := store.PurgeByFeature(op.FID, false); err != nil {
				return err
			}
		}
		for _, r := range rows {
			if r.Code == OpCreateFeature {
				return nil
			}
		}
		return store.UpsertRow(&row)

	case OpDeleteAttachment:
		for _, r := range rows {
			if r.AID != op.AID {
				continue
			}
			if r.Code == OpCreateAttachment {
				return store.DeleteRow(r.ID)
			}
			r.Code = op.Code
			if op.ARID != NotFound {
				r.ARID = op.ARID
			}
			return store.UpsertRow(&r)
		}
		return store.UpsertRow(&row)

	case OpChangeFeature:
		if len(rows) > 0 {
			return nil
		}
		return store.UpsertRow(&row)

	case OpChangeAttachment:
		for _, r := range rows {
			if r.AID == op.AID {
				return nil
			}
		}
		return store.UpsertRow(&row)
	}

	return errors.Wrapf(ErrUnsupported, "edit operation %s", op.Code)
}

// sqliteEditLog keeps the log in the nga_<table>_editlog table.
type sqliteEditLog struct {
	db    *gorm.DB
	table string
}

func newSqliteEditLog(db *gorm.DB, tableName string) *sqliteEditLog {
	return &sqliteEditLog{db: db, table: editLogTableName(tableName)}
}

func (l *sqliteEditLog) scope() *gorm.DB { return l.db.Table(l.table) }

func (l *sqliteEditLog) PurgeByCode(code ChangeCode, fid int64) error {
	q := l.scope().Where("op = ?", int64(code))
	if fid != NotFound {
		q = q.Where("ffid = ?", fid)
	}
	return q.Delete(EditLogRow{}).Error
}

func (l *sqliteEditLog) PurgeByFeature(fid int64, attachmentsOnly bool) error {
	q := l.scope().Where("ffid = ?", fid)
	if attachmentsOnly {
		q = q.Where("afid <> ?", NotFound)
	}
	return q.Delete(EditLogRow{}).Error
}

func (l *sqliteEditLog) UpsertRow(row *EditLogRow) error {
	if row.ID == 0 {
		return l.scope().Create(row).Error
	}
	return l.scope().Where("id = ?", row.ID).Updates(map[string]interface{}{
		"op":   int64(row.Code),
		"rid":  row.RID,
		"arid": row.ARID,
	}).Error
}

func (l *sqliteEditLog) DeleteRow(id int64) error {
	return l.scope().Where("id = ?", id).Delete(EditLogRow{}).Error
}

func (l *sqliteEditLog) Rows(fid int64) ([]EditLogRow, error) {
	rows := make([]EditLogRow, 0)
	err := l.scope().Where("ffid = ?", fid).Order("id").Find(&rows).Error
	return rows, err
}

func (l *sqliteEditLog) All() ([]EditLogRow, error) {
	rows := make([]EditLogRow, 0)
	err := l.scope().Order("id").Find(&rows).Error
	return rows, err
}

func (l *sqliteEditLog) Clear() error {
	return l.scope().Delete(EditLogRow{}).Error
}

func (l *sqliteEditLog) Acknowledge(op EditOperation) error {
	return l.scope().
		Where("ffid = ? AND afid = ? AND op = ?", op.FID, op.AID, int64(op.Code)).
		Delete(EditLogRow{}).Error
}
