package ngstore

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// AttachmentInfo describes a file attached to a feature.
type AttachmentInfo struct {
	ID          int64
	FID         int64
	Name        string
	Description string
	Path        string
	Size        int64
	RID         int64
}

type attachmentRow struct {
	ID          int64  `gorm:"column:id;primary_key"`
	FID         int64  `gorm:"column:ffid;not null"`
	Name        string `gorm:"column:name"`
	Description string `gorm:"column:descript"`
	RID         int64  `gorm:"column:rid"`
}

func (t *Table) attachmentsPath() string {
	return filepath.Join(t.ds.AttachmentsPath(), t.def.name)
}

func (t *Table) attachmentPath(fid, aid int64) string {
	return filepath.Join(t.attachmentsPath(), strconv.FormatInt(fid, 10), strconv.FormatInt(aid, 10))
}

func (t *Table) attachments() *gorm.DB {
	return t.ds.DB.Table(attachmentsTableName(t.def.name))
}

func (t *Table) hasAttachments() bool {
	return t.ds.verifyTable(attachmentsTableName(t.def.name))
}

func (t *Table) info(row attachmentRow) AttachmentInfo {
	info := AttachmentInfo{
		ID:          row.ID,
		FID:         row.FID,
		Name:        row.Name,
		Description: row.Description,
		Path:        t.attachmentPath(row.FID, row.ID),
		RID:         row.RID,
	}
	if st, err := os.Stat(info.Path); err == nil {
		info.Size = st.Size()
	}
	return info
}

// AddAttachment registers a file for feature fid and places it under the
// attachments folder. With MOVE=ON the file is moved, otherwise copied. An
// empty path registers the attachment without a file.
func (t *Table) AddAttachment(fid int64, name, description, path string, opts Options) (int64, error) {
	if err := t.ds.checkWritable(); err != nil {
		return NotFound, err
	}
	if _, err := t.Feature(fid); err != nil {
		return NotFound, err
	}

	row := attachmentRow{FID: fid, Name: name, Description: description, RID: NotFound}
	err := t.ds.locked(func() error {
		if err := t.ds.createAttachmentsTable(t.def.name); err != nil {
			return err
		}
		return t.attachments().Create(&row).Error
	})
	if err != nil {
		return NotFound, errors.Wrapf(ErrInsertFailed, "attachment of feature %d: %v", fid, err)
	}

	if path != "" {
		dst := t.attachmentPath(fid, row.ID)
		if err := placeFile(path, dst, opts.AsBool(OptionMove, false)); err != nil {
			t.log().WithError(err).WithField("path", path).Warn("attachment file not stored")
		}
	}

	t.logEditOperation(EditOperation{FID: fid, AID: row.ID, Code: OpCreateAttachment, RID: NotFound, ARID: NotFound})
	return row.ID, nil
}

// DeleteAttachment removes an attachment row and its file.
func (t *Table) DeleteAttachment(aid int64) error {
	if err := t.ds.checkWritable(); err != nil {
		return err
	}
	row, err := t.attachmentRow(aid)
	if err != nil {
		return err
	}
	err = t.ds.locked(func() error {
		return t.attachments().Where("id = ?", aid).Delete(attachmentRow{}).Error
	})
	if err != nil {
		return errors.Wrapf(err, "Error deleting attachment %d", aid)
	}
	if err := os.Remove(t.attachmentPath(row.FID, aid)); err != nil && !os.IsNotExist(err) {
		t.log().WithError(err).WithField("aid", aid).Warn("remove attachment file")
	}
	t.logEditOperation(EditOperation{FID: row.FID, AID: aid, Code: OpDeleteAttachment, RID: NotFound, ARID: row.RID})
	return nil
}

// DeleteAttachments removes every attachment of fid.
func (t *Table) DeleteAttachments(fid int64) error {
	if err := t.ds.checkWritable(); err != nil {
		return err
	}
	if t.hasAttachments() {
		err := t.ds.locked(func() error {
			return t.attachments().Where("ffid = ?", fid).Delete(attachmentRow{}).Error
		})
		if err != nil {
			return errors.Wrapf(err, "Error deleting attachments of %d", fid)
		}
	}
	if err := os.RemoveAll(filepath.Join(t.attachmentsPath(), strconv.FormatInt(fid, 10))); err != nil {
		t.log().WithError(err).WithField("fid", fid).Warn("remove attachments folder")
	}
	t.logEditOperation(EditOperation{FID: fid, AID: NotFound, Code: OpDeleteAllAttachments, RID: NotFound, ARID: NotFound})
	return nil
}

// UpdateAttachment changes the name and description. Empty values keep the
// stored ones.
func (t *Table) UpdateAttachment(aid int64, name, description string) error {
	if err := t.ds.checkWritable(); err != nil {
		return err
	}
	row, err := t.attachmentRow(aid)
	if err != nil {
		return err
	}
	if name == "" {
		name = row.Name
	}
	if description == "" {
		description = row.Description
	}
	err = t.ds.locked(func() error {
		return t.attachments().Where("id = ?", aid).Updates(map[string]interface{}{
			"name":     name,
			"descript": description,
		}).Error
	})
	if err != nil {
		return errors.Wrapf(err, "Error updating attachment %d", aid)
	}
	t.logEditOperation(EditOperation{FID: row.FID, AID: aid, Code: OpChangeAttachment, RID: NotFound, ARID: row.RID})
	return nil
}

// Attachments lists the attachments of fid, or of every feature when fid is
// NotFound.
func (t *Table) Attachments(fid int64) ([]AttachmentInfo, error) {
	out := make([]AttachmentInfo, 0)
	if !t.hasAttachments() {
		return out, nil
	}
	var rows []attachmentRow
	q := t.attachments()
	if fid != NotFound {
		q = q.Where("ffid = ?", fid)
	}
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "Error reading attachments of %s", t.def.name)
	}
	for _, row := range rows {
		out = append(out, t.info(row))
	}
	return out, nil
}

func (t *Table) attachmentRow(aid int64) (attachmentRow, error) {
	var row attachmentRow
	if !t.hasAttachments() {
		return row, errors.Wrapf(ErrNotFound, "attachment %d", aid)
	}
	err := t.attachments().Where("id = ?", aid).First(&row).Error
	if gorm.IsRecordNotFoundError(err) {
		return row, errors.Wrapf(ErrNotFound, "attachment %d", aid)
	}
	return row, err
}

func (t *Table) SetAttachmentRemoteID(aid, rid int64) error {
	if err := t.ds.checkWritable(); err != nil {
		return err
	}
	if _, err := t.attachmentRow(aid); err != nil {
		return err
	}
	return t.ds.locked(func() error {
		return t.attachments().Where("id = ?", aid).Update("rid", rid).Error
	})
}

func (t *Table) AttachmentRemoteID(aid int64) (int64, error) {
	row, err := t.attachmentRow(aid)
	if err != nil {
		return NotFound, err
	}
	return row.RID, nil
}

func placeFile(src, dst string, move bool) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if move {
		if err := os.Rename(src, dst); err == nil {
			return nil
		}
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if move {
		return os.Remove(src)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
