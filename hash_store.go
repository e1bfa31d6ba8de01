package ngstore

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/jinzhu/gorm"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/pkg/errors"
)

type hashRow struct {
	FID  int64  `gorm:"column:ffid;primary_key;auto_increment:false"`
	Hash string `gorm:"column:hash;not null"`
	RID  int64  `gorm:"column:rid"`
}

// HashStore tracks changes of a table that is edited behind the store's
// back. FillHash records a baseline, UpdateHashAndEditLog turns the
// difference to the baseline into edit operations.
type HashStore struct {
	table *Table
}

// NewHashStore prepares the hash table of t.
func NewHashStore(t *Table) (*HashStore, error) {
	if err := t.ds.CreateHashTable(t.def.name); err != nil {
		return nil, err
	}
	return &HashStore{table: t}, nil
}

func (h *HashStore) rows() *gorm.DB {
	return h.table.ds.DB.Table(hashTableName(h.table.def.name))
}

// featureHash digests the geometry WKT and the sorted field values.
func featureHash(f *Feature) string {
	var sb strings.Builder
	if f.Geometry != nil {
		sb.WriteString(wkt.MarshalString(f.Geometry))
	}
	for _, kv := range f.sortedFields() {
		sb.WriteByte('\n')
		sb.WriteString(kv)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

type featureDigest struct {
	fid  int64
	rid  int64
	hash string
}

func (h *HashStore) digests() ([]featureDigest, error) {
	var out []featureDigest
	err := h.table.Features(func(f *Feature) bool {
		out = append(out, featureDigest{fid: f.FID, rid: f.RID, hash: featureHash(f)})
		return true
	})
	return out, err
}

// FillHash replaces the baseline with the current content of the table.
func (h *HashStore) FillHash(progress Progress) error {
	t := h.table
	if err := t.ds.checkWritable(); err != nil {
		return err
	}
	progress.report(CodeInProcess, 0, "Start hashing features")
	digests, err := h.digests()
	if err != nil {
		return errors.Wrapf(err, "Error hashing %s", t.def.name)
	}

	err = t.ds.locked(func() error {
		if err := t.ds.clearTable(hashTableName(t.def.name)); err != nil {
			return err
		}
		for i, d := range digests {
			if !progress.report(CodeInProcess, float64(i)/float64(len(digests)), "Hash in process ...") {
				return ErrCanceled
			}
			row := hashRow{FID: d.fid, Hash: d.hash, RID: d.rid}
			if err := h.rows().Create(&row).Error; err != nil {
				progress.report(CodeWarning, float64(i)/float64(len(digests)), "Failed to store hash of feature %d", d.fid)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	progress.report(CodeFinished, 1, "Hashing features finished")
	return nil
}

// UpdateHashAndEditLog compares the table with the baseline, logs a
// CHANGE_FEATURE, DELETE_FEATURE or CREATE_FEATURE for every difference and
// moves the baseline to the current state. It returns the number of logged
// operations.
func (h *HashStore) UpdateHashAndEditLog() (int, error) {
	t := h.table
	if err := t.ds.checkWritable(); err != nil {
		return 0, err
	}
	var stored []hashRow
	if err := h.rows().Order("ffid").Find(&stored).Error; err != nil {
		return 0, errors.Wrapf(err, "Error reading hashes of %s", t.def.name)
	}
	digests, err := h.digests()
	if err != nil {
		return 0, errors.Wrapf(err, "Error hashing %s", t.def.name)
	}
	current := make(map[int64]featureDigest, len(digests))
	for _, d := range digests {
		current[d.fid] = d
	}

	var (
		ops     []EditOperation
		changed []hashRow
		deleted []int64
		created []hashRow
	)
	present := map[int64]bool{}
	for _, row := range stored {
		d, ok := current[row.FID]
		if !ok {
			ops = append(ops, EditOperation{FID: row.FID, AID: NotFound, Code: OpDeleteFeature, RID: row.RID, ARID: NotFound})
			deleted = append(deleted, row.FID)
			continue
		}
		present[row.FID] = true
		if d.hash != row.Hash {
			ops = append(ops, EditOperation{FID: row.FID, AID: NotFound, Code: OpChangeFeature, RID: row.RID, ARID: NotFound})
			changed = append(changed, hashRow{FID: row.FID, Hash: d.hash, RID: d.rid})
		}
	}
	fids := make([]int64, 0, len(current))
	for fid := range current {
		if !present[fid] {
			fids = append(fids, fid)
		}
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })
	for _, fid := range fids {
		d := current[fid]
		ops = append(ops, EditOperation{FID: fid, AID: NotFound, Code: OpCreateFeature, RID: d.rid, ARID: NotFound})
		created = append(created, hashRow{FID: fid, Hash: d.hash, RID: d.rid})
	}
	if len(ops) == 0 {
		return 0, nil
	}

	err = t.ds.locked(func() error {
		if err := t.ds.createTable(createEditLogTableSQL, editLogTableName(t.def.name)); err != nil {
			return err
		}
		for _, op := range ops {
			if err := applyEditOperation(t.editLog, op); err != nil {
				return errors.Wrapf(err, "Error logging %s of feature %d", op.Code, op.FID)
			}
		}
		for _, row := range changed {
			if err := h.rows().Where("ffid = ?", row.FID).Updates(map[string]interface{}{
				"hash": row.Hash,
				"rid":  row.RID,
			}).Error; err != nil {
				t.log().WithError(err).WithField("fid", row.FID).Warn("failed to save new hash")
			}
		}
		for _, fid := range deleted {
			if err := h.rows().Where("ffid = ?", fid).Delete(hashRow{}).Error; err != nil {
				t.log().WithError(err).WithField("fid", fid).Warn("failed to delete hash")
			}
		}
		for i := range created {
			if err := h.rows().Create(&created[i]).Error; err != nil {
				t.log().WithError(err).WithField("fid", created[i].FID).Warn("failed to store hash")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	t.ds.ctx.counter(metricHashChanges).Inc(int64(len(ops)))
	return len(ops), nil
}

// EditOperations reconciles the baseline and returns the logged operations.
func (h *HashStore) EditOperations() ([]EditOperation, error) {
	if _, err := h.UpdateHashAndEditLog(); err != nil {
		return nil, err
	}
	return h.table.EditOperations()
}

func (h *HashStore) DeleteEditOperation(op EditOperation) error {
	return h.table.DeleteEditOperation(op)
}

var _ Syncable = (*HashStore)(nil)
