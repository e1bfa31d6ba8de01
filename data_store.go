package ngstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

const (
	ApplicationID = 0x4E474153 // "NGAS"
	UserVersion   = 3

	systemTablePrefix = "nga_"
	attachmentsExt    = ".attachments"

	busyRetries = 3
)

var (
	initialSQL = fmt.Sprintf(
		`
		PRAGMA application_id = %d;
		PRAGMA user_version = %d ;
		`,
		ApplicationID,
		UserVersion,
	)
)

// Meta is a row of the store property table.
type Meta struct {
	Key   string `sql:"type:text" gorm:"column:key;primary_key"`
	Value string `sql:"type:text" gorm:"column:value;not null"`
}

func (Meta) TableName() string {
	return systemTablePrefix + "meta"
}

// DataStore is a sqlite database holding tables, feature classes and the
// system tables that support them: overviews, edit history, attachments and
// hashes.
type DataStore struct {
	Uri string
	DB  *gorm.DB

	ctx     *Context
	sqlMu   sync.Mutex
	batch   atomic.Int32
	objects *xsync.MapOf[string, Object]
}

func newDataStore(ctx *Context, uri string) *DataStore {
	if ctx == nil {
		ctx = NewContext()
	}
	return &DataStore{
		Uri:     uri,
		ctx:     ctx,
		objects: xsync.NewMapOf[string, Object](),
	}
}

// Create makes a new store at uri. It fails if the file already exists.
func Create(ctx *Context, uri string) (*DataStore, error) {
	ds := newDataStore(ctx, uri)
	if ds.Exists() {
		return nil, errors.Wrapf(ErrCreateFailed, "store %s already exists", uri)
	}
	if err := ds.Init(); err != nil {
		return nil, errors.Wrap(ErrCreateFailed, err.Error())
	}
	if err := ds.DB.Exec(initialSQL).Error; err != nil {
		ds.Close()
		return nil, errors.Wrap(err, "Error initializing store")
	}
	if err := ds.AutoMigrate(); err != nil {
		ds.Close()
		return nil, err
	}
	if err := ds.UpdateSRS(DefaultSpatialReferenceSystems()...); err != nil {
		ds.Close()
		return nil, errors.Wrap(err, "Error storing default spatial reference systems")
	}
	ds.log().Debug("store created")
	return ds, nil
}

// Open opens an existing store.
func Open(ctx *Context, uri string) (*DataStore, error) {
	ds := newDataStore(ctx, uri)
	if !ds.Exists() {
		return nil, errors.Wrapf(ErrNotFound, "store %s", uri)
	}
	if err := ds.Init(); err != nil {
		return nil, err
	}
	if !ds.verifyTable(Meta{}.TableName()) {
		ds.Close()
		return nil, errors.Wrapf(ErrInvalid, "%s is not a store", uri)
	}
	if err := ds.AutoMigrate(); err != nil {
		ds.Close()
		return nil, err
	}
	return ds, nil
}

func (ds *DataStore) Exists() bool {
	if _, err := os.Stat(ds.Uri); os.IsNotExist(err) {
		return false
	}
	return true
}

func (ds *DataStore) Size() (int64, error) {
	fi, err := os.Stat(ds.Uri)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (ds *DataStore) Init() error {
	dsn := ds.Uri + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1"
	db, err := gorm.Open("sqlite3", dsn)
	if err != nil {
		return err
	}
	db.LogMode(false)
	ds.DB = db
	return nil
}

func (ds *DataStore) AutoMigrate() error {
	err := ds.DB.AutoMigrate(Meta{}).Error
	if err != nil {
		return errors.Wrap(err, "Error migrating Meta")
	}
	err = ds.DB.AutoMigrate(Content{}).Error
	if err != nil {
		return errors.Wrap(err, "Error migrating Content")
	}
	err = ds.DB.AutoMigrate(SpatialReferenceSystem{}).Error
	if err != nil {
		return errors.Wrap(err, "Error migrating SpatialReferenceSystem")
	}
	err = ds.DB.AutoMigrate(TileMatrix{}).Error
	if err != nil {
		return errors.Wrap(err, "Error migrating TileMatrix")
	}
	err = ds.DB.AutoMigrate(TileMatrixSet{}).Error
	if err != nil {
		return errors.Wrap(err, "Error migrating TileMatrixSet")
	}
	return nil
}

func (ds *DataStore) Close() error {
	ds.objects.Range(func(key string, _ Object) bool {
		ds.objects.Delete(key)
		return true
	})
	if ds.DB == nil {
		return nil
	}
	return ds.DB.Close()
}

// Context returns the context the store was opened with.
func (ds *DataStore) Context() *Context { return ds.ctx }

func (ds *DataStore) log() *logrus.Entry {
	return ds.ctx.logger().WithField("store", filepath.Base(ds.Uri))
}

// IsReadOnly reports whether mutations are rejected.
func (ds *DataStore) IsReadOnly() bool { return ds.ctx.ReadOnly }

func (ds *DataStore) checkWritable() error {
	if ds.ctx.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// LockExecuteSQL takes or releases the store wide statement lock. It lets a
// caller run several raw statements on DB without interleaving with the
// store's own writes. Do not call other store methods while holding it.
func (ds *DataStore) LockExecuteSQL(lock bool) {
	if lock {
		ds.sqlMu.Lock()
	} else {
		ds.sqlMu.Unlock()
	}
}

// locked runs fn while holding the statement lock. Unexported helpers called
// from fn assume the lock is held.
func (ds *DataStore) locked(fn func() error) error {
	ds.sqlMu.Lock()
	defer ds.sqlMu.Unlock()
	return fn()
}

// ExecuteSQL runs a statement under the store lock.
func (ds *DataStore) ExecuteSQL(stmt string, args ...interface{}) error {
	return ds.locked(func() error {
		_, err := ds.exec(stmt, args...)
		return err
	})
}

// exec runs stmt, retrying while the database is busy.
func (ds *DataStore) exec(stmt string, args ...interface{}) (sql.Result, error) {
	var (
		res sql.Result
		err error
	)
	for i := 0; i <= busyRetries; i++ {
		res, err = ds.DB.DB().Exec(stmt, args...)
		if err == nil || !isBusy(err) {
			break
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return res, err
}

func (ds *DataStore) QueryInt(stmt string, args ...interface{}) (int, error) {
	result := 0

	rows, err := ds.DB.DB().Query(stmt, args...)
	if err != nil {
		return result, err
	}
	defer rows.Close()

	if rows.Next() {
		var v sql.NullInt64
		if err := rows.Scan(&v); err != nil {
			return result, err
		}
		result = int(v.Int64)
	}

	return result, rows.Err()
}

// StartBatchOperation suspends per feature overview maintenance until the
// matching StopBatchOperation.
func (ds *DataStore) StartBatchOperation() { ds.batch.Add(1) }

func (ds *DataStore) StopBatchOperation() {
	if ds.batch.Add(-1) < 0 {
		ds.batch.Store(0)
	}
}

func (ds *DataStore) IsBatchOperation() bool { return ds.batch.Load() > 0 }

// Properties

func (ds *DataStore) SetProperty(key, value string) error {
	if err := ds.checkWritable(); err != nil {
		return err
	}
	const upsertSQL = `INSERT OR REPLACE INTO nga_meta("key", "value") VALUES (?,?)`
	return ds.locked(func() error {
		_, err := ds.exec(upsertSQL, key, value)
		return errors.Wrapf(err, "Error setting property %s", key)
	})
}

// Property returns the value stored under key or def.
func (ds *DataStore) Property(key, def string) string {
	var m Meta
	err := ds.DB.Where(`"key" = ?`, key).First(&m).Error
	if err != nil {
		if !gorm.IsRecordNotFoundError(err) {
			ds.log().WithError(err).WithField("key", key).Warn("read property")
		}
		return def
	}
	return m.Value
}

// Properties returns every property whose key starts with prefix, keyed by the
// rest of the key.
func (ds *DataStore) Properties(prefix string) (map[string]string, error) {
	var metas []Meta
	err := ds.DB.Where(`"key" LIKE ?`, prefix+"%").Find(&metas).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(metas))
	for _, m := range metas {
		out[strings.TrimPrefix(m.Key, prefix)] = m.Value
	}
	return out, nil
}

func (ds *DataStore) DeleteProperties(prefix string) error {
	return ds.locked(func() error {
		return ds.deleteProperties(prefix)
	})
}

func (ds *DataStore) deleteProperties(prefix string) error {
	_, err := ds.exec(`DELETE FROM nga_meta WHERE "key" LIKE ?`, prefix+"%")
	return err
}

// System tables

func overviewsTableName(name string) string {
	return systemTablePrefix + name + "_overviews"
}

func overviewsIndexName(name string) string {
	return overviewsTableName(name) + "_idx"
}

func editLogTableName(name string) string {
	return systemTablePrefix + name + "_editlog"
}

func attachmentsTableName(name string) string {
	return systemTablePrefix + name + "_attachments"
}

func hashTableName(name string) string {
	return systemTablePrefix + name + "_hash"
}

const (
	createOverviewsTableSQL = `
	CREATE TABLE IF NOT EXISTS "%v"
	(x    INTEGER NOT NULL,
	 y    INTEGER NOT NULL,
	 z    INTEGER NOT NULL,
	 tile BLOB    NOT NULL)
	`
	createOverviewsIndexSQL = `CREATE INDEX IF NOT EXISTS "%v" ON "%v" (x, y, z)`

	createEditLogTableSQL = `
	CREATE TABLE IF NOT EXISTS "%v"
	(id   INTEGER PRIMARY KEY AUTOINCREMENT,
	 ffid INTEGER NOT NULL,
	 afid INTEGER NOT NULL DEFAULT -1,
	 op   INTEGER NOT NULL,
	 rid  INTEGER NOT NULL DEFAULT -1,
	 arid INTEGER NOT NULL DEFAULT -1)
	`
	createAttachmentsTableSQL = `
	CREATE TABLE IF NOT EXISTS "%v"
	(id       INTEGER PRIMARY KEY AUTOINCREMENT,
	 ffid     INTEGER NOT NULL,
	 name     TEXT,
	 descript TEXT,
	 rid      INTEGER NOT NULL DEFAULT -1)
	`
	createHashTableSQL = `
	CREATE TABLE IF NOT EXISTS "%v"
	(ffid INTEGER PRIMARY KEY,
	 hash TEXT NOT NULL,
	 rid  INTEGER NOT NULL DEFAULT -1)
	`
)

func (ds *DataStore) verifyTable(tableName string) bool {
	name := ""

	rows, err := ds.DB.DB().Query("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", tableName)
	if err != nil {
		return false
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&name); err != nil {
			return false
		}
	}

	return name != ""
}

func (ds *DataStore) createTable(format string, tableName string) error {
	if _, err := ds.exec(fmt.Sprintf(format, tableName)); err != nil {
		return errors.Wrapf(ErrCreateFailed, "table %s: %v", tableName, err)
	}
	return nil
}

func (ds *DataStore) clearTable(tableName string) error {
	if !ds.verifyTable(tableName) {
		return nil
	}
	_, err := ds.exec(fmt.Sprintf(`DELETE FROM "%v"`, tableName))
	return errors.Wrapf(err, "Error clearing %s", tableName)
}

func (ds *DataStore) dropTable(tableName string) error {
	_, err := ds.exec(fmt.Sprintf(`DROP TABLE IF EXISTS "%v"`, tableName))
	return errors.Wrapf(err, "Error dropping %s", tableName)
}

// CreateOverviewsTable creates the overview table of a feature class with its
// (x, y, z) index.
func (ds *DataStore) CreateOverviewsTable(name string) error {
	return ds.locked(func() error {
		if err := ds.createTable(createOverviewsTableSQL, overviewsTableName(name)); err != nil {
			return err
		}
		return ds.createOverviewsTableIndex(name)
	})
}

func (ds *DataStore) HasOverviewsTable(name string) bool {
	return ds.verifyTable(overviewsTableName(name))
}

func (ds *DataStore) ClearOverviewsTable(name string) error {
	return ds.locked(func() error { return ds.clearTable(overviewsTableName(name)) })
}

func (ds *DataStore) DestroyOverviewsTable(name string) error {
	return ds.locked(func() error { return ds.dropTable(overviewsTableName(name)) })
}

func (ds *DataStore) createOverviewsTableIndex(name string) error {
	stmt := fmt.Sprintf(createOverviewsIndexSQL, overviewsIndexName(name), overviewsTableName(name))
	if _, err := ds.exec(stmt); err != nil {
		return errors.Wrapf(ErrCreateFailed, "index %s: %v", overviewsIndexName(name), err)
	}
	return nil
}

func (ds *DataStore) dropOverviewsTableIndex(name string) error {
	_, err := ds.exec(fmt.Sprintf(`DROP INDEX IF EXISTS "%v"`, overviewsIndexName(name)))
	return err
}

// OverviewsCount returns the number of stored tiles at zoom z.
func (ds *DataStore) OverviewsCount(name string, z uint8) (int, error) {
	if !ds.HasOverviewsTable(name) {
		return 0, nil
	}
	stmt := fmt.Sprintf(`SELECT count(*) FROM "%v" WHERE z = ?`, overviewsTableName(name))
	return ds.QueryInt(stmt, int(z))
}

// GetTile returns the stored tile blob, or an empty slice when the tile was
// never stored.
func (ds *DataStore) GetTile(name string, t Tile) ([]byte, error) {
	b := make([]byte, 0)

	stmt := fmt.Sprintf(`SELECT tile FROM "%v" WHERE x = ? AND y = ? AND z = ? LIMIT 1`, overviewsTableName(name))
	rows, err := ds.DB.DB().Query(stmt, t.X, t.Y, int(t.Z))
	if err != nil {
		return b, err
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&b); err != nil {
			return b, err
		}
	}

	return b, rows.Err()
}

// StoreTile replaces the stored blob of a tile.
func (ds *DataStore) StoreTile(name string, t Tile, data []byte) error {
	return ds.locked(func() error { return ds.storeTile(name, t, data) })
}

func (ds *DataStore) storeTile(name string, t Tile, data []byte) error {
	table := overviewsTableName(name)
	res, err := ds.exec(fmt.Sprintf(`UPDATE "%v" SET tile = ? WHERE x = ? AND y = ? AND z = ?`, table),
		data, t.X, t.Y, int(t.Z))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = ds.exec(fmt.Sprintf(`INSERT INTO "%v" (x, y, z, tile) VALUES (?,?,?,?)`, table),
		t.X, t.Y, int(t.Z), data)
	return err
}

func (ds *DataStore) deleteTile(name string, t Tile) error {
	_, err := ds.exec(fmt.Sprintf(`DELETE FROM "%v" WHERE x = ? AND y = ? AND z = ?`, overviewsTableName(name)),
		t.X, t.Y, int(t.Z))
	return err
}

func (ds *DataStore) CreateEditHistoryTable(name string) error {
	return ds.locked(func() error { return ds.createTable(createEditLogTableSQL, editLogTableName(name)) })
}

func (ds *DataStore) ClearEditHistoryTable(name string) error {
	return ds.locked(func() error { return ds.clearTable(editLogTableName(name)) })
}

func (ds *DataStore) DestroyEditHistoryTable(name string) error {
	return ds.locked(func() error { return ds.dropTable(editLogTableName(name)) })
}

func (ds *DataStore) createAttachmentsTable(name string) error {
	return ds.createTable(createAttachmentsTableSQL, attachmentsTableName(name))
}

func (ds *DataStore) DestroyAttachmentsTable(name string) error {
	return ds.locked(func() error { return ds.dropTable(attachmentsTableName(name)) })
}

func (ds *DataStore) CreateHashTable(name string) error {
	return ds.locked(func() error { return ds.createTable(createHashTableSQL, hashTableName(name)) })
}

func (ds *DataStore) ClearHashTable(name string) error {
	return ds.locked(func() error { return ds.clearTable(hashTableName(name)) })
}

func (ds *DataStore) DestroyHashTable(name string) error {
	return ds.locked(func() error { return ds.dropTable(hashTableName(name)) })
}

// AttachmentsPath is the folder holding attachment files of every table.
func (ds *DataStore) AttachmentsPath() string {
	return strings.TrimSuffix(ds.Uri, filepath.Ext(ds.Uri)) + attachmentsExt
}
