package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// walJournalSizeLimit caps the WAL journal at 64 MiB.
const walJournalSizeLimit = 67108864

// SQLiteStore implements the Store interface using an embedded SQLite
// database with WAL mode. File snapshots, folder metadata, settings, the
// operation queue rows, and resolution backups all live here.
//
// The connection pool is limited to a single connection so every mutation
// serializes through it, the sole-writer discipline the queue and resolver
// rely on when they interleave with a sync pass.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// Prepared statements for repeated queries, grouped by domain.
	fileStmts    fileStatements
	folderStmts  folderStatements
	settingStmts settingStatements
	backupStmts  backupStatements
}

type fileStatements struct {
	upsert, get, exists, listPaths, del, clear *sql.Stmt
}

type folderStatements struct {
	upsert, get, del *sql.Stmt
}

type settingStatements struct {
	set, get, prefix, del *sql.Stmt
}

type backupStatements struct {
	save, forPath, deleteBefore *sql.Stmt
}

// NewStore opens the database at dbPath, applies migrations, and prepares
// all repeated statements. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening cache database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storageErr("open sqlite", err)
	}

	// Single connection: serialized writers, and ":memory:" databases
	// stay coherent across goroutines.
	db.SetMaxOpenConns(1)

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, storageErr("prepare statements", err)
	}

	logger.Info("cache database ready", "path", dbPath)

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return storageErr("set pragma "+p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// --- SQL query constants ---

const (
	sqlUpsertFile = `INSERT INTO files (path, content, cached_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content   = excluded.content,
			cached_at = excluded.cached_at`

	sqlGetFile = `SELECT path, content, cached_at FROM files WHERE path = ?`

	sqlFileExists = `SELECT 1 FROM files WHERE path = ?`

	sqlListFilePaths = `SELECT path FROM files ORDER BY path`

	sqlDeleteFile = `DELETE FROM files WHERE path = ?`

	sqlClearFiles = `DELETE FROM files`
)

const (
	sqlUpsertFolder = `INSERT INTO folders (path, metadata_json)
		VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET metadata_json = excluded.metadata_json`

	sqlGetFolder = `SELECT metadata_json FROM folders WHERE path = ?`

	sqlDeleteFolder = `DELETE FROM folders WHERE path = ?`
)

const (
	sqlSetSetting = `INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	sqlGetSetting = `SELECT value FROM settings WHERE key = ?`

	sqlSettingsPrefix = `SELECT key, value FROM settings WHERE key LIKE ? ESCAPE '\'`

	sqlDeleteSetting = `DELETE FROM settings WHERE key = ?`
)

const (
	sqlSaveBackup = `INSERT INTO backups (id, path, content, created_at)
		VALUES (?, ?, ?, ?)`

	sqlBackupsForPath = `SELECT id, path, content, created_at
		FROM backups WHERE path = ? ORDER BY created_at DESC`

	sqlDeleteBackupsBefore = `DELETE FROM backups WHERE created_at < ?`
)

// stmtDef maps a SQL string to the prepared statement pointer it populates.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// prepareAllStatements creates all prepared statements grouped by domain.
func (s *SQLiteStore) prepareAllStatements(ctx context.Context) error {
	defs := []stmtDef{
		{&s.fileStmts.upsert, sqlUpsertFile, "upsertFile"},
		{&s.fileStmts.get, sqlGetFile, "getFile"},
		{&s.fileStmts.exists, sqlFileExists, "fileExists"},
		{&s.fileStmts.listPaths, sqlListFilePaths, "listFilePaths"},
		{&s.fileStmts.del, sqlDeleteFile, "deleteFile"},
		{&s.fileStmts.clear, sqlClearFiles, "clearFiles"},
		{&s.folderStmts.upsert, sqlUpsertFolder, "upsertFolder"},
		{&s.folderStmts.get, sqlGetFolder, "getFolder"},
		{&s.folderStmts.del, sqlDeleteFolder, "deleteFolder"},
		{&s.settingStmts.set, sqlSetSetting, "setSetting"},
		{&s.settingStmts.get, sqlGetSetting, "getSetting"},
		{&s.settingStmts.prefix, sqlSettingsPrefix, "settingsWithPrefix"},
		{&s.settingStmts.del, sqlDeleteSetting, "deleteSetting"},
		{&s.backupStmts.save, sqlSaveBackup, "saveBackup"},
		{&s.backupStmts.forPath, sqlBackupsForPath, "backupsForPath"},
		{&s.backupStmts.deleteBefore, sqlDeleteBackupsBefore, "deleteBackupsBefore"},
	}

	return prepareAll(ctx, s.db, defs)
}

// DB exposes the underlying connection so the operation queue can share
// the same serialized-writer database (the queue rows live beside the
// cache tables).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- File methods ---

// UpsertFile writes file content under path with a fresh timestamp.
func (s *SQLiteStore) UpsertFile(ctx context.Context, path string, content []byte) error {
	s.logger.Debug("upserting file", "path", path, "bytes", len(content))

	if _, err := s.fileStmts.upsert.ExecContext(ctx, path, content, NowNano()); err != nil {
		return storageErr(fmt.Sprintf("upsert file %q", path), err)
	}

	return nil
}

// GetFile retrieves a cached file. Returns (nil, nil) when the path is
// not cached — callers use the nil file to distinguish "never seen" from
// an I/O failure.
func (s *SQLiteStore) GetFile(ctx context.Context, path string) (*CachedFile, error) {
	f := &CachedFile{}

	err := s.fileStmts.get.QueryRowContext(ctx, path).Scan(&f.Path, &f.Content, &f.CachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, storageErr(fmt.Sprintf("get file %q", path), err)
	}

	return f, nil
}

// FileExists reports whether path has a cached snapshot.
func (s *SQLiteStore) FileExists(ctx context.Context, path string) (bool, error) {
	var one int

	err := s.fileStmts.exists.QueryRowContext(ctx, path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, storageErr(fmt.Sprintf("file exists %q", path), err)
	}

	return true, nil
}

// ListFilePaths returns every cached path in lexical order.
func (s *SQLiteStore) ListFilePaths(ctx context.Context) ([]string, error) {
	rows, err := s.fileStmts.listPaths.QueryContext(ctx)
	if err != nil {
		return nil, storageErr("list file paths", err)
	}
	defer rows.Close()

	var paths []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, storageErr("scan file path", err)
		}

		paths = append(paths, p)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate file paths", err)
	}

	return paths, nil
}

// DeleteFile removes a cached snapshot. Deleting a missing path is a no-op.
func (s *SQLiteStore) DeleteFile(ctx context.Context, path string) error {
	s.logger.Debug("deleting file", "path", path)

	if _, err := s.fileStmts.del.ExecContext(ctx, path); err != nil {
		return storageErr(fmt.Sprintf("delete file %q", path), err)
	}

	return nil
}

// ClearFiles removes all cached snapshots.
func (s *SQLiteStore) ClearFiles(ctx context.Context) error {
	s.logger.Info("clearing file cache")

	if _, err := s.fileStmts.clear.ExecContext(ctx); err != nil {
		return storageErr("clear files", err)
	}

	return nil
}

// --- Folder methods ---

// UpsertFolder writes the metadata blob for a folder path.
func (s *SQLiteStore) UpsertFolder(ctx context.Context, path, metadataJSON string) error {
	if _, err := s.folderStmts.upsert.ExecContext(ctx, path, metadataJSON); err != nil {
		return storageErr(fmt.Sprintf("upsert folder %q", path), err)
	}

	return nil
}

// GetFolder returns the metadata blob for a folder, empty when untracked.
func (s *SQLiteStore) GetFolder(ctx context.Context, path string) (string, error) {
	var meta string

	err := s.folderStmts.get.QueryRowContext(ctx, path).Scan(&meta)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", storageErr(fmt.Sprintf("get folder %q", path), err)
	}

	return meta, nil
}

// DeleteFolder removes folder metadata.
func (s *SQLiteStore) DeleteFolder(ctx context.Context, path string) error {
	if _, err := s.folderStmts.del.ExecContext(ctx, path); err != nil {
		return storageErr(fmt.Sprintf("delete folder %q", path), err)
	}

	return nil
}

// --- Setting methods ---

// SetSetting persists a key-value pair (insert or update).
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.settingStmts.set.ExecContext(ctx, key, value); err != nil {
		return storageErr(fmt.Sprintf("set setting %q", key), err)
	}

	return nil
}

// GetSetting retrieves a setting value, empty when unset.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string

	err := s.settingStmts.get.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", storageErr(fmt.Sprintf("get setting %q", key), err)
	}

	return value, nil
}

// SettingsWithPrefix returns all settings whose key starts with prefix.
func (s *SQLiteStore) SettingsWithPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)

	rows, err := s.settingStmts.prefix.QueryContext(ctx, escaped+"%")
	if err != nil {
		return nil, storageErr(fmt.Sprintf("settings with prefix %q", prefix), err)
	}
	defer rows.Close()

	out := make(map[string]string)

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, storageErr("scan setting row", err)
		}

		out[k] = v
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate setting rows", err)
	}

	return out, nil
}

// DeleteSetting removes a setting key.
func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.settingStmts.del.ExecContext(ctx, key); err != nil {
		return storageErr(fmt.Sprintf("delete setting %q", key), err)
	}

	return nil
}

// --- Backup methods ---

// SaveBackup inserts a shadow copy row.
func (s *SQLiteStore) SaveBackup(ctx context.Context, b *Backup) error {
	s.logger.Info("saving backup", "id", b.ID, "path", b.Path)

	if _, err := s.backupStmts.save.ExecContext(ctx, b.ID, b.Path, b.Content, b.CreatedAt); err != nil {
		return storageErr(fmt.Sprintf("save backup %q", b.Path), err)
	}

	return nil
}

// BackupsForPath returns all backups for an original path, newest first.
func (s *SQLiteStore) BackupsForPath(ctx context.Context, path string) ([]*Backup, error) {
	rows, err := s.backupStmts.forPath.QueryContext(ctx, path)
	if err != nil {
		return nil, storageErr(fmt.Sprintf("backups for %q", path), err)
	}
	defer rows.Close()

	var backups []*Backup

	for rows.Next() {
		b := &Backup{}
		if err := rows.Scan(&b.ID, &b.Path, &b.Content, &b.CreatedAt); err != nil {
			return nil, storageErr("scan backup row", err)
		}

		backups = append(backups, b)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate backup rows", err)
	}

	return backups, nil
}

// DeleteBackupsBefore purges backups older than cutoff (Unix nanoseconds).
// Returns the number of rows deleted.
func (s *SQLiteStore) DeleteBackupsBefore(ctx context.Context, cutoff int64) (int64, error) {
	result, err := s.backupStmts.deleteBefore.ExecContext(ctx, cutoff)
	if err != nil {
		return 0, storageErr("delete old backups", err)
	}

	affected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		s.logger.Warn("could not read rows affected", "error", rowsErr)
	}

	return affected, nil
}

// Close closes all prepared statements and the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing cache database")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return storageErr("close database", err)
	}

	return nil
}

// closeStatements closes all prepared statements, collecting errors.
func (s *SQLiteStore) closeStatements() error {
	stmts := []*sql.Stmt{
		s.fileStmts.upsert, s.fileStmts.get, s.fileStmts.exists,
		s.fileStmts.listPaths, s.fileStmts.del, s.fileStmts.clear,
		s.folderStmts.upsert, s.folderStmts.get, s.folderStmts.del,
		s.settingStmts.set, s.settingStmts.get,
		s.settingStmts.prefix, s.settingStmts.del,
		s.backupStmts.save, s.backupStmts.forPath, s.backupStmts.deleteBefore,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
