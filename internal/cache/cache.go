// Package cache implements the persistent edit cache from spec §4.D: a
// per-trace-directory sidecar database keyed by trace file path, mtime, and
// size, storing already-resolved EditRecords so repeated blame/extraction
// runs over an unchanged trace file skip re-parsing it entirely.
//
// The teacher's own SessionCache (parser/cache.go) only ever lived in
// memory for the duration of one TUI process; here the same
// "skip rescanning files that haven't changed" idea is backed by a real
// on-disk store so the cache survives across process runs.
package cache

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "modernc.org/sqlite"

	"github.com/ai4curation/ai-blame/internal/models"
)

// dbFileName is the sidecar database's on-disk name within a trace
// directory. The ".ddb" extension is historical and carries no format
// meaning for the SQLite store underneath it.
const dbFileName = ".ai-blame.ddb"

// FileMeta is the recorded mtime/size fingerprint of a trace file at the
// time its edits were last cached.
type FileMeta struct {
	FileMtimeNs   int64
	FileSizeBytes int64
	ContentHash   uint64
	Dialect       string
	ChangeCount   int
}

// Manager is a sidecar cache of resolved EditRecords for the trace files in
// one directory. Safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// Open opens (creating if necessary) the sidecar database for dir.
func Open(dir string) (*Manager, error) {
	dbPath := filepath.Join(dir, dbFileName)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, &models.CacheError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)

	m := &Manager{db: db, dbPath: dbPath}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// DBPath returns the absolute path of the sidecar database file.
func (m *Manager) DBPath() string {
	return m.dbPath
}

// Close releases the underlying database handle.
func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS file_meta (
			trace_path TEXT PRIMARY KEY,
			file_mtime_ns INTEGER NOT NULL,
			file_size_bytes INTEGER NOT NULL,
			content_hash INTEGER NOT NULL,
			dialect TEXT NOT NULL,
			change_count INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS edits (
			trace_path TEXT NOT NULL,
			seq INTEGER NOT NULL,
			file_path TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			model TEXT NOT NULL,
			session_id TEXT NOT NULL,
			agent_tool TEXT NOT NULL,
			agent_version TEXT NOT NULL,
			is_create INTEGER NOT NULL,
			change_size INTEGER NOT NULL,
			old_string TEXT,
			new_string TEXT,
			structured_patch TEXT,
			create_content TEXT,
			has_old_string INTEGER NOT NULL,
			has_new_string INTEGER NOT NULL,
			has_structured_patch INTEGER NOT NULL,
			has_create_content INTEGER NOT NULL,
			PRIMARY KEY (trace_path, seq)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.Exec(stmt); err != nil {
			return &models.CacheError{Op: "migrate", Err: err}
		}
	}
	return nil
}

// StoreEdits replaces any previously cached edits for traceFile with edits,
// recording traceFile's current mtime/size fingerprint, dialect, and
// changeCount. The replace is atomic: a reader never observes a partially
// written set of edits for one trace file.
func (m *Manager) StoreEdits(traceFile, dialect string, edits []models.EditRecord, changeCount int) error {
	info, err := os.Stat(traceFile)
	if err != nil {
		return &models.IOError{Path: traceFile, Err: err}
	}
	hash, err := hashFile(traceFile)
	if err != nil {
		return &models.IOError{Path: traceFile, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.Begin()
	if err != nil {
		return &models.CacheError{Op: "store_edits", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM edits WHERE trace_path = ?`, traceFile); err != nil {
		return &models.CacheError{Op: "store_edits", Err: err}
	}
	if _, err := tx.Exec(
		`INSERT INTO file_meta (trace_path, file_mtime_ns, file_size_bytes, content_hash, dialect, change_count)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(trace_path) DO UPDATE SET
			file_mtime_ns=excluded.file_mtime_ns,
			file_size_bytes=excluded.file_size_bytes,
			content_hash=excluded.content_hash,
			dialect=excluded.dialect,
			change_count=excluded.change_count`,
		traceFile, info.ModTime().UnixNano(), info.Size(), int64(hash), dialect, changeCount,
	); err != nil {
		return &models.CacheError{Op: "store_edits", Err: err}
	}

	for seq, e := range edits {
		if err := insertEdit(tx, traceFile, seq, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.CacheError{Op: "store_edits", Err: err}
	}
	return nil
}

func insertEdit(tx *sql.Tx, traceFile string, seq int, e models.EditRecord) error {
	_, err := tx.Exec(
		`INSERT INTO edits (
			trace_path, seq, file_path, timestamp, model, session_id, agent_tool,
			agent_version, is_create, change_size, old_string, new_string,
			structured_patch, create_content, has_old_string, has_new_string,
			has_structured_patch, has_create_content
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		traceFile, seq, e.FilePath, e.Timestamp.Format(time.RFC3339Nano), e.Model,
		e.SessionID, e.AgentTool, e.AgentVersion, boolToInt(e.IsCreate), e.ChangeSize,
		nullableString(e.HasOldString, e.OldString),
		nullableString(e.HasNewString, e.NewString),
		nullableString(e.HasStructuredPatch, e.StructuredPatch),
		nullableString(e.HasCreateContent, e.CreateContent),
		boolToInt(e.HasOldString), boolToInt(e.HasNewString),
		boolToInt(e.HasStructuredPatch), boolToInt(e.HasCreateContent),
	)
	if err != nil {
		return &models.CacheError{Op: "store_edits", Err: err}
	}
	return nil
}

// GetCachedEdits returns the cached edits for traceFile if present and
// still fresh (its on-disk mtime and size match what was recorded at store
// time). A stale or absent entry returns ok=false, never an error.
func (m *Manager) GetCachedEdits(traceFile string) (edits []models.EditRecord, ok bool, err error) {
	meta, found, err := m.GetFileMetadata(traceFile)
	if err != nil || !found {
		return nil, false, err
	}

	info, statErr := os.Stat(traceFile)
	if statErr != nil {
		return nil, false, nil
	}
	if info.ModTime().UnixNano() != meta.FileMtimeNs || info.Size() != meta.FileSizeBytes {
		return nil, false, nil
	}
	// A same-size rewrite can leave the mtime unchanged only on filesystems
	// with whole-second timestamps; a nanosecond-precision mtime that still
	// matches is trusted without re-reading the file, so the hash check —
	// which costs a full scan of the trace — runs only when the recorded
	// mtime is coarse enough to be ambiguous.
	if meta.FileMtimeNs%int64(time.Second) == 0 {
		hash, hashErr := hashFile(traceFile)
		if hashErr != nil || hash != meta.ContentHash {
			return nil, false, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.db.Query(
		`SELECT file_path, timestamp, model, session_id, agent_tool, agent_version,
		        is_create, change_size, old_string, new_string, structured_patch,
		        create_content, has_old_string, has_new_string, has_structured_patch,
		        has_create_content
		 FROM edits WHERE trace_path = ? ORDER BY seq ASC`,
		traceFile,
	)
	if err != nil {
		return nil, false, &models.CacheError{Op: "get_cached_edits", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEdit(rows)
		if err != nil {
			return nil, false, &models.CacheError{Op: "get_cached_edits", Err: err}
		}
		edits = append(edits, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, &models.CacheError{Op: "get_cached_edits", Err: err}
	}
	return edits, true, nil
}

func scanEdit(rows *sql.Rows) (models.EditRecord, error) {
	var (
		e                                                    models.EditRecord
		tsRaw                                                string
		isCreate                                             int
		oldString, newString, structuredPatch, createContent sql.NullString
		hasOld, hasNew, hasPatch, hasCreate                  int
	)
	if err := rows.Scan(
		&e.FilePath, &tsRaw, &e.Model, &e.SessionID, &e.AgentTool, &e.AgentVersion,
		&isCreate, &e.ChangeSize, &oldString, &newString, &structuredPatch,
		&createContent, &hasOld, &hasNew, &hasPatch, &hasCreate,
	); err != nil {
		return e, err
	}

	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return e, fmt.Errorf("parse cached timestamp %q: %w", tsRaw, err)
	}
	e.Timestamp = ts
	e.IsCreate = isCreate != 0
	e.HasOldString = hasOld != 0
	e.HasNewString = hasNew != 0
	e.HasStructuredPatch = hasPatch != 0
	e.HasCreateContent = hasCreate != 0
	e.OldString = oldString.String
	e.NewString = newString.String
	e.StructuredPatch = structuredPatch.String
	e.CreateContent = createContent.String
	return e, nil
}

// GetFileMetadata returns the recorded mtime/size/dialect/change-count
// fingerprint for traceFile, regardless of whether the file's current
// on-disk state still matches it.
func (m *Manager) GetFileMetadata(traceFile string) (FileMeta, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.db.QueryRow(
		`SELECT file_mtime_ns, file_size_bytes, content_hash, dialect, change_count FROM file_meta WHERE trace_path = ?`,
		traceFile,
	)
	var meta FileMeta
	var contentHash int64
	if err := row.Scan(&meta.FileMtimeNs, &meta.FileSizeBytes, &contentHash, &meta.Dialect, &meta.ChangeCount); err != nil {
		if err == sql.ErrNoRows {
			return FileMeta{}, false, nil
		}
		return FileMeta{}, false, &models.CacheError{Op: "get_file_metadata", Err: err}
	}
	meta.ContentHash = uint64(contentHash)
	return meta, true, nil
}

// InvalidateFiles removes every cached entry for the given trace file paths.
// Paths not present in the cache are silently ignored.
func (m *Manager) InvalidateFiles(paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.Begin()
	if err != nil {
		return &models.CacheError{Op: "invalidate_files", Err: err}
	}
	defer tx.Rollback()

	for _, p := range paths {
		if _, err := tx.Exec(`DELETE FROM file_meta WHERE trace_path = ?`, p); err != nil {
			return &models.CacheError{Op: "invalidate_files", Err: err}
		}
		if _, err := tx.Exec(`DELETE FROM edits WHERE trace_path = ?`, p); err != nil {
			return &models.CacheError{Op: "invalidate_files", Err: err}
		}
	}
	return tx.Commit()
}

// hashFile returns the xxhash64 digest of a file's full content,
// supplementing the mtime/size identity tuple with a check that survives
// same-second rewrites.
func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(has bool, s string) sql.NullString {
	if !has {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
