// SPDX-License-Identifier: MIT

package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/openreelio/reelcore/internal/project"
)

// IndexEntry is one row of the workspace file index.
type IndexEntry struct {
	RelativePath      string
	Kind              project.AssetKind
	FileSize          int64
	ModifiedAt        time.Time
	AssetID           string // empty until the file is registered
	IndexedAt         time.Time
	MetadataExtracted bool
}

// Index is the SQLite-backed persistent view of workspace files.
type Index struct {
	db *sql.DB
}

// OpenIndex initialises the index database and runs migrations.
// busy_timeout avoids "database locked" errors; WAL keeps readers off the
// writer's back.
func OpenIndex(dbPath string) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping index database: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run index migrations: %w", err)
	}
	return idx, nil
}

// OpenIndexInMemory returns a throwaway index for tests.
func OpenIndexInMemory() (*Index, error) {
	return OpenIndex(":memory:")
}

// Close releases the database handle.
func (x *Index) Close() error {
	return x.db.Close()
}

func (x *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspace_files (
		relative_path TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		modified_at TEXT NOT NULL,
		asset_id TEXT,
		indexed_at TEXT NOT NULL,
		metadata_extracted INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_workspace_files_asset_id ON workspace_files(asset_id);
	CREATE INDEX IF NOT EXISTS idx_workspace_files_kind ON workspace_files(kind);
	`
	_, err := x.db.Exec(schema)
	return err
}

// Upsert inserts or refreshes a row. An existing asset binding survives
// unless explicitly cleared elsewhere; a changed modification time resets
// metadata_extracted so probing runs again.
func (x *Index) Upsert(ctx context.Context, entry IndexEntry) error {
	query := `
	INSERT INTO workspace_files
		(relative_path, kind, file_size, modified_at, asset_id, indexed_at, metadata_extracted)
	VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?)
	ON CONFLICT(relative_path) DO UPDATE SET
		kind = excluded.kind,
		file_size = excluded.file_size,
		indexed_at = excluded.indexed_at,
		asset_id = COALESCE(workspace_files.asset_id, excluded.asset_id),
		metadata_extracted = CASE
			WHEN workspace_files.modified_at != excluded.modified_at THEN 0
			ELSE workspace_files.metadata_extracted
		END,
		modified_at = excluded.modified_at
	`
	_, err := x.db.ExecContext(ctx, query,
		entry.RelativePath,
		string(entry.Kind),
		entry.FileSize,
		entry.ModifiedAt.UTC().Format(time.RFC3339Nano),
		entry.AssetID,
		entry.IndexedAt.UTC().Format(time.RFC3339Nano),
		boolToInt(entry.MetadataExtracted),
	)
	return err
}

// Remove drops a row.
func (x *Index) Remove(ctx context.Context, relativePath string) error {
	_, err := x.db.ExecContext(ctx,
		`DELETE FROM workspace_files WHERE relative_path = ?`, relativePath)
	return err
}

// Get fetches one row, or nil when the path is unknown.
func (x *Index) Get(ctx context.Context, relativePath string) (*IndexEntry, error) {
	row := x.db.QueryRowContext(ctx, `
	SELECT relative_path, kind, file_size, modified_at, asset_id, indexed_at, metadata_extracted
	FROM workspace_files WHERE relative_path = ?`, relativePath)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// All returns every row ordered by path.
func (x *Index) All(ctx context.Context) ([]IndexEntry, error) {
	return x.query(ctx, `
	SELECT relative_path, kind, file_size, modified_at, asset_id, indexed_at, metadata_extracted
	FROM workspace_files ORDER BY relative_path`)
}

// Unregistered returns rows without an asset binding.
func (x *Index) Unregistered(ctx context.Context) ([]IndexEntry, error) {
	return x.query(ctx, `
	SELECT relative_path, kind, file_size, modified_at, asset_id, indexed_at, metadata_extracted
	FROM workspace_files WHERE asset_id IS NULL ORDER BY relative_path`)
}

// ByAssetID resolves an asset binding back to its file row.
func (x *Index) ByAssetID(ctx context.Context, assetID string) (*IndexEntry, error) {
	row := x.db.QueryRowContext(ctx, `
	SELECT relative_path, kind, file_size, modified_at, asset_id, indexed_at, metadata_extracted
	FROM workspace_files WHERE asset_id = ?`, assetID)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// MarkRegistered binds a file row to a project asset.
func (x *Index) MarkRegistered(ctx context.Context, relativePath, assetID string) error {
	_, err := x.db.ExecContext(ctx,
		`UPDATE workspace_files SET asset_id = ? WHERE relative_path = ?`, assetID, relativePath)
	return err
}

// UnmarkRegistered clears a file row's asset binding.
func (x *Index) UnmarkRegistered(ctx context.Context, relativePath string) error {
	_, err := x.db.ExecContext(ctx,
		`UPDATE workspace_files SET asset_id = NULL WHERE relative_path = ?`, relativePath)
	return err
}

// UnmarkRegisteredByAssetID clears every binding to the given asset.
func (x *Index) UnmarkRegisteredByAssetID(ctx context.Context, assetID string) error {
	_, err := x.db.ExecContext(ctx,
		`UPDATE workspace_files SET asset_id = NULL WHERE asset_id = ?`, assetID)
	return err
}

// Clear wipes the table. Used when a project rebuilds its index.
func (x *Index) Clear(ctx context.Context) error {
	_, err := x.db.ExecContext(ctx, `DELETE FROM workspace_files`)
	return err
}

// Count returns the number of indexed files.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspace_files`).Scan(&n)
	return n, err
}

func (x *Index) query(ctx context.Context, q string, args ...any) ([]IndexEntry, error) {
	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []IndexEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*IndexEntry, error) {
	var (
		entry      IndexEntry
		kind       string
		modifiedAt string
		assetID    sql.NullString
		indexedAt  string
		extracted  int
	)
	if err := r.Scan(&entry.RelativePath, &kind, &entry.FileSize, &modifiedAt,
		&assetID, &indexedAt, &extracted); err != nil {
		return nil, err
	}
	entry.Kind = project.AssetKind(kind)
	entry.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modifiedAt)
	entry.IndexedAt, _ = time.Parse(time.RFC3339Nano, indexedAt)
	if assetID.Valid {
		entry.AssetID = assetID.String
	}
	entry.MetadataExtracted = extracted != 0
	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
