package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Repository interface {
	CreateSource(ctx context.Context, source *Source) error
	GetSource(ctx context.Context, id string) (*Source, error)
	GetSourceByPath(ctx context.Context, path string) (*Source, error)
	ListSources(ctx context.Context) ([]*Source, error)
	DeleteSource(ctx context.Context, id string) error
	UpdateSourcePresent(ctx context.Context, id string, present bool) error

	GetAsset(ctx context.Context, id string) (*Asset, error)
	ListAssets(ctx context.Context) ([]*Asset, error)
	GetAssetsBySource(ctx context.Context, sourceID string) ([]*Asset, error)
	DeleteAssetsBySource(ctx context.Context, sourceID string) error
	UpsertAsset(ctx context.Context, asset *Asset) error
	CountAssets(ctx context.Context) (int, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress, itemCount int) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const sourceColumns = `id, type, path, display_name, present, created_at`

func (r *SQLiteRepository) CreateSource(ctx context.Context, s *Source) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.Type, s.Path, s.DisplayName, boolToInt(s.Present), formatTime(s.CreatedAt))
	return err
}

func (r *SQLiteRepository) GetSource(ctx context.Context, id string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	return noRowsNil(scanSource(row))
}

func (r *SQLiteRepository) GetSourceByPath(ctx context.Context, path string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE path = ?`, path)
	return noRowsNil(scanSource(row))
}

func scanSource(row rowScanner) (*Source, error) {
	var s Source
	var present int
	var createdAt string

	if err := row.Scan(&s.ID, &s.Type, &s.Path, &s.DisplayName, &present, &createdAt); err != nil {
		return nil, err
	}
	s.Present = present == 1
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}

func (r *SQLiteRepository) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

func (r *SQLiteRepository) DeleteSource(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) UpdateSourcePresent(ctx context.Context, id string, present bool) error {
	_, err := r.db.ExecContext(ctx, "UPDATE sources SET present = ? WHERE id = ?", boolToInt(present), id)
	return err
}

const assetColumns = `id, source_id, path, filename, kind, width, height, size, mtime, fingerprint, created_at`

func scanAsset(row rowScanner) (*Asset, error) {
	var a Asset
	var kind, mtime, createdAt string
	if err := row.Scan(&a.ID, &a.SourceID, &a.Path, &a.Filename, &kind, &a.Width, &a.Height,
		&a.Size, &mtime, &a.Fingerprint, &createdAt); err != nil {
		return nil, err
	}
	a.Kind = AssetKind(kind)
	a.Mtime = parseTime(mtime)
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func (r *SQLiteRepository) GetAsset(ctx context.Context, id string) (*Asset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	return noRowsNil(scanAsset(row))
}

func (r *SQLiteRepository) ListAssets(ctx context.Context) ([]*Asset, error) {
	return r.queryAssets(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY created_at DESC`)
}

func (r *SQLiteRepository) GetAssetsBySource(ctx context.Context, sourceID string) ([]*Asset, error) {
	return r.queryAssets(ctx, `SELECT `+assetColumns+` FROM assets WHERE source_id = ? ORDER BY filename`, sourceID)
}

func (r *SQLiteRepository) queryAssets(ctx context.Context, query string, args ...any) ([]*Asset, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r *SQLiteRepository) DeleteAssetsBySource(ctx context.Context, sourceID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM assets WHERE source_id = ?", sourceID)
	return err
}

// UpsertAsset inserts a new asset or refreshes the file facts of the asset
// already cataloged at the same source path. The existing ID is kept.
func (r *SQLiteRepository) UpsertAsset(ctx context.Context, a *Asset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, path) DO UPDATE SET
			kind = excluded.kind,
			width = excluded.width,
			height = excluded.height,
			size = excluded.size,
			mtime = excluded.mtime,
			fingerprint = excluded.fingerprint
	`, a.ID, a.SourceID, a.Path, a.Filename, string(a.Kind), a.Width, a.Height,
		a.Size, formatTime(a.Mtime), a.Fingerprint, formatTime(a.CreatedAt))
	return err
}

func (r *SQLiteRepository) CountAssets(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets").Scan(&count)
	return count, err
}

const jobColumns = `id, type, status, source_id, asset_id, progress, item_count, error, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.SourceID), nullString(j.AssetID),
		j.Progress, j.ItemCount, nullString(j.Error),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return noRowsNil(scanJob(row))
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var sourceID, assetID, errMsg sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&j.ID, &j.Type, &j.Status, &sourceID, &assetID, &j.Progress, &j.ItemCount,
		&errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.SourceID = sourceID.String
	j.AssetID = assetID.String
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC`)
}

func (r *SQLiteRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress, itemCount int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, item_count = ?, updated_at = ? WHERE id = ?
	`, progress, itemCount, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// noRowsNil maps sql.ErrNoRows to a nil result, the repository's "not
// found" convention.
func noRowsNil[T any](v *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
