package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gencockpit/api/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	engine TEXT NOT NULL,
	status TEXT NOT NULL,
	prompt_id TEXT,
	prompt TEXT NOT NULL,
	negative_prompt TEXT NOT NULL DEFAULT '',
	params_json TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	progress_value REAL NOT NULL DEFAULT 0,
	progress_max REAL NOT NULL DEFAULT 0,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_prompt_id ON jobs(prompt_id);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	engine TEXT NOT NULL,
	filename TEXT NOT NULL,
	url TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	favorite INTEGER NOT NULL DEFAULT 0,
	recipe_json TEXT NOT NULL DEFAULT '{}',
	meta_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_assets_job_id ON assets(job_id);
CREATE INDEX IF NOT EXISTS idx_assets_created_at ON assets(created_at);
`

const jobColumns = `id, engine, status, prompt_id, prompt, negative_prompt, params_json,
	created_at, updated_at, progress_value, progress_max, error, harvested`

const assetColumns = `id, job_id, engine, filename, url, created_at, favorite, recipe_json, meta_json`

// SQLiteBackend stores jobs and assets in a single SQLite file
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and migrates the schema
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, err
	}

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) initSchema(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return b.ensureJobColumns(ctx)
}

// ensureJobColumns adds columns introduced after the first schema version
func (b *SQLiteBackend) ensureJobColumns(ctx context.Context) error {
	rows, err := b.db.QueryContext(ctx, "PRAGMA table_info(jobs)")
	if err != nil {
		return err
	}
	defer rows.Close()

	columns := map[string]struct{}{}
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		columns[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	need := []struct {
		name string
		ddl  string
	}{
		{name: "harvested", ddl: "ALTER TABLE jobs ADD COLUMN harvested INTEGER NOT NULL DEFAULT 0"},
	}
	for _, col := range need {
		if _, ok := columns[col.name]; ok {
			continue
		}
		if _, err := b.db.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	return nil
}

func (b *SQLiteBackend) InsertJob(ctx context.Context, job *model.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Engine, string(job.Status), nullString(job.PromptID), job.Prompt, job.NegativePrompt,
		string(params), job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(),
		job.ProgressValue, job.ProgressMax, nullString(job.Error), boolInt(job.Harvested),
	)
	return err
}

func (b *SQLiteBackend) SaveJob(ctx context.Context, job *model.Job) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, prompt_id = ?, updated_at = ?, progress_value = ?,
			progress_max = ?, error = ?, harvested = ?
		WHERE id = ?`,
		string(job.Status), nullString(job.PromptID), job.UpdatedAt.UnixNano(), job.ProgressValue,
		job.ProgressMax, nullString(job.Error), boolInt(job.Harvested), job.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrJobNotFound
	}
	return nil
}

func (b *SQLiteBackend) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (b *SQLiteBackend) GetJobByPromptID(ctx context.Context, promptID string) (*model.Job, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE prompt_id = ? ORDER BY created_at DESC LIMIT 1`, promptID)
	return scanJob(row)
}

func (b *SQLiteBackend) ListJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*model.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (b *SQLiteBackend) InsertAsset(ctx context.Context, asset *model.Asset) error {
	recipe, err := json.Marshal(asset.Recipe)
	if err != nil {
		return fmt.Errorf("marshal recipe: %w", err)
	}
	meta, err := json.Marshal(asset.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.ID, asset.JobID, asset.Engine, asset.Filename, asset.URL, asset.CreatedAt.UnixNano(),
		boolInt(asset.Favorite), string(recipe), string(meta),
	)
	return err
}

func (b *SQLiteBackend) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	return scanAsset(row)
}

func (b *SQLiteBackend) SetAssetFavorite(ctx context.Context, id string, favorite bool) error {
	res, err := b.db.ExecContext(ctx, `UPDATE assets SET favorite = ? WHERE id = ?`, boolInt(favorite), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrAssetNotFound
	}
	return nil
}

func (b *SQLiteBackend) ListAssets(ctx context.Context, limit int) ([]*model.Asset, error) {
	return b.queryAssets(ctx,
		`SELECT `+assetColumns+` FROM assets ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
}

func (b *SQLiteBackend) ListAssetsByJob(ctx context.Context, jobID string) ([]*model.Asset, error) {
	return b.queryAssets(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE job_id = ? ORDER BY created_at DESC, rowid DESC`, jobID)
}

func (b *SQLiteBackend) queryAssets(ctx context.Context, query string, args ...any) ([]*model.Asset, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := make([]*model.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	var (
		job       model.Job
		status    string
		promptID  sql.NullString
		params    string
		createdAt int64
		updatedAt int64
		errMsg    sql.NullString
		harvested int
	)
	err := row.Scan(&job.ID, &job.Engine, &status, &promptID, &job.Prompt, &job.NegativePrompt, &params,
		&createdAt, &updatedAt, &job.ProgressValue, &job.ProgressMax, &errMsg, &harvested)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	job.Status = model.JobStatus(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	job.Harvested = harvested != 0
	if promptID.Valid {
		job.PromptID = &promptID.String
	}
	if errMsg.Valid {
		job.Error = &errMsg.String
	}
	if err := json.Unmarshal([]byte(params), &job.Params); err != nil {
		return nil, fmt.Errorf("decode params of job %s: %w", job.ID, err)
	}
	if job.Params == nil {
		job.Params = map[string]any{}
	}
	return &job, nil
}

func scanAsset(row scanner) (*model.Asset, error) {
	var (
		asset     model.Asset
		createdAt int64
		favorite  int
		recipe    string
		meta      string
	)
	err := row.Scan(&asset.ID, &asset.JobID, &asset.Engine, &asset.Filename, &asset.URL, &createdAt,
		&favorite, &recipe, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}

	asset.CreatedAt = time.Unix(0, createdAt).UTC()
	asset.Favorite = favorite != 0
	if err := json.Unmarshal([]byte(recipe), &asset.Recipe); err != nil {
		return nil, fmt.Errorf("decode recipe of asset %s: %w", asset.ID, err)
	}
	if err := json.Unmarshal([]byte(meta), &asset.Meta); err != nil {
		return nil, fmt.Errorf("decode meta of asset %s: %w", asset.ID, err)
	}
	return &asset, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
