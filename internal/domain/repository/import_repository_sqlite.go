package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"import_tables/internal/common"
	"import_tables/internal/domain/model"
)

// sqliteImportColumns quotes key, which is an SQLite keyword.
const sqliteImportColumns = `id, "key", module_name, filename, status, total_rows, success_rows, failed_rows, success, errors, created_at, updated_at`

// sqliteImportRepository stores timestamps as unix microseconds so range
// comparisons on updated_at stay numeric.
type sqliteImportRepository struct {
	db   *sql.DB
	opts storeOptions
}

func NewSQLiteImportRepository(db *sql.DB, opts ...Option) ImportRepository {
	return &sqliteImportRepository{db: db, opts: newStoreOptions(opts)}
}

func (r *sqliteImportRepository) Insert(ctx context.Context, job *model.ImportJob) (int64, error) {
	if err := validateForInsert(job); err != nil {
		return 0, err
	}
	success, err := encodeSamples(job.Success)
	if err != nil {
		return 0, fmt.Errorf("sqliteImportRepository.Insert: encode success: %w", err)
	}
	errs, err := encodeSamples(job.Errors)
	if err != nil {
		return 0, fmt.Errorf("sqliteImportRepository.Insert: encode errors: %w", err)
	}

	now := r.opts.timestamp()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO imports ("key", module_name, filename, status, total_rows, success_rows, failed_rows, success, errors, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.Key, job.Module, nullableString(job.Filename), string(job.Status),
		job.TotalRows, job.SuccessRows, job.FailedRows, success, errs, now.UnixMicro(), now.UnixMicro())
	if err != nil {
		return 0, common.StoreError("sqliteImportRepository.Insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, common.StoreError("sqliteImportRepository.Insert", err)
	}

	job.ID = id
	job.CreatedAt = now
	job.UpdatedAt = now
	return id, nil
}

func (r *sqliteImportRepository) Update(ctx context.Context, job *model.ImportJob, from model.ImportStatus) (bool, error) {
	if job == nil || job.ID == 0 {
		return false, fmt.Errorf("sqliteImportRepository.Update: missing id: %w", common.ErrValidation)
	}
	success, err := encodeSamples(job.Success)
	if err != nil {
		return false, fmt.Errorf("sqliteImportRepository.Update: encode success: %w", err)
	}
	errs, err := encodeSamples(job.Errors)
	if err != nil {
		return false, fmt.Errorf("sqliteImportRepository.Update: encode errors: %w", err)
	}

	now := r.opts.timestamp()
	status := string(job.Status)
	res, err := r.db.ExecContext(ctx, `
		UPDATE imports SET
			status = ?, total_rows = ?, success_rows = ?, failed_rows = ?,
			success = ?, errors = ?, updated_at = ?
		WHERE id = ?
			AND (? = '' OR status = ?)
			AND (status IS NOT ? OR total_rows IS NOT ? OR success_rows IS NOT ?
				OR failed_rows IS NOT ? OR success IS NOT ? OR errors IS NOT ?)
	`, status, job.TotalRows, job.SuccessRows, job.FailedRows, success, errs, now.UnixMicro(),
		job.ID, string(from), string(from),
		status, job.TotalRows, job.SuccessRows, job.FailedRows, success, errs)
	if err != nil {
		return false, common.StoreError("sqliteImportRepository.Update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, common.StoreError("sqliteImportRepository.Update", err)
	}
	if affected > 0 {
		job.UpdatedAt = now
		return true, nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM imports WHERE id = ?`, job.ID).Scan(&current)
	return false, unchangedResult("sqliteImportRepository.Update", job.ID, from, current, err)
}

func (r *sqliteImportRepository) FindByID(ctx context.Context, id int64) (*model.ImportJob, error) {
	job, err := scanSQLiteImport(r.db.QueryRowContext(ctx,
		`SELECT `+sqliteImportColumns+` FROM imports WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("import %d: %w", id, common.ErrNotFound)
		}
		return nil, common.StoreError("sqliteImportRepository.FindByID", err)
	}
	return job, nil
}

func (r *sqliteImportRepository) FindActiveByKey(ctx context.Context, key string) (*model.ImportJob, error) {
	job, err := scanSQLiteImport(r.db.QueryRowContext(ctx, `
		SELECT `+sqliteImportColumns+` FROM imports
		WHERE "key" = ? AND status IN (?, ?)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, key, string(model.ImportStatusPending), string(model.ImportStatusProcessing)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, common.StoreError("sqliteImportRepository.FindActiveByKey", err)
	}
	return job, nil
}

func (r *sqliteImportRepository) List(ctx context.Context, filter model.ListFilter) ([]model.ImportJob, error) {
	filter = filter.Normalized()
	args := []any{filter.Module}
	query := `SELECT ` + sqliteImportColumns + ` FROM imports WHERE module_name = ?`
	if statuses := statusFilter(filter.Status); len(statuses) > 0 {
		for _, s := range statuses {
			args = append(args, string(s))
		}
		query += ` AND status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, filter.Limit)

	return r.query(ctx, "sqliteImportRepository.List", query, args...)
}

func (r *sqliteImportRepository) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]model.ImportJob, error) {
	return r.query(ctx, "sqliteImportRepository.ListStaleProcessing", `
		SELECT `+sqliteImportColumns+` FROM imports
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC, id ASC
	`, string(model.ImportStatusProcessing), olderThan.UTC().UnixMicro())
}

func (r *sqliteImportRepository) query(ctx context.Context, op, query string, args ...any) ([]model.ImportJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.StoreError(op, err)
	}
	defer rows.Close()

	var jobs []model.ImportJob
	for rows.Next() {
		job, err := scanSQLiteImport(rows)
		if err != nil {
			return nil, common.StoreError(op, err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, common.StoreError(op, err)
	}
	return jobs, nil
}

func scanSQLiteImport(row rowScanner) (*model.ImportJob, error) {
	var (
		job                  model.ImportJob
		filename             sql.NullString
		status               string
		success, errs        []byte
		createdAt, updatedAt int64
	)
	err := row.Scan(&job.ID, &job.Key, &job.Module, &filename, &status,
		&job.TotalRows, &job.SuccessRows, &job.FailedRows, &success, &errs,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	job.CreatedAt = time.UnixMicro(createdAt)
	job.UpdatedAt = time.UnixMicro(updatedAt)
	return finishScan(&job, filename, status, success, errs)
}
