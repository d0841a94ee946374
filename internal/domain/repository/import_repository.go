package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"import_tables/internal/common"
	"import_tables/internal/domain/model"
)

// ImportRepository is the durable store of import job records.
type ImportRepository interface {
	Insert(ctx context.Context, job *model.ImportJob) (int64, error)
	// Update writes the mutable fields of job. It reports false, without
	// touching updated_at, when the stored row already holds the same values.
	// A non-empty from makes the write conditional on the stored status; a
	// row that has moved elsewhere yields common.ErrConflict.
	Update(ctx context.Context, job *model.ImportJob, from model.ImportStatus) (bool, error)
	FindByID(ctx context.Context, id int64) (*model.ImportJob, error)
	// FindActiveByKey returns the newest pending/processing record for key, or nil.
	FindActiveByKey(ctx context.Context, key string) (*model.ImportJob, error)
	List(ctx context.Context, filter model.ListFilter) ([]model.ImportJob, error)
	ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]model.ImportJob, error)
}

type Option func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock overrides the time source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) { o.now = now }
}

func newStoreOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// timestamp truncates to microseconds so both engines round-trip the same value.
func (o storeOptions) timestamp() time.Time {
	return o.now().UTC().Truncate(time.Microsecond)
}

const importColumns = `id, key, module_name, filename, status, total_rows, success_rows, failed_rows, success, errors, created_at, updated_at`

func validateForInsert(job *model.ImportJob) error {
	switch {
	case job == nil:
		return fmt.Errorf("import job is nil: %w", common.ErrValidation)
	case strings.TrimSpace(job.Key) == "":
		return fmt.Errorf("import key is required: %w", common.ErrValidation)
	case strings.TrimSpace(job.Module) == "":
		return fmt.Errorf("import module is required: %w", common.ErrValidation)
	case !job.Status.Valid():
		return fmt.Errorf("import status %q is invalid: %w", job.Status, common.ErrValidation)
	case job.TotalRows < 0 || job.SuccessRows < 0 || job.FailedRows < 0:
		return fmt.Errorf("import row counts must not be negative: %w", common.ErrValidation)
	}
	return nil
}

// encodeSamples stores an empty sample list as NULL.
func encodeSamples(samples []string) (any, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(samples)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeSamples(raw []byte) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// statusFilter expands the query status; failed also covers stuck.
func statusFilter(status model.ImportStatus) []model.ImportStatus {
	switch status {
	case model.ImportStatusNone:
		return nil
	case model.ImportStatusFailed:
		return []model.ImportStatus{model.ImportStatusFailed, model.ImportStatusStuck}
	default:
		return []model.ImportStatus{status}
	}
}

type pgImportRepository struct {
	db   *sql.DB
	opts storeOptions
}

func NewPgImportRepository(db *sql.DB, opts ...Option) ImportRepository {
	return &pgImportRepository{db: db, opts: newStoreOptions(opts)}
}

func (r *pgImportRepository) Insert(ctx context.Context, job *model.ImportJob) (int64, error) {
	if err := validateForInsert(job); err != nil {
		return 0, err
	}
	success, err := encodeSamples(job.Success)
	if err != nil {
		return 0, fmt.Errorf("pgImportRepository.Insert: encode success: %w", err)
	}
	errs, err := encodeSamples(job.Errors)
	if err != nil {
		return 0, fmt.Errorf("pgImportRepository.Insert: encode errors: %w", err)
	}

	now := r.opts.timestamp()
	query := `INSERT INTO imports (key, module_name, filename, status, total_rows, success_rows, failed_rows, success, errors, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $10)
	          RETURNING id`
	var id int64
	err = r.db.QueryRowContext(ctx, query,
		job.Key, job.Module, nullableString(job.Filename), string(job.Status),
		job.TotalRows, job.SuccessRows, job.FailedRows, success, errs, now,
	).Scan(&id)
	if err != nil {
		return 0, common.StoreError("pgImportRepository.Insert", err)
	}

	job.ID = id
	job.CreatedAt = now
	job.UpdatedAt = now
	return id, nil
}

func (r *pgImportRepository) Update(ctx context.Context, job *model.ImportJob, from model.ImportStatus) (bool, error) {
	if job == nil || job.ID == 0 {
		return false, fmt.Errorf("pgImportRepository.Update: missing id: %w", common.ErrValidation)
	}
	success, err := encodeSamples(job.Success)
	if err != nil {
		return false, fmt.Errorf("pgImportRepository.Update: encode success: %w", err)
	}
	errs, err := encodeSamples(job.Errors)
	if err != nil {
		return false, fmt.Errorf("pgImportRepository.Update: encode errors: %w", err)
	}

	now := r.opts.timestamp()
	query := `UPDATE imports SET
	            status = $1, total_rows = $2, success_rows = $3, failed_rows = $4,
	            success = $5::jsonb, errors = $6::jsonb, updated_at = $7
	          WHERE id = $8
	            AND ($9::text = '' OR status = $9::text)
	            AND (status, total_rows, success_rows, failed_rows, success, errors)
	                IS DISTINCT FROM ($1, $2, $3, $4, $5::jsonb, $6::jsonb)
	          RETURNING updated_at`
	var updatedAt time.Time
	err = r.db.QueryRowContext(ctx, query,
		string(job.Status), job.TotalRows, job.SuccessRows, job.FailedRows, success, errs, now, job.ID, string(from),
	).Scan(&updatedAt)
	if err == nil {
		job.UpdatedAt = updatedAt.UTC()
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, common.StoreError("pgImportRepository.Update", err)
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM imports WHERE id = $1`, job.ID).Scan(&current)
	return false, unchangedResult("pgImportRepository.Update", job.ID, from, current, err)
}

// unchangedResult explains why an update touched no row.
func unchangedResult(op string, id int64, from model.ImportStatus, current string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("import %d: %w", id, common.ErrNotFound)
	case err != nil:
		return common.StoreError(op, err)
	case from != model.ImportStatusNone && model.ImportStatus(current) != from:
		return fmt.Errorf("import %d is %s, expected %s: %w", id, current, from, common.ErrConflict)
	}
	return nil
}

func (r *pgImportRepository) FindByID(ctx context.Context, id int64) (*model.ImportJob, error) {
	query := `SELECT ` + importColumns + ` FROM imports WHERE id = $1`
	job, err := scanPgImport(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("import %d: %w", id, common.ErrNotFound)
		}
		return nil, common.StoreError("pgImportRepository.FindByID", err)
	}
	return job, nil
}

func (r *pgImportRepository) FindActiveByKey(ctx context.Context, key string) (*model.ImportJob, error) {
	query := `SELECT ` + importColumns + ` FROM imports
	          WHERE key = $1 AND status IN ($2, $3)
	          ORDER BY created_at DESC, id DESC
	          LIMIT 1`
	job, err := scanPgImport(r.db.QueryRowContext(ctx, query, key,
		string(model.ImportStatusPending), string(model.ImportStatusProcessing)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, common.StoreError("pgImportRepository.FindActiveByKey", err)
	}
	return job, nil
}

func (r *pgImportRepository) List(ctx context.Context, filter model.ListFilter) ([]model.ImportJob, error) {
	filter = filter.Normalized()
	args := []any{filter.Module}
	query := `SELECT ` + importColumns + ` FROM imports WHERE module_name = $1`
	if statuses := statusFilter(filter.Status); len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			args = append(args, string(s))
			placeholders[i] = "$" + strconv.Itoa(len(args))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	args = append(args, filter.Limit)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))

	return r.query(ctx, "pgImportRepository.List", query, args...)
}

func (r *pgImportRepository) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]model.ImportJob, error) {
	query := `SELECT ` + importColumns + ` FROM imports
	          WHERE status = $1 AND updated_at < $2
	          ORDER BY updated_at ASC, id ASC`
	return r.query(ctx, "pgImportRepository.ListStaleProcessing", query,
		string(model.ImportStatusProcessing), olderThan.UTC())
}

func (r *pgImportRepository) query(ctx context.Context, op, query string, args ...any) ([]model.ImportJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.StoreError(op, err)
	}
	defer rows.Close()

	var jobs []model.ImportJob
	for rows.Next() {
		job, err := scanPgImport(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPgImport(row rowScanner) (*model.ImportJob, error) {
	var (
		job           model.ImportJob
		filename      sql.NullString
		status        string
		success, errs []byte
	)
	err := row.Scan(&job.ID, &job.Key, &job.Module, &filename, &status,
		&job.TotalRows, &job.SuccessRows, &job.FailedRows, &success, &errs,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return finishScan(&job, filename, status, success, errs)
}

func finishScan(job *model.ImportJob, filename sql.NullString, status string, success, errs []byte) (*model.ImportJob, error) {
	var err error
	job.Filename = filename.String
	job.Status = model.ImportStatus(status)
	if job.Success, err = decodeSamples(success); err != nil {
		return nil, fmt.Errorf("decode success samples of import %d: %w", job.ID, err)
	}
	if job.Errors, err = decodeSamples(errs); err != nil {
		return nil, fmt.Errorf("decode error samples of import %d: %w", job.ID, err)
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}
