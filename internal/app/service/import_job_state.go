package service

import (
	"context"
	"fmt"

	"import_tables/internal/common"
	"import_tables/internal/domain/model"
	"import_tables/internal/domain/repository"
)

// ImportJobState stages changes to one import record and persists them with
// Save. It has a single owner and is not safe for concurrent use.
//
// Status changes are guarded by the lifecycle table. The SetStatus* methods
// ignore a rejected change; Transition and MustTransition report it.
type ImportJobState struct {
	repo     repository.ImportRepository
	staged   model.ImportJob
	snapshot *model.ImportJob // last persisted copy, nil while unbound
}

func NewImportJobState(repo repository.ImportRepository) *ImportJobState {
	return &ImportJobState{repo: repo, staged: model.ImportJob{Module: model.DefaultModule}}
}

// BindByKey attaches to the newest active record for key. When there is none
// the state stays unbound and the next pending Save inserts a record for key.
func (s *ImportJobState) BindByKey(ctx context.Context, key string) error {
	s.staged.Key = key
	job, err := s.repo.FindActiveByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("bind import by key %q: %w", key, err)
	}
	if job != nil {
		s.attach(job)
	}
	return nil
}

func (s *ImportJobState) BindByID(ctx context.Context, id int64) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("bind import %d: %w", id, err)
	}
	s.attach(job)
	return nil
}

func (s *ImportJobState) attach(job *model.ImportJob) {
	s.staged = *job.Clone()
	s.snapshot = job.Clone()
}

func (s *ImportJobState) Bound() bool { return s.snapshot != nil }

// Dirty reports whether Save would write to the store.
func (s *ImportJobState) Dirty() bool {
	switch {
	case !s.Bound():
		return s.staged.Status == model.ImportStatusPending
	case s.staged.Status == model.ImportStatusPending:
		return false
	default:
		return !s.staged.SameMutableFields(s.snapshot)
	}
}

func (s *ImportJobState) ID() int64                  { return s.staged.ID }
func (s *ImportJobState) Key() string                { return s.staged.Key }
func (s *ImportJobState) Status() model.ImportStatus { return s.staged.Status }
func (s *ImportJobState) TotalRows() int64           { return s.staged.TotalRows }

// Job returns a copy of the staged record.
func (s *ImportJobState) Job() *model.ImportJob { return s.staged.Clone() }

// Transition applies to if the lifecycle table allows it from the current status.
func (s *ImportJobState) Transition(to model.ImportStatus) model.TransitionResult {
	res := model.Transition(s.staged.Status, to)
	if res.Applied {
		s.staged.Status = to
	}
	return res
}

func (s *ImportJobState) MustTransition(to model.ImportStatus) error {
	if res := s.Transition(to); !res.Applied {
		return fmt.Errorf("import %q: %s -> %s: %w", s.staged.Key, displayStatus(res.From), res.To, common.ErrInvalidTransition)
	}
	return nil
}

func displayStatus(s model.ImportStatus) string {
	if s == model.ImportStatusNone {
		return "(none)"
	}
	return string(s)
}

func (s *ImportJobState) SetStatusPending() *ImportJobState {
	s.Transition(model.ImportStatusPending)
	return s
}

func (s *ImportJobState) SetStatusProcessing() *ImportJobState {
	s.Transition(model.ImportStatusProcessing)
	return s
}

func (s *ImportJobState) SetStatusDone() *ImportJobState {
	s.Transition(model.ImportStatusDone)
	return s
}

func (s *ImportJobState) SetStatusFailed() *ImportJobState {
	s.Transition(model.ImportStatusFailed)
	return s
}

func (s *ImportJobState) SetStatusStuck() *ImportJobState {
	s.Transition(model.ImportStatusStuck)
	return s
}

func delta(n []int64) int64 {
	if len(n) == 0 || n[0] <= 0 {
		return 1
	}
	return n[0]
}

// IncrementTotal adds n (default 1) to the staged total.
func (s *ImportJobState) IncrementTotal(n ...int64) *ImportJobState {
	s.staged.TotalRows += delta(n)
	return s
}

func (s *ImportJobState) IncrementOk(n ...int64) *ImportJobState {
	s.staged.SuccessRows += delta(n)
	return s
}

func (s *ImportJobState) IncrementFail(n ...int64) *ImportJobState {
	s.staged.FailedRows += delta(n)
	return s
}

func (s *ImportJobState) SetTotalRows(n int64) *ImportJobState {
	s.staged.TotalRows = max(n, 0)
	return s
}

func (s *ImportJobState) SetSuccessRows(n int64) *ImportJobState {
	s.staged.SuccessRows = max(n, 0)
	return s
}

func (s *ImportJobState) SetFailedRows(n int64) *ImportJobState {
	s.staged.FailedRows = max(n, 0)
	return s
}

// MarkOk appends a success sample. The durable list is not capped.
func (s *ImportJobState) MarkOk(msg string) *ImportJobState {
	s.staged.Success = append(s.staged.Success, msg)
	return s
}

func (s *ImportJobState) MarkFail(msg string) *ImportJobState {
	s.staged.Errors = append(s.staged.Errors, msg)
	return s
}

func (s *ImportJobState) SetOkMessages(msgs []string) *ImportJobState {
	s.staged.Success = append([]string(nil), msgs...)
	return s
}

func (s *ImportJobState) SetFailMessages(msgs []string) *ImportJobState {
	s.staged.Errors = append([]string(nil), msgs...)
	return s
}

// SetModule only affects records that have not been inserted yet.
func (s *ImportJobState) SetModule(name string) *ImportJobState {
	s.staged.Module = model.NormalizeModule(name)
	return s
}

func (s *ImportJobState) SetFilename(name string) *ImportJobState {
	s.staged.Filename = name
	return s
}

// Save inserts an unbound pending record, or writes a bound record whose
// status has moved past pending and whose fields differ from the last
// persisted copy. Anything else is a no-op.
func (s *ImportJobState) Save(ctx context.Context) error {
	switch {
	case !s.Bound() && s.staged.Status == model.ImportStatusPending:
		job := s.staged.Clone()
		if job.Module == "" {
			job.Module = model.DefaultModule
		}
		if _, err := s.repo.Insert(ctx, job); err != nil {
			return fmt.Errorf("insert import %q: %w", s.staged.Key, err)
		}
		s.attach(job)

	case s.Bound() && s.staged.Status != model.ImportStatusPending:
		if s.staged.SameMutableFields(s.snapshot) {
			return nil
		}
		job := s.staged.Clone()
		if _, err := s.repo.Update(ctx, job, s.snapshot.Status); err != nil {
			return fmt.Errorf("update import %d: %w", job.ID, err)
		}
		s.attach(job)
	}
	return nil
}
