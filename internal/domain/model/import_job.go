package model

import (
	"slices"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

const (
	DefaultModule    = "default"
	DefaultListLimit = 30
	DefaultKeepLast  = 100

	// StaleImportMessage is appended to a record's errors when the sweep marks it stuck.
	StaleImportMessage = "import did not finish — worker may be down or a fatal error occurred"
)

// ImportJob is one row of the imports table.
type ImportJob struct {
	ID          int64        `json:"id"`
	Key         string       `json:"key"`
	Module      string       `json:"module_name"`
	Filename    string       `json:"filename,omitempty"`
	Status      ImportStatus `json:"status"`
	TotalRows   int64        `json:"total_rows"`
	SuccessRows int64        `json:"success_rows"`
	FailedRows  int64        `json:"failed_rows"`
	Success     []string     `json:"success"`
	Errors      []string     `json:"errors"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Clone returns a deep copy so snapshots never share sample slices with staged state.
func (j *ImportJob) Clone() *ImportJob {
	if j == nil {
		return nil
	}
	c := *j
	c.Success = slices.Clone(j.Success)
	c.Errors = slices.Clone(j.Errors)
	return &c
}

// SameMutableFields reports whether the fields written by an update are equal.
// Nil and empty sample lists compare equal.
func (j *ImportJob) SameMutableFields(o *ImportJob) bool {
	if j == nil || o == nil {
		return j == o
	}
	return j.Status == o.Status &&
		j.TotalRows == o.TotalRows &&
		j.SuccessRows == o.SuccessRows &&
		j.FailedRows == o.FailedRows &&
		slices.Equal(j.Success, o.Success) &&
		slices.Equal(j.Errors, o.Errors)
}

// NormalizeModule maps a caller supplied module name onto the stored namespace.
func NormalizeModule(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultModule
	}
	if s := slug.Make(name); s != "" {
		return s
	}
	return DefaultModule
}

// ListFilter narrows List queries. Status is optional.
type ListFilter struct {
	Module string
	Status ImportStatus
	Limit  int
}

// Normalized fills in defaults.
func (f ListFilter) Normalized() ListFilter {
	f.Module = NormalizeModule(f.Module)
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	return f
}

// Progress is a point-in-time read of the counter store for one job.
type Progress struct {
	Total        int64    `json:"total"`
	Ok           int64    `json:"ok"`
	Fail         int64    `json:"fail"`
	OkMessages   []string `json:"ok_messages"`
	FailMessages []string `json:"fail_messages"`
}
