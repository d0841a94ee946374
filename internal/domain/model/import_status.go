package model

type ImportStatus string

const (
	ImportStatusNone       ImportStatus = ""
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusDone       ImportStatus = "done"
	ImportStatusFailed     ImportStatus = "failed"
	ImportStatusStuck      ImportStatus = "stuck" // terminal; counts as a failure when querying
)

// ActiveStatuses are the statuses that hold a job key.
var ActiveStatuses = []ImportStatus{ImportStatusPending, ImportStatusProcessing}

// transitions lists, per target status, the only status it may be entered from.
var transitions = map[ImportStatus]ImportStatus{
	ImportStatusPending:    ImportStatusNone,
	ImportStatusProcessing: ImportStatusPending,
	ImportStatusDone:       ImportStatusProcessing,
	ImportStatusFailed:     ImportStatusProcessing,
	ImportStatusStuck:      ImportStatusProcessing,
}

func (s ImportStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s ImportStatus) IsActive() bool {
	return s == ImportStatusPending || s == ImportStatusProcessing
}

func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusDone || s == ImportStatusFailed || s == ImportStatusStuck
}

func (s ImportStatus) IsFailure() bool {
	return s == ImportStatusFailed || s == ImportStatusStuck
}

// TransitionResult describes the outcome of a guarded status change.
type TransitionResult struct {
	Applied bool
	From    ImportStatus
	To      ImportStatus
}

// Current is the status after the attempt.
func (r TransitionResult) Current() ImportStatus {
	if r.Applied {
		return r.To
	}
	return r.From
}

// Transition evaluates from -> to against the lifecycle table. It never panics
// and never mutates anything; a rejected result carries the unchanged status.
func Transition(from, to ImportStatus) TransitionResult {
	required, ok := transitions[to]
	return TransitionResult{Applied: ok && required == from, From: from, To: to}
}
