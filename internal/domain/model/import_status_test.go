package model

import "testing"

func TestTransitionTable(t *testing.T) {
	all := []ImportStatus{
		ImportStatusNone, ImportStatusPending, ImportStatusProcessing,
		ImportStatusDone, ImportStatusFailed, ImportStatusStuck,
	}
	allowed := map[[2]ImportStatus]bool{
		{ImportStatusNone, ImportStatusPending}:       true,
		{ImportStatusPending, ImportStatusProcessing}: true,
		{ImportStatusProcessing, ImportStatusDone}:    true,
		{ImportStatusProcessing, ImportStatusFailed}:  true,
		{ImportStatusProcessing, ImportStatusStuck}:   true,
	}

	for _, from := range all {
		for _, to := range all {
			res := Transition(from, to)
			want := allowed[[2]ImportStatus{from, to}]
			if res.Applied != want {
				t.Errorf("Transition(%q, %q).Applied = %v, want %v", from, to, res.Applied, want)
			}
			if want && res.Current() != to {
				t.Errorf("Transition(%q, %q).Current() = %q", from, to, res.Current())
			}
			if !want && res.Current() != from {
				t.Errorf("rejected Transition(%q, %q) changed status to %q", from, to, res.Current())
			}
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, from := range []ImportStatus{ImportStatusDone, ImportStatusFailed, ImportStatusStuck} {
		if !from.IsTerminal() {
			t.Fatalf("%q should be terminal", from)
		}
		for _, to := range []ImportStatus{ImportStatusPending, ImportStatusProcessing, ImportStatusDone, ImportStatusFailed, ImportStatusStuck} {
			if Transition(from, to).Applied {
				t.Errorf("terminal %q allowed transition to %q", from, to)
			}
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	if !ImportStatusStuck.IsFailure() || !ImportStatusFailed.IsFailure() || ImportStatusDone.IsFailure() {
		t.Fatal("IsFailure should hold for failed and stuck only")
	}
	if !ImportStatusPending.IsActive() || !ImportStatusProcessing.IsActive() || ImportStatusDone.IsActive() {
		t.Fatal("IsActive should hold for pending and processing only")
	}
	if ImportStatusNone.Valid() || ImportStatus("archived").Valid() {
		t.Fatal("empty and unknown statuses must not be valid")
	}
}

func TestNormalizeModule(t *testing.T) {
	cases := map[string]string{
		"":              DefaultModule,
		"   ":           DefaultModule,
		"orders":        "orders",
		"Orders Import": "orders-import",
		"test-module":   "test-module",
	}
	for in, want := range cases {
		if got := NormalizeModule(in); got != want {
			t.Errorf("NormalizeModule(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSameMutableFieldsTreatsNilAndEmptyAlike(t *testing.T) {
	a := &ImportJob{Status: ImportStatusDone, TotalRows: 2, Success: nil}
	b := &ImportJob{Status: ImportStatusDone, TotalRows: 2, Success: []string{}}
	if !a.SameMutableFields(b) {
		t.Fatal("nil and empty samples should compare equal")
	}
	b.Errors = []string{"x"}
	if a.SameMutableFields(b) {
		t.Fatal("differing errors should not compare equal")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := &ImportJob{Success: []string{"a"}}
	c := orig.Clone()
	c.Success[0] = "b"
	if orig.Success[0] != "a" {
		t.Fatal("Clone shares the success slice")
	}
}
