package opportunity

import "testing"

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusNotSubmitted, StatusSubmitted, true},
		{StatusSubmitted, StatusPending, true},
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusDenied, true},
		{StatusPending, StatusDeclined, true},
		{StatusPending, StatusFlagged, true},
		{StatusPending, StatusDidntWork, true},
		{StatusApproved, StatusCompleted, true},
		{StatusFlagged, StatusPending, true},

		// No regressions, no skipping, no resurrecting.
		{StatusSubmitted, StatusNotSubmitted, false},
		{StatusPending, StatusSubmitted, false},
		{StatusNotSubmitted, StatusApproved, false},
		{StatusCompleted, StatusPending, false},
		{StatusDenied, StatusPending, false},
		{StatusDeclined, StatusSubmitted, false},
		{StatusNotSubmitted, StatusNotSubmitted, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatus_Actioned(t *testing.T) {
	for _, s := range []Status{StatusSubmitted, StatusPending, StatusApproved,
		StatusCompleted, StatusFlagged, StatusDidntWork} {
		if !s.Actioned() {
			t.Errorf("%s should be actioned", s)
		}
	}
	for _, s := range []Status{StatusNotSubmitted, StatusDenied, StatusDeclined} {
		if s.Actioned() {
			t.Errorf("%s should not be actioned", s)
		}
	}
}

func TestStatus_Valid(t *testing.T) {
	if Status("Cancelled").Valid() {
		t.Error("unknown status must be invalid")
	}
	if !StatusDidntWork.Valid() {
		t.Error("Didn't Work is a valid status")
	}
}
