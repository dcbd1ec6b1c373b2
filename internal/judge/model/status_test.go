package model

import "testing"

func TestIsTerminalThreshold(t *testing.T) {
	tests := []struct {
		name   string
		status JudgementStatus
		want   bool
	}{
		{"processing below threshold", StatusProcessing, false},
		{"in queue", StatusInQueue, false},
		{"accepted at threshold", StatusAccepted, true},
		{"wrong answer above threshold", StatusWrongAnswer, true},
		{"runtime error range", StatusRuntimeNZEC, true},
		{"past runtime range", StatusExecFormatError, true},
		{"unknown large id", JudgementStatus(42), true},
		{"zero", JudgementStatus(0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal(%d) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestRuntimeErrorRange(t *testing.T) {
	for id := StatusRuntimeSIGSEGV; id <= StatusRuntimeOther; id++ {
		if !id.IsRuntimeError() {
			t.Errorf("%d should be a runtime error", id)
		}
		if id.Name() != "RUNTIME_ERROR" {
			t.Errorf("Name(%d) = %s", id, id.Name())
		}
	}
	if StatusCompilationError.IsRuntimeError() || StatusInternalError.IsRuntimeError() {
		t.Error("ids outside 7..12 are not runtime errors")
	}
}

func TestNameUnknown(t *testing.T) {
	if got := JudgementStatus(99).Name(); got != "UNKNOWN_99" {
		t.Errorf("Name() = %s", got)
	}
	if got := StatusAccepted.String(); got != "ACCEPTED" {
		t.Errorf("String() = %s", got)
	}
}
