package model

// RunEventFinished marks a run whose results are all terminal.
const RunEventFinished = "judge.run.finished"

// RunEvent summarizes one finished run for downstream consumers.
type RunEvent struct {
	Type       string            `json:"type"`
	RunID      string            `json:"run_id"`
	Language   string            `json:"language"`
	Strategy   Strategy          `json:"strategy"`
	Statuses   []JudgementStatus `json:"statuses"`
	Accepted   int               `json:"accepted"`
	Total      int               `json:"total"`
	FinishedAt int64             `json:"finished_at"`
}

// NewRunEvent builds the finished event for report.
func NewRunEvent(runID, language string, report RunReport, finishedAt int64) RunEvent {
	event := RunEvent{
		Type:       RunEventFinished,
		RunID:      runID,
		Language:   language,
		Strategy:   report.Strategy,
		Statuses:   make([]JudgementStatus, len(report.Results)),
		Total:      len(report.Results),
		FinishedAt: finishedAt,
	}
	for i, res := range report.Results {
		event.Statuses[i] = res.Status
		if res.Status == StatusAccepted {
			event.Accepted++
		}
	}
	return event
}
