// Package model defines the judging client's request and result types.
package model

// SubmissionToken identifies one piece of work on the remote executor.
type SubmissionToken = string

// TestCase is one caller supplied input with its expected output.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// SubmissionRequest is built fresh for every test case.
type SubmissionRequest struct {
	SourceCode          string
	LanguageID          int
	Stdin               string
	ExpectedOutput      string
	CPUTimeLimitSeconds float64
	MemoryLimitKB       int
}

// JudgementResult holds one decoded judgement. Text fields are plain text.
type JudgementResult struct {
	Token         SubmissionToken `json:"token"`
	Status        JudgementStatus `json:"status_id"`
	StatusName    string          `json:"status"`
	Description   string          `json:"description,omitempty"`
	Stdout        string          `json:"stdout"`
	Stderr        string          `json:"stderr"`
	CompileOutput string          `json:"compile_output"`
	Message       string          `json:"message"`
	ExitCode      *int            `json:"exit_code,omitempty"`
	ExitSignal    *int            `json:"exit_signal,omitempty"`
	TimeSeconds   float64         `json:"time"`
	MemoryKB      int64           `json:"memory"`
}

// Strategy names how a batch run was executed.
type Strategy string

const (
	StrategyBatch    Strategy = "batch"
	StrategyFallback Strategy = "sequential"
	StrategyNone     Strategy = "none"
)

// RunReport is the outcome of one orchestrated run.
type RunReport struct {
	Strategy Strategy          `json:"strategy"`
	Results  []JudgementResult `json:"results"`
}
