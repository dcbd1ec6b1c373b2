package model

import "strconv"

// JudgementStatus is the remote executor's numeric status id.
type JudgementStatus int

const (
	StatusInQueue           JudgementStatus = 1
	StatusProcessing        JudgementStatus = 2
	StatusAccepted          JudgementStatus = 3
	StatusWrongAnswer       JudgementStatus = 4
	StatusTimeLimitExceeded JudgementStatus = 5
	StatusCompilationError  JudgementStatus = 6
	StatusRuntimeSIGSEGV    JudgementStatus = 7
	StatusRuntimeSIGXFSZ    JudgementStatus = 8
	StatusRuntimeSIGFPE     JudgementStatus = 9
	StatusRuntimeSIGABRT    JudgementStatus = 10
	StatusRuntimeNZEC       JudgementStatus = 11
	StatusRuntimeOther      JudgementStatus = 12
	StatusInternalError     JudgementStatus = 13
	StatusExecFormatError   JudgementStatus = 14
)

var statusNames = map[JudgementStatus]string{
	StatusInQueue:           "IN_QUEUE",
	StatusProcessing:        "PROCESSING",
	StatusAccepted:          "ACCEPTED",
	StatusWrongAnswer:       "WRONG_ANSWER",
	StatusTimeLimitExceeded: "TIME_LIMIT_EXCEEDED",
	StatusCompilationError:  "COMPILATION_ERROR",
	StatusRuntimeSIGSEGV:    "RUNTIME_ERROR",
	StatusRuntimeSIGXFSZ:    "RUNTIME_ERROR",
	StatusRuntimeSIGFPE:     "RUNTIME_ERROR",
	StatusRuntimeSIGABRT:    "RUNTIME_ERROR",
	StatusRuntimeNZEC:       "RUNTIME_ERROR",
	StatusRuntimeOther:      "RUNTIME_ERROR",
	StatusInternalError:     "INTERNAL_ERROR",
	StatusExecFormatError:   "EXEC_FORMAT_ERROR",
}

// IsTerminal reports whether the status will not change any more.
// Every id at or above Accepted counts, including ids past the runtime error range.
func (s JudgementStatus) IsTerminal() bool {
	return s >= StatusAccepted
}

// IsRuntimeError reports whether s lies in the runtime error range.
func (s JudgementStatus) IsRuntimeError() bool {
	return s >= StatusRuntimeSIGSEGV && s <= StatusRuntimeOther
}

// Name returns the semantic status name.
func (s JudgementStatus) Name() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN_" + strconv.Itoa(int(s))
}

func (s JudgementStatus) String() string {
	return s.Name()
}
