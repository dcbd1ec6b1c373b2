// Package codec translates between judge model types and the executor wire format.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// MaxMemoryLimitKB is the hard memory cap of the remote executor.
const MaxMemoryLimitKB = 512000

// SubmissionPayload is the JSON body of one submission.
type SubmissionPayload struct {
	SourceCode     string  `json:"source_code"`
	LanguageID     int     `json:"language_id"`
	Stdin          string  `json:"stdin"`
	ExpectedOutput string  `json:"expected_output"`
	CPUTimeLimit   float64 `json:"cpu_time_limit"`
	MemoryLimit    int     `json:"memory_limit"`
}

// BatchPayload is the JSON body of a batch submission.
type BatchPayload struct {
	Submissions []SubmissionPayload `json:"submissions"`
}

// Limits holds the configured execution limits.
type Limits struct {
	MaxExecutionTimeMs int
	MaxMemoryMB        int
}

// CPUTimeLimitSeconds converts the configured milliseconds to seconds.
func (l Limits) CPUTimeLimitSeconds() float64 {
	return float64(l.MaxExecutionTimeMs) / 1000
}

// MemoryLimitKB converts the configured megabytes, capped at MaxMemoryLimitKB.
func (l Limits) MemoryLimitKB() int {
	return min(l.MaxMemoryMB*1000, MaxMemoryLimitKB)
}

// Request builds the submission for one test case.
func (l Limits) Request(sourceCode string, languageID int, tc model.TestCase) model.SubmissionRequest {
	return model.SubmissionRequest{
		SourceCode:          sourceCode,
		LanguageID:          languageID,
		Stdin:               tc.Input,
		ExpectedOutput:      tc.ExpectedOutput,
		CPUTimeLimitSeconds: l.CPUTimeLimitSeconds(),
		MemoryLimitKB:       l.MemoryLimitKB(),
	}
}

// Encode builds the wire payload, base64 encoding the text fields.
func Encode(req model.SubmissionRequest) SubmissionPayload {
	return SubmissionPayload{
		SourceCode:     encodeText(req.SourceCode),
		LanguageID:     req.LanguageID,
		Stdin:          encodeText(req.Stdin),
		ExpectedOutput: encodeText(req.ExpectedOutput),
		CPUTimeLimit:   req.CPUTimeLimitSeconds,
		MemoryLimit:    req.MemoryLimitKB,
	}
}

// EncodeBatch encodes reqs in order.
func EncodeBatch(reqs []model.SubmissionRequest) BatchPayload {
	out := BatchPayload{Submissions: make([]SubmissionPayload, len(reqs))}
	for i, req := range reqs {
		out.Submissions[i] = Encode(req)
	}
	return out
}

type wireStatus struct {
	ID          *int   `json:"id"`
	Description string `json:"description"`
}

type wireResult struct {
	Token         string      `json:"token"`
	Status        *wireStatus `json:"status"`
	Stdout        *string     `json:"stdout"`
	Stderr        *string     `json:"stderr"`
	CompileOutput *string     `json:"compile_output"`
	Message       *string     `json:"message"`
	Time          *string     `json:"time"`
	Memory        *int64      `json:"memory"`
	ExitCode      *int        `json:"exit_code"`
	ExitSignal    *int        `json:"exit_signal"`
}

type wireToken struct {
	Token string `json:"token"`
}

// Decode parses one submission response. Missing text fields decode to "".
func Decode(raw []byte) (model.JudgementResult, error) {
	var w wireResult
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.JudgementResult{}, appErr.ParseError(err, "submission")
	}
	if w.Status == nil || w.Status.ID == nil {
		return model.JudgementResult{}, appErr.ParseError(nil, "submission status")
	}

	res := model.JudgementResult{
		Token:       w.Token,
		Status:      model.JudgementStatus(*w.Status.ID),
		Description: w.Status.Description,
		ExitCode:    w.ExitCode,
		ExitSignal:  w.ExitSignal,
	}
	res.StatusName = res.Status.Name()

	fields := []struct {
		name string
		src  *string
		dst  *string
	}{
		{"stdout", w.Stdout, &res.Stdout},
		{"stderr", w.Stderr, &res.Stderr},
		{"compile_output", w.CompileOutput, &res.CompileOutput},
		{"message", w.Message, &res.Message},
	}
	for _, f := range fields {
		text, err := decodeText(f.src)
		if err != nil {
			return model.JudgementResult{}, appErr.ParseError(err, f.name)
		}
		*f.dst = text
	}

	if w.Time != nil && *w.Time != "" {
		secs, err := strconv.ParseFloat(*w.Time, 64)
		if err != nil {
			return model.JudgementResult{}, appErr.ParseError(err, "time")
		}
		res.TimeSeconds = secs
	}
	if w.Memory != nil {
		res.MemoryKB = *w.Memory
	}
	return res, nil
}

// DecodeToken parses an asynchronous submission acknowledgement.
func DecodeToken(raw []byte) (model.SubmissionToken, error) {
	var w wireToken
	if err := json.Unmarshal(raw, &w); err != nil {
		return "", appErr.ParseError(err, "token")
	}
	if w.Token == "" {
		return "", appErr.ParseError(nil, "token")
	}
	return w.Token, nil
}

// DecodeTokens parses a batch acknowledgement. Every entry must carry a token.
func DecodeTokens(raw []byte) ([]model.SubmissionToken, error) {
	var ws []wireToken
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, appErr.ParseError(err, "batch tokens")
	}
	tokens := make([]model.SubmissionToken, len(ws))
	for i, w := range ws {
		if w.Token == "" {
			return nil, appErr.ParseError(nil, "batch token "+strconv.Itoa(i))
		}
		tokens[i] = w.Token
	}
	return tokens, nil
}

func encodeText(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// decodeText accepts line-wrapped base64 as emitted by the executor.
func decodeText(s *string) (string, error) {
	if s == nil || *s == "" {
		return "", nil
	}
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, *s)
	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
