// Package executortest runs an in-process fake of the remote executor.
package executortest

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"codejudge/internal/judge/codec"
	"codejudge/internal/judge/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Submission is a decoded submission as received by the fake.
type Submission struct {
	SourceCode     string
	LanguageID     int
	Stdin          string
	ExpectedOutput string
	CPUTimeLimit   float64
	MemoryLimit    int
}

// Outcome is what the fake reports once a submission is judged.
type Outcome struct {
	Status        model.JudgementStatus
	Stdout        string
	Stderr        string
	CompileOutput string
	Message       string
	ExitCode      int
}

// JudgeFunc decides the outcome of a submission.
type JudgeFunc func(Submission) Outcome

// EchoJudge accepts when the output produced by run matches the expected output.
func EchoJudge(run func(Submission) string) JudgeFunc {
	return func(s Submission) Outcome {
		out := run(s)
		if strings.TrimSpace(out) == strings.TrimSpace(s.ExpectedOutput) {
			return Outcome{Status: model.StatusAccepted, Stdout: out}
		}
		return Outcome{Status: model.StatusWrongAnswer, Stdout: out}
	}
}

// Options tunes the fake.
type Options struct {
	Judge JudgeFunc
	// PendingPolls is how many fetches report Processing before the outcome.
	PendingPolls int
	// NeverFinish keeps every submission in Processing.
	NeverFinish bool
	// DisableBatch makes the batch endpoint answer 404.
	DisableBatch bool
	// FailPolls makes the first N fetches answer 503.
	FailPolls int
	// AuthToken, when set, is required in the X-Auth-Token header.
	AuthToken string
	// Languages lists language descriptors served by /languages.
	Languages []gin.H
}

type entry struct {
	sub     Submission
	outcome Outcome
	fetches int
}

// Server is a fake executor backed by gin and httptest.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	opts    Options
	entries map[string]*entry
	calls   []string
	polls   map[string]int
}

// NewServer starts a fake executor. Callers must Close it.
func NewServer(opts Options) *Server {
	if opts.Judge == nil {
		opts.Judge = func(Submission) Outcome { return Outcome{Status: model.StatusAccepted} }
	}
	if opts.Languages == nil {
		opts.Languages = []gin.H{{"id": 54, "name": "C++ (GCC 9.2.0)"}, {"id": 71, "name": "Python (3.8.1)"}}
	}
	s := &Server{opts: opts, entries: make(map[string]*entry), polls: make(map[string]int)}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(s.record, s.auth)
	router.GET("/languages", s.languages)
	router.POST("/submissions", s.submit)
	router.POST("/submissions/batch", s.batch)
	router.GET("/submissions/:token", s.fetch)
	s.Server = httptest.NewServer(router)
	return s
}

// Calls returns "METHOD path" for every request received, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CountCalls counts received requests whose "METHOD path" has prefix.
func (s *Server) CountCalls(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// AuthToken returns the token the fake requires, if any.
func (s *Server) AuthToken() string {
	return s.opts.AuthToken
}

// Received returns the stored submission for token.
func (s *Server) Received(token string) (Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[token]
	if !ok {
		return Submission{}, false
	}
	return e.sub, true
}

func (s *Server) record(c *gin.Context) {
	s.mu.Lock()
	call := c.Request.Method + " " + c.Request.URL.Path
	if wait := c.Query("wait"); wait != "" {
		call += " wait=" + wait
	}
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	c.Next()
}

func (s *Server) auth(c *gin.Context) {
	if s.opts.AuthToken != "" && c.GetHeader("X-Auth-Token") != s.opts.AuthToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed."})
		return
	}
	c.Next()
}

func (s *Server) languages(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Languages)
}

func (s *Server) submit(c *gin.Context) {
	var payload codec.SubmissionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	sub, err := decodeSubmission(payload)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if sub.LanguageID <= 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"language_id": []string{"can't be blank"}})
		return
	}
	token := s.store(sub)
	if c.Query("wait") == "true" {
		s.mu.Lock()
		e := s.entries[token]
		s.mu.Unlock()
		c.JSON(http.StatusCreated, render(token, e.outcome, true))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token})
}

func (s *Server) batch(c *gin.Context) {
	if s.opts.DisableBatch {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch submissions are disabled"})
		return
	}
	var payload codec.BatchPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(payload.Submissions))
	for _, p := range payload.Submissions {
		sub, err := decodeSubmission(p)
		if err != nil {
			out = append(out, gin.H{"source_code": []string{err.Error()}})
			continue
		}
		out = append(out, gin.H{"token": s.store(sub)})
	}
	c.JSON(http.StatusCreated, out)
}

func (s *Server) fetch(c *gin.Context) {
	token := c.Param("token")
	s.mu.Lock()
	s.polls[token]++
	total := 0
	for _, n := range s.polls {
		total += n
	}
	e, ok := s.entries[token]
	if ok {
		e.fetches++
	}
	s.mu.Unlock()

	if total <= s.opts.FailPolls {
		c.String(http.StatusServiceUnavailable, "upstream busy")
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}
	finished := !s.opts.NeverFinish && e.fetches > s.opts.PendingPolls
	c.JSON(http.StatusOK, render(token, e.outcome, finished))
}

func (s *Server) store(sub Submission) string {
	token := uuid.NewString()
	outcome := s.opts.Judge(sub)
	s.mu.Lock()
	s.entries[token] = &entry{sub: sub, outcome: outcome}
	s.mu.Unlock()
	return token
}

func decodeSubmission(p codec.SubmissionPayload) (Submission, error) {
	fields := []string{p.SourceCode, p.Stdin, p.ExpectedOutput}
	plain := make([]string, len(fields))
	for i, f := range fields {
		data, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			return Submission{}, fmt.Errorf("field %d is not base64: %w", i, err)
		}
		plain[i] = string(data)
	}
	return Submission{
		SourceCode:     plain[0],
		LanguageID:     p.LanguageID,
		Stdin:          plain[1],
		ExpectedOutput: plain[2],
		CPUTimeLimit:   p.CPUTimeLimit,
		MemoryLimit:    p.MemoryLimit,
	}, nil
}

var statusDescriptions = map[model.JudgementStatus]string{
	model.StatusProcessing:        "Processing",
	model.StatusAccepted:          "Accepted",
	model.StatusWrongAnswer:       "Wrong Answer",
	model.StatusTimeLimitExceeded: "Time Limit Exceeded",
	model.StatusCompilationError:  "Compilation Error",
	model.StatusRuntimeNZEC:       "Runtime Error (NZEC)",
}

func render(token string, out Outcome, finished bool) gin.H {
	if !finished {
		return gin.H{
			"token":          token,
			"status":         gin.H{"id": int(model.StatusProcessing), "description": "Processing"},
			"stdout":         nil,
			"stderr":         nil,
			"compile_output": nil,
			"message":        nil,
			"time":           nil,
			"memory":         nil,
			"exit_code":      nil,
			"exit_signal":    nil,
		}
	}
	return gin.H{
		"token":          token,
		"status":         gin.H{"id": int(out.Status), "description": statusDescriptions[out.Status]},
		"stdout":         wrapped(out.Stdout),
		"stderr":         wrapped(out.Stderr),
		"compile_output": wrapped(out.CompileOutput),
		"message":        wrapped(out.Message),
		"time":           "0.004",
		"memory":         3280,
		"exit_code":      out.ExitCode,
		"exit_signal":    nil,
	}
}

// wrapped encodes text the way the executor does: base64 in 60 column lines.
func wrapped(text string) interface{} {
	if text == "" {
		return nil
	}
	enc := base64.StdEncoding.EncodeToString([]byte(text))
	var b strings.Builder
	for len(enc) > 60 {
		b.WriteString(enc[:60])
		b.WriteByte('\n')
		enc = enc[60:]
	}
	b.WriteString(enc)
	b.WriteByte('\n')
	return b.String()
}
