package controller

import (
	"context"
	"strings"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Runner judges source code against test cases.
type Runner interface {
	Run(ctx context.Context, sourceCode, lang string, testCases []model.TestCase) (model.RunReport, error)
	Submit(ctx context.Context, sourceCode, lang string, tc model.TestCase) (model.SubmissionToken, error)
	Languages() []string
}

// Tracker reads the state of queued submissions.
type Tracker interface {
	GetSubmission(ctx context.Context, token model.SubmissionToken) (model.JudgementResult, error)
	Poll(ctx context.Context, token model.SubmissionToken) (model.JudgementResult, error)
}

// HealthChecker reports executor reachability.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

type healthInvalidator interface {
	Invalidate(ctx context.Context) error
}

// RunRequest is the body of a judge run.
type RunRequest struct {
	SourceCode string           `json:"source_code"`
	Language   string           `json:"language"`
	TestCases  []model.TestCase `json:"test_cases"`
}

// SubmitRequest is the body of a single asynchronous submission.
type SubmitRequest struct {
	SourceCode     string `json:"source_code"`
	Language       string `json:"language"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
}

// JudgeController exposes judging over HTTP.
type JudgeController struct {
	runner  Runner
	tracker Tracker
	health  HealthChecker
}

// NewJudgeController creates a new controller.
func NewJudgeController(runner Runner, tracker Tracker, health HealthChecker) *JudgeController {
	return &JudgeController{runner: runner, tracker: tracker, health: health}
}

// RegisterRoutes mounts the judge endpoints on group. submitChain runs
// before the handlers that send work to the executor.
func (h *JudgeController) RegisterRoutes(group *gin.RouterGroup, submitChain ...gin.HandlerFunc) {
	group.POST("/runs", withChain(submitChain, h.Run)...)
	group.GET("/health", h.Health)
	group.GET("/languages", h.Languages)
	group.POST("/submissions", withChain(submitChain, h.Submit)...)
	group.GET("/submissions/:token", h.GetSubmission)
}

func withChain(chain []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	handlers := make([]gin.HandlerFunc, 0, len(chain)+1)
	handlers = append(handlers, chain...)
	return append(handlers, handler)
}

// Run judges every test case and returns results in input order.
func (h *JudgeController) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Language) == "" {
		response.Error(c, appErr.ValidationError("language", "required"))
		return
	}
	report, err := h.runner.Run(c.Request.Context(), req.SourceCode, req.Language, req.TestCases)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

// Health reports whether the executor is reachable. refresh=true skips any
// cached probe outcome.
func (h *JudgeController) Health(c *gin.Context) {
	if inv, ok := h.health.(healthInvalidator); ok && c.Query("refresh") == "true" {
		if err := inv.Invalidate(c.Request.Context()); err != nil {
			logger.Warn(c.Request.Context(), "invalidate cached health failed", zap.Error(err))
		}
	}
	healthy := h.health.IsHealthy(c.Request.Context())
	if !healthy {
		response.ServiceUnavailable(c, appErr.ExecutorUnavailable, gin.H{"healthy": false})
		return
	}
	response.Success(c, gin.H{"healthy": true})
}

// Languages lists the accepted language names.
func (h *JudgeController) Languages(c *gin.Context) {
	response.Success(c, gin.H{"languages": h.runner.Languages()})
}

// Submit queues one submission and returns its token.
func (h *JudgeController) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Language) == "" {
		response.Error(c, appErr.ValidationError("language", "required"))
		return
	}
	token, err := h.runner.Submit(c.Request.Context(), req.SourceCode, req.Language, model.TestCase{
		Input:          req.Stdin,
		ExpectedOutput: req.ExpectedOutput,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"token": token})
}

// GetSubmission returns the current state of one token. With wait=true it
// polls until the submission is terminal or the poll budget runs out.
func (h *JudgeController) GetSubmission(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.BadRequest(c, "Invalid submission token")
		return
	}
	var (
		res model.JudgementResult
		err error
	)
	if c.Query("wait") == "true" {
		res, err = h.tracker.Poll(c.Request.Context(), token)
	} else {
		res, err = h.tracker.GetSubmission(c.Request.Context(), token)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
