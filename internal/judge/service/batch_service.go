package service

import (
	"context"
	"fmt"
	"time"

	"codejudge/internal/judge/codec"
	"codejudge/internal/judge/executor"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Executor is the part of the remote executor client the orchestrator needs.
type Executor interface {
	SubmitAsync(ctx context.Context, req model.SubmissionRequest) (model.SubmissionToken, error)
	SubmitBatch(ctx context.Context, reqs []model.SubmissionRequest) ([]model.SubmissionToken, error)
	SubmitSync(ctx context.Context, req model.SubmissionRequest) (model.JudgementResult, error)
	GetSubmission(ctx context.Context, token model.SubmissionToken) (model.JudgementResult, error)
	PollBudget() (time.Duration, int)
	Clock() executor.Clock
}

// RunEventPublisher receives a summary of every finished run.
type RunEventPublisher interface {
	PublishRunFinished(ctx context.Context, event model.RunEvent) error
}

// Config holds service dependencies and settings.
type Config struct {
	Executor Executor
	Registry *language.Registry
	Limits   codec.Limits
	// Events is optional. Publish failures are logged and never fail a run.
	Events RunEventPublisher
	// PollConcurrency bounds the fetches in flight within one poll cycle.
	// Values below 2 poll pending tokens one at a time.
	PollConcurrency int
}

// Service turns one source file plus test cases into ordered judgement results.
type Service struct {
	exec            Executor
	registry        *language.Registry
	limits          codec.Limits
	events          RunEventPublisher
	pollConcurrency int
}

// NewService creates a new batch judging service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.Limits.MaxExecutionTimeMs <= 0 || cfg.Limits.MaxMemoryMB <= 0 {
		return nil, fmt.Errorf("execution limits must be positive")
	}
	concurrency := cfg.PollConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		exec:            cfg.Executor,
		registry:        cfg.Registry,
		limits:          cfg.Limits,
		events:          cfg.Events,
		pollConcurrency: concurrency,
	}, nil
}

// RunBatch judges sourceCode against every test case. The result slice has
// the same length and order as testCases.
func (s *Service) RunBatch(ctx context.Context, sourceCode, lang string, testCases []model.TestCase) ([]model.JudgementResult, error) {
	report, err := s.Run(ctx, sourceCode, lang, testCases)
	if err != nil {
		return nil, err
	}
	return report.Results, nil
}

// Run is RunBatch that also reports which strategy produced the results.
func (s *Service) Run(ctx context.Context, sourceCode, lang string, testCases []model.TestCase) (model.RunReport, error) {
	if len(testCases) == 0 {
		return model.RunReport{Strategy: model.StrategyNone, Results: []model.JudgementResult{}}, nil
	}
	languageID, err := s.registry.Resolve(lang)
	if err != nil {
		return model.RunReport{}, err
	}

	runID := uuid.NewString()
	ctx = context.WithValue(ctx, contextkey.RunID, runID)
	reqs := make([]model.SubmissionRequest, len(testCases))
	for i, tc := range testCases {
		reqs[i] = s.limits.Request(sourceCode, languageID, tc)
	}

	strategy, tokens := s.chooseStrategy(ctx, reqs)
	var results []model.JudgementResult
	switch strategy {
	case model.StrategyBatch:
		results, err = s.pollBatch(ctx, tokens)
	default:
		results, err = s.runSequential(ctx, reqs)
	}
	if err != nil {
		return model.RunReport{}, err
	}
	logger.Info(ctx, "judge run finished",
		zap.String("strategy", string(strategy)),
		zap.String("language", lang),
		zap.Int("test_cases", len(testCases)),
	)
	report := model.RunReport{Strategy: strategy, Results: results}
	s.publishFinished(ctx, runID, lang, report)
	return report, nil
}

func (s *Service) publishFinished(ctx context.Context, runID, lang string, report model.RunReport) {
	if s.events == nil {
		return
	}
	event := model.NewRunEvent(runID, lang, report, time.Now().Unix())
	if err := s.events.PublishRunFinished(ctx, event); err != nil {
		logger.Warn(ctx, "publish run event failed", zap.Error(err))
	}
}

// Submit queues one test case without waiting and returns its token.
func (s *Service) Submit(ctx context.Context, sourceCode, lang string, tc model.TestCase) (model.SubmissionToken, error) {
	languageID, err := s.registry.Resolve(lang)
	if err != nil {
		return "", err
	}
	token, err := s.exec.SubmitAsync(ctx, s.limits.Request(sourceCode, languageID, tc))
	if err != nil {
		return "", err
	}
	logger.Info(ctx, "submission queued", zap.String("token", token), zap.String("language", lang))
	return token, nil
}

// Languages returns the symbolic language names accepted by Run and Submit.
func (s *Service) Languages() []string {
	return s.registry.Names()
}

// chooseStrategy tries the batch endpoint once. Any failure of that call
// selects the sequential strategy; later per-case failures never do.
func (s *Service) chooseStrategy(ctx context.Context, reqs []model.SubmissionRequest) (model.Strategy, []model.SubmissionToken) {
	tokens, err := s.exec.SubmitBatch(ctx, reqs)
	if err != nil {
		logger.Warn(ctx, "batch submission unavailable, falling back to sequential submissions",
			zap.Int("test_cases", len(reqs)),
			zap.Error(err),
		)
		return model.StrategyFallback, nil
	}
	logger.Info(ctx, "batch submitted", zap.Int("tokens", len(tokens)))
	return model.StrategyBatch, tokens
}

// runSequential waits on one synchronous submission per test case, in order.
func (s *Service) runSequential(ctx context.Context, reqs []model.SubmissionRequest) ([]model.JudgementResult, error) {
	results := make([]model.JudgementResult, len(reqs))
	for i, req := range reqs {
		res, err := s.exec.SubmitSync(ctx, req)
		if err != nil {
			logger.Error(ctx, "sequential submission failed", zap.Int("index", i), zap.Error(err))
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// batchRun tracks result slots and the indices not yet settled.
type batchRun struct {
	tokens  []model.SubmissionToken
	slots   []model.JudgementResult
	pending []int
}

func newBatchRun(tokens []model.SubmissionToken) *batchRun {
	run := &batchRun{
		tokens:  tokens,
		slots:   make([]model.JudgementResult, len(tokens)),
		pending: make([]int, len(tokens)),
	}
	for i := range tokens {
		run.pending[i] = i
	}
	return run
}

// settle stores terminal results and drops their indices from pending,
// keeping the remaining indices in ascending order.
func (r *batchRun) settle(fetched []*model.JudgementResult) {
	remaining := r.pending[:0]
	for i, idx := range r.pending {
		res := fetched[i]
		if res == nil || !res.Status.IsTerminal() {
			remaining = append(remaining, idx)
			continue
		}
		if res.Token == "" {
			res.Token = r.tokens[idx]
		}
		r.slots[idx] = *res
	}
	r.pending = remaining
}

func (s *Service) pollBatch(ctx context.Context, tokens []model.SubmissionToken) ([]model.JudgementResult, error) {
	run := newBatchRun(tokens)
	interval, cycles := s.exec.PollBudget()
	clock := s.exec.Clock()

	for cycle := 1; cycle <= cycles && len(run.pending) > 0; cycle++ {
		if err := clock.Sleep(ctx, interval); err != nil {
			return nil, err
		}
		run.settle(s.pollCycle(ctx, run))
		logger.Debug(ctx, "batch poll cycle", zap.Int("cycle", cycle), zap.Int("pending", len(run.pending)))
	}
	if len(run.pending) > 0 {
		logger.Error(ctx, "batch poll budget exhausted",
			zap.Int("pending", len(run.pending)),
			zap.Int("cycles", cycles),
		)
		return nil, appErr.BatchTimeout(len(run.pending), cycles)
	}
	return run.slots, nil
}

// pollCycle fetches every pending token once. fetched[i] belongs to
// run.pending[i] and is nil when the fetch failed.
func (s *Service) pollCycle(ctx context.Context, run *batchRun) []*model.JudgementResult {
	fetched := make([]*model.JudgementResult, len(run.pending))
	fetch := func(i int) {
		token := run.tokens[run.pending[i]]
		res, err := s.exec.GetSubmission(ctx, token)
		if err != nil {
			logger.Warn(ctx, "poll submission failed, retrying next cycle",
				zap.String("token", token),
				zap.Int("index", run.pending[i]),
				zap.Error(err),
			)
			return
		}
		fetched[i] = &res
	}

	if s.pollConcurrency < 2 {
		for i := range run.pending {
			fetch(i)
		}
		return fetched
	}

	var g errgroup.Group
	g.SetLimit(s.pollConcurrency)
	for i := range run.pending {
		i := i
		g.Go(func() error {
			fetch(i)
			return nil
		})
	}
	_ = g.Wait()
	return fetched
}
