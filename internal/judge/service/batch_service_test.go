package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"codejudge/internal/judge/codec"
	"codejudge/internal/judge/executor"
	"codejudge/internal/judge/executor/executortest"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

const twoSumSource = `#include <bits/stdc++.h>
using namespace std;
int main() {
    int n; cin >> n;
    vector<int> a(n);
    for (auto &x : a) cin >> x;
    int target; cin >> target;
    unordered_map<int, int> seen;
    for (int i = 0; i < n; i++) {
        if (seen.count(target - a[i])) { cout << seen[target - a[i]] << " " << i << endl; return 0; }
        seen[a[i]] = i;
    }
}`

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakeClock) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sleeps)
}

var testLimits = codec.Limits{MaxExecutionTimeMs: 2000, MaxMemoryMB: 256}

func newTestService(t *testing.T, srv *executortest.Server, concurrency int) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	client := executor.NewClient(executor.Config{BaseURL: srv.URL}, clock)
	svc, err := NewService(Config{
		Executor:        client,
		Registry:        language.NewRegistry(nil),
		Limits:          testLimits,
		PollConcurrency: concurrency,
	})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	return svc, clock
}

// stdinJudge prints the first line of stdin, so each case is identifiable by its output.
func stdinJudge() executortest.JudgeFunc {
	return executortest.EchoJudge(func(s executortest.Submission) string {
		return strings.SplitN(s.Stdin, "\n", 2)[0] + "\n"
	})
}

func numberedCases(n int) []model.TestCase {
	cases := make([]model.TestCase, n)
	for i := range cases {
		v := string(rune('a' + i))
		cases[i] = model.TestCase{Input: v, ExpectedOutput: v}
	}
	return cases
}

func TestRunBatchEmptyMakesNoCalls(t *testing.T) {
	srv := executortest.NewServer(executortest.Options{})
	defer srv.Close()
	svc, _ := newTestService(t, srv, 1)

	results, err := svc.RunBatch(context.Background(), "int main(){}", "CPP", nil)
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("results = %v, want empty non-nil slice", results)
	}
	if calls := srv.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
}

func TestRunBatchUnsupportedLanguageMakesNoCalls(t *testing.T) {
	srv := executortest.NewServer(executortest.Options{})
	defer srv.Close()
	svc, _ := newTestService(t, srv, 1)

	_, err := svc.RunBatch(context.Background(), "puts 1", "RUBY", numberedCases(1))
	if !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("err = %v, want LanguageNotSupported", err)
	}
	if calls := srv.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
}

func TestRunBatchTwoSumAccepted(t *testing.T) {
	srv := executortest.NewServer(executortest.Options{
		PendingPolls: 1,
		Judge: executortest.EchoJudge(func(s executortest.Submission) string {
			if s.LanguageID == 54 && strings.Contains(s.SourceCode, "unordered_map") && s.Stdin == "4\n2 7 11 15\n9" {
				return "0 1\n"
			}
			return ""
		}),
	})
	defer srv.Close()
	svc, _ := newTestService(t, srv, 1)

	report, err := svc.Run(context.Background(), twoSumSource, "CPP", []model.TestCase{
		{Input: "4\n2 7 11 15\n9", ExpectedOutput: "0 1"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Strategy != model.StrategyBatch {
		t.Errorf("strategy = %s, want batch", report.Strategy)
	}
	if len(report.Results) != 1 {
		t.Fatalf("results = %v", report.Results)
	}
	res := report.Results[0]
	if strings.TrimSpace(res.Stdout) != "0 1" || res.Status != model.StatusAccepted {
		t.Errorf("result = %+v", res)
	}
	if res.Token == "" {
		t.Error("result should carry its token")
	}
}

func TestRunBatchMixedVerdictsKeepOrder(t *testing.T) {
	srv := executortest.NewServer(executortest.Options{PendingPolls: 2, Judge: stdinJudge()})
	defer srv.Close()
	svc, _ := newTestService(t, srv, 1)

	results, err := svc.RunBatch(context.Background(), "echo", "PYTHON", []model.TestCase{
		{Input: "ok", ExpectedOutput: "ok"},
		{Input: "oops", ExpectedOutput: "expected"},
	})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
	if results[0].Status != model.StatusAccepted || results[0].Stdout != "ok\n" {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].Status != model.StatusWrongAnswer || results[1].Stdout != "oops\n" {
		t.Errorf("second result = %+v", results[1])
	}
}

func TestRunBatchPollsPendingTokensSeriallyInIndexOrder(t *testing.T) {
	srv := executortest.NewServer(executortest.Options{PendingPolls: 1, Judge: stdinJudge()})
	defer srv.Close()
	svc, clock := newTestService(t, srv, 1)

	if _, err := svc.RunBatch(context.Background(), "echo", "PYTHON", numberedCases(3)); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	calls := srv.Calls()
	if len(calls) != 7 || calls[0] != "POST /submissions/batch" {
		t.Fatalf("calls = %v", calls)
	}
	for i := 1; i <= 3; i++ {
		if calls[i] != calls[i+3] {
			t.Errorf("cycle order differs at %d: %s vs %s", i, calls[i], calls[i+3])
		}
		sub, ok := srv.Received(strings.TrimPrefix(calls[i], "GET /submissions/"))
		if !ok || sub.Stdin != numberedCases(3)[i-1].Input {
			t.Errorf("fetch %d hit %+v, want test case %d", i, sub, i-1)
		}
	}
	if clock.count() != 2 {
		t.Errorf("sleeps = %d, want 2 cycles", clock.count())
	}
}

func TestRunBatchFallbackWhenBatchUnavailable(t *testing.T) {
	srv := executortest.NewServer(executortest.Options{DisableBatch: true, Judge: stdinJudge()})
	defer srv.Close()
	svc, clock := newTestService(t, srv, 1)

	cases := numberedCases(4)
	report, err := svc.Run(context.Background(), "echo", "PYTHON", cases)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Strategy != model.StrategyFallback {
		t.Errorf("strategy = %s", report.Strategy)
	}
	if got := srv.CountCalls("POST /submissions wait=true"); got != len(cases) {
		t.Errorf("sync submissions = %d, want %d", got, len(cases))
	}
	if got := srv.CountCalls("GET /submissions/"); got != 0 {
		t.Errorf("fallback must not poll, got %d fetches", got)
	}
	if clock.count() != 0 {
		t.Errorf("fallback must not sleep, got %d sleeps", clock.count())
	}
	for i, res := range report.Results {
		if strings.TrimSpace(res.Stdout) != cases[i].Input || res.Status != model.StatusAccepted {
			t.Errorf("result %d = %+v", i, res)
		}
	}
}

func TestRunBatchTimeoutReturnsNoPartialResults(t *testing.T) {
	srv := executortest.NewServer(executortest.Options{NeverFinish: true})
	defer srv.Close()
	svc, clock := newTestService(t, srv, 1)

	results, err := svc.RunBatch(context.Background(), "echo", "PYTHON", numberedCases(2))
	if !appErr.Is(err, appErr.ExecutorBatchTimeout) {
		t.Fatalf("err = %v, want ExecutorBatchTimeout", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
	if got := srv.CountCalls("GET /submissions/"); got != 2*executor.DefaultPollAttempts {
		t.Errorf("fetches = %d", got)
	}
	if clock.count() != executor.DefaultPollAttempts {
		t.Errorf("sleeps = %d", clock.count())
	}
	if appErr.GetError(err).Details["pending"] != 2 {
		t.Errorf("details = %v", appErr.GetError(err).Details)
	}
}

func TestRunBatchToleratesTransientPollErrors(t *testing.T) {
	srv := executortest.NewServer(executortest.Options{FailPolls: 3, Judge: stdinJudge()})
	defer srv.Close()
	svc, _ := newTestService(t, srv, 1)

	results, err := svc.RunBatch(context.Background(), "echo", "PYTHON", numberedCases(2))
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if results[0].Stdout != "a\n" || results[1].Stdout != "b\n" {
		t.Errorf("results = %+v", results)
	}
}

func TestRunBatchConcurrentPollingKeepsOrder(t *testing.T) {
	srv := executortest.NewServer(executortest.Options{PendingPolls: 2, Judge: stdinJudge()})
	defer srv.Close()
	svc, _ := newTestService(t, srv, 4)

	cases := numberedCases(8)
	results, err := svc.RunBatch(context.Background(), "echo", "PYTHON", cases)
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if len(results) != len(cases) {
		t.Fatalf("len = %d", len(results))
	}
	for i, res := range results {
		if strings.TrimSpace(res.Stdout) != cases[i].Input {
			t.Errorf("slot %d holds %q", i, res.Stdout)
		}
	}
}

type stubExecutor struct {
	syncCalls  []string
	fetchCalls int
	failSyncAt int
}

func (s *stubExecutor) SubmitAsync(_ context.Context, req model.SubmissionRequest) (model.SubmissionToken, error) {
	return "tok-" + req.Stdin, nil
}

func (s *stubExecutor) SubmitBatch(context.Context, []model.SubmissionRequest) ([]model.SubmissionToken, error) {
	return nil, errors.New("connection reset by peer")
}

func (s *stubExecutor) SubmitSync(_ context.Context, req model.SubmissionRequest) (model.JudgementResult, error) {
	s.syncCalls = append(s.syncCalls, req.Stdin)
	if len(s.syncCalls)-1 == s.failSyncAt {
		return model.JudgementResult{}, appErr.SubmitFailed(nil, 500, "boom")
	}
	return model.JudgementResult{Status: model.StatusRuntimeNZEC, Stdout: req.Stdin}, nil
}

func (s *stubExecutor) GetSubmission(context.Context, model.SubmissionToken) (model.JudgementResult, error) {
	s.fetchCalls++
	return model.JudgementResult{}, errors.New("unexpected")
}

func (s *stubExecutor) PollBudget() (time.Duration, int) { return time.Second, 3 }

func (s *stubExecutor) Clock() executor.Clock { return &fakeClock{} }

func TestFallbackSubmitsInOriginalOrder(t *testing.T) {
	stub := &stubExecutor{failSyncAt: -1}
	svc, err := NewService(Config{Executor: stub, Registry: language.NewRegistry(nil), Limits: testLimits})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}

	results, err := svc.RunBatch(context.Background(), "x", "C", numberedCases(3))
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if strings.Join(stub.syncCalls, ",") != "a,b,c" {
		t.Errorf("sync order = %v", stub.syncCalls)
	}
	if stub.fetchCalls != 0 {
		t.Errorf("fallback polled %d times", stub.fetchCalls)
	}
	for i, res := range results {
		if res.Status != model.StatusRuntimeNZEC || res.Stdout != numberedCases(3)[i].Input {
			t.Errorf("result %d = %+v", i, res)
		}
	}
}

func TestFallbackSurfacesSubmitFailed(t *testing.T) {
	stub := &stubExecutor{failSyncAt: 1}
	svc, _ := NewService(Config{Executor: stub, Registry: language.NewRegistry(nil), Limits: testLimits})

	_, err := svc.RunBatch(context.Background(), "x", "C", numberedCases(3))
	if !appErr.Is(err, appErr.ExecutorSubmitFailed) {
		t.Fatalf("err = %v, want ExecutorSubmitFailed", err)
	}
	if len(stub.syncCalls) != 2 {
		t.Errorf("submissions after failure continued: %v", stub.syncCalls)
	}
}

func TestNewServiceValidation(t *testing.T) {
	reg := language.NewRegistry(nil)
	stub := &stubExecutor{}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing executor", Config{Registry: reg, Limits: testLimits}},
		{"missing registry", Config{Executor: stub, Limits: testLimits}},
		{"zero limits", Config{Executor: stub, Registry: reg}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSubmitQueuesWithLimits(t *testing.T) {
	srv := executortest.NewServer(executortest.Options{})
	defer srv.Close()
	svc, _ := newTestService(t, srv, 1)

	token, err := svc.Submit(context.Background(), "print(1)", "python", model.TestCase{Input: "in", ExpectedOutput: "1"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	got, ok := srv.Received(token)
	if !ok {
		t.Fatalf("token %s unknown to server", token)
	}
	if got.LanguageID != 71 || got.Stdin != "in" || got.CPUTimeLimit != 2 || got.MemoryLimit != 256000 {
		t.Errorf("server received %+v", got)
	}
	if calls := srv.Calls(); len(calls) != 1 || calls[0] != "POST /submissions wait=false" {
		t.Errorf("calls = %v", calls)
	}

	if _, err := svc.Submit(context.Background(), "x", "RUBY", model.TestCase{}); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Errorf("err = %v, want LanguageNotSupported", err)
	}
	if names := svc.Languages(); len(names) != 6 || names[0] != "C" {
		t.Errorf("languages = %v", names)
	}
}

type recordingEvents struct {
	events []model.RunEvent
	err    error
}

func (r *recordingEvents) PublishRunFinished(_ context.Context, event model.RunEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func TestRunPublishesFinishedEvent(t *testing.T) {
	srv := executortest.NewServer(executortest.Options{
		Judge: executortest.EchoJudge(func(s executortest.Submission) string { return s.Stdin }),
	})
	defer srv.Close()
	events := &recordingEvents{err: errors.New("broker down")}
	svc, err := NewService(Config{
		Executor: executor.NewClient(executor.Config{BaseURL: srv.URL}, &fakeClock{}),
		Registry: language.NewRegistry(nil),
		Limits:   testLimits,
		Events:   events,
	})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}

	report, err := svc.Run(context.Background(), "x", "go", []model.TestCase{
		{Input: "1", ExpectedOutput: "1"},
		{Input: "2", ExpectedOutput: "1"},
	})
	if err != nil {
		t.Fatalf("publish failure must not fail the run: %v", err)
	}
	if len(events.events) != 1 {
		t.Fatalf("published %d events", len(events.events))
	}
	ev := events.events[0]
	if ev.RunID == "" || ev.Language != "go" || ev.Strategy != report.Strategy || ev.Accepted != 1 || ev.Total != 2 {
		t.Errorf("event = %+v", ev)
	}

	if _, err := svc.Run(context.Background(), "x", "go", nil); err != nil {
		t.Fatalf("empty run failed: %v", err)
	}
	if len(events.events) != 1 {
		t.Error("empty runs must not publish")
	}
}
