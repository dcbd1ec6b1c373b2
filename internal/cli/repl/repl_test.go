package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"codejudge/internal/cli/command"
	httpclient "codejudge/internal/cli/http"
	"codejudge/internal/cli/state"
)

type fakeJudgeService struct {
	mu    sync.Mutex
	paths []string
	sub   map[string]string
}

func (f *fakeJudgeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.Method+" "+r.URL.RequestURI())
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/judge/submissions":
		_ = json.NewDecoder(r.Body).Decode(&f.sub)
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"token":"tok-1"}}`))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/judge/submissions/"):
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"token":"tok-1","status_id":3}}`))
	case r.URL.Path == "/api/v1/judge/health":
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"healthy":true}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeJudgeService) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func runSession(t *testing.T, srv *httptest.Server, st *state.SessionState, statePath, input string) string {
	t.Helper()
	var out bytes.Buffer
	client := httpclient.New(srv.URL, 5*time.Second)
	session := New(client, command.Registry(), st, statePath, false, NewPlainReader(strings.NewReader(input), &out), &out)
	session.Run(context.Background())
	return out.String()
}

func TestSubmitThenGetUsesLastToken(t *testing.T) {
	fake := &fakeJudgeService{}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	statePath := filepath.Join(t.TempDir(), "state.json")
	st := &state.SessionState{}

	out := runSession(t, srv, st, statePath, strings.Join([]string{
		`judge submit lang=python source_code="print(input())" input=hi expected=hi`,
		`judge get wait=true`,
		`show last`,
		`exit`,
	}, "\n")+"\n")

	paths := fake.Paths()
	if len(paths) != 2 || paths[1] != "GET /api/v1/judge/submissions/tok-1?wait=true" {
		t.Fatalf("paths = %v", paths)
	}
	if fake.sub["source_code"] != "print(input())" || fake.sub["stdin"] != "hi" || fake.sub["language"] != "python" {
		t.Errorf("submitted %v", fake.sub)
	}
	if !strings.Contains(out, "last: tok-1 (python)") || !strings.Contains(out, "bye") {
		t.Errorf("output = %s", out)
	}

	saved, err := state.Load(statePath)
	if err != nil || saved.LastToken != "tok-1" {
		t.Errorf("saved state = %+v, %v", saved, err)
	}
}

func TestPromptsForMissingFields(t *testing.T) {
	fake := &fakeJudgeService{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	out := runSession(t, srv, &state.SessionState{}, filepath.Join(t.TempDir(), "s.json"),
		"judge get\nabc")
	if !strings.Contains(out, "token: ") {
		t.Errorf("expected token prompt, output = %s", out)
	}
	if paths := fake.Paths(); len(paths) != 1 || paths[0] != "GET /api/v1/judge/submissions/abc" {
		t.Errorf("paths = %v", paths)
	}
}

func TestUnknownAndSystemCommands(t *testing.T) {
	fake := &fakeJudgeService{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	out := runSession(t, srv, &state.SessionState{}, filepath.Join(t.TempDir(), "s.json"),
		"judge nope\nset timeout 3s\nshow config\njudge health\n")
	for _, want := range []string{"unknown command: judge nope", "timeout set to 3s", "base: " + srv.URL, "HTTP 200"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestClearLastRemovesState(t *testing.T) {
	fake := &fakeJudgeService{}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	statePath := filepath.Join(t.TempDir(), "state.json")
	st := &state.SessionState{LastToken: "tok-9", LastLanguage: "go"}
	if err := state.Save(statePath, *st); err != nil {
		t.Fatalf("save state: %v", err)
	}

	out := runSession(t, srv, st, statePath, "clear last\nshow last\n")
	if !strings.Contains(out, "last cleared") || !strings.Contains(out, "last: <empty>") {
		t.Errorf("output = %s", out)
	}
	if saved, err := state.Load(statePath); err != nil || saved.LastToken != "" {
		t.Errorf("state after clear = %+v, %v", saved, err)
	}
}
