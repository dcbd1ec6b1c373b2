package codec

import (
	"encoding/json"
	"testing"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

func TestMemoryLimitCap(t *testing.T) {
	tests := []struct {
		mb   int
		want int
	}{
		{256, 256000},
		{512, 512000},
		{1024, 512000},
		{1, 1000},
	}
	for _, tt := range tests {
		if got := (Limits{MaxMemoryMB: tt.mb}).MemoryLimitKB(); got != tt.want {
			t.Errorf("MemoryLimitKB(%d MB) = %d, want %d", tt.mb, got, tt.want)
		}
	}
}

func TestEncodeRequest(t *testing.T) {
	limits := Limits{MaxExecutionTimeMs: 2500, MaxMemoryMB: 1024}
	req := limits.Request("print(1)", 71, model.TestCase{Input: "hello", ExpectedOutput: "1"})
	payload := Encode(req)

	if payload.SourceCode != "cHJpbnQoMSk=" {
		t.Errorf("SourceCode = %s", payload.SourceCode)
	}
	if payload.Stdin != "aGVsbG8=" {
		t.Errorf("Stdin = %s", payload.Stdin)
	}
	if payload.ExpectedOutput != "MQ==" {
		t.Errorf("ExpectedOutput = %s", payload.ExpectedOutput)
	}
	if payload.CPUTimeLimit != 2.5 {
		t.Errorf("CPUTimeLimit = %v", payload.CPUTimeLimit)
	}
	if payload.MemoryLimit != 512000 {
		t.Errorf("MemoryLimit = %d", payload.MemoryLimit)
	}
	if payload.LanguageID != 71 {
		t.Errorf("LanguageID = %d", payload.LanguageID)
	}

	raw, err := json.Marshal(EncodeBatch([]model.SubmissionRequest{req, req}))
	if err != nil {
		t.Fatalf("marshal batch failed: %v", err)
	}
	var body map[string][]map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal batch failed: %v", err)
	}
	if len(body["submissions"]) != 2 || body["submissions"][0]["memory_limit"] != float64(512000) {
		t.Errorf("batch body = %s", raw)
	}
}

func TestDecodeResult(t *testing.T) {
	raw := []byte(`{
		"token": "abc",
		"status": {"id": 3, "description": "Accepted"},
		"stdout": "MCAx\nCg==\n",
		"stderr": null,
		"time": "0.004",
		"memory": 3280,
		"exit_code": 0,
		"exit_signal": null
	}`)
	res, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if res.Token != "abc" || res.Status != model.StatusAccepted || res.StatusName != "ACCEPTED" {
		t.Errorf("unexpected header fields: %+v", res)
	}
	if res.Stdout != "0 1\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.Stderr != "" || res.CompileOutput != "" || res.Message != "" {
		t.Errorf("missing text fields should be empty: %+v", res)
	}
	if res.TimeSeconds != 0.004 || res.MemoryKB != 3280 {
		t.Errorf("time/memory = %v/%d", res.TimeSeconds, res.MemoryKB)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 || res.ExitSignal != nil {
		t.Errorf("exit fields = %v/%v", res.ExitCode, res.ExitSignal)
	}
}

func TestDecodeRunningSubmission(t *testing.T) {
	res, err := Decode([]byte(`{"token":"t","status":{"id":2,"description":"Processing"},"time":null,"memory":null}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if res.Status.IsTerminal() || res.TimeSeconds != 0 || res.MemoryKB != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestDecodeStrictFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `<html>502</html>`},
		{"missing status", `{"token":"t"}`},
		{"status without id", `{"status":{"description":"Accepted"}}`},
		{"mistyped status id", `{"status":{"id":"3"}}`},
		{"mistyped memory", `{"status":{"id":3},"memory":"big"}`},
		{"bad base64", `{"status":{"id":3},"stdout":"***"}`},
		{"bad time", `{"status":{"id":3},"time":"fast"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if !appErr.Is(err, appErr.ExecutorParseError) {
				t.Errorf("err = %v, want ExecutorParseError", err)
			}
		})
	}
}

func TestDecodeTokens(t *testing.T) {
	tokens, err := DecodeTokens([]byte(`[{"token":"a"},{"token":"b"}]`))
	if err != nil {
		t.Fatalf("DecodeTokens failed: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != "a" || tokens[1] != "b" {
		t.Errorf("tokens = %v", tokens)
	}

	if _, err := DecodeTokens([]byte(`[{"token":"a"},{"language_id":["can't be blank"]}]`)); !appErr.Is(err, appErr.ExecutorParseError) {
		t.Errorf("entry without token should fail, got %v", err)
	}
	if _, err := DecodeTokens([]byte(`{"token":"a"}`)); err == nil {
		t.Error("object instead of array should fail")
	}

	token, err := DecodeToken([]byte(`{"token":"xyz"}`))
	if err != nil || token != "xyz" {
		t.Errorf("DecodeToken = %q, %v", token, err)
	}
	if _, err := DecodeToken([]byte(`{}`)); err == nil {
		t.Error("empty token should fail")
	}
}
