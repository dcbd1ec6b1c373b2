package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"codejudge/internal/cli/command"
	httpclient "codejudge/internal/cli/http"
	"codejudge/internal/cli/state"
	pkgerrors "codejudge/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "judge> "

// LineReader yields one input line per call and io.EOF at the end.
// *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// plainReader reads lines from a non-interactive stream.
type plainReader struct {
	reader *bufio.Reader
	out    io.Writer
	prompt string
}

// NewPlainReader returns a LineReader that echoes the prompt to out before each read.
func NewPlainReader(in io.Reader, out io.Writer) LineReader {
	return &plainReader{reader: bufio.NewReader(in), out: out}
}

func (r *plainReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

func (r *plainReader) Readline() (string, error) {
	_, _ = io.WriteString(r.out, r.prompt)
	line, err := r.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Session holds REPL state.
type Session struct {
	client       *httpclient.Client
	commands     map[string]command.Command
	state        *state.SessionState
	statePath    string
	prettyJSON   bool
	lines        LineReader
	outputWriter *bufio.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, st *state.SessionState, statePath string, prettyJSON bool, lines LineReader, out io.Writer) *Session {
	return &Session{
		client:       client,
		commands:     commands,
		state:        st,
		statePath:    statePath,
		prettyJSON:   prettyJSON,
		lines:        lines,
		outputWriter: bufio.NewWriter(out),
	}
}

// Run reads commands until exit or end of input. Ctrl-C drops the current line.
func (s *Session) Run(ctx context.Context) {
	for {
		s.lines.SetPrompt(prompt)
		line, err := s.lines.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if err != io.EOF {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if s.handleSystemCommand(line) {
			continue
		}

		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	if line == "help" {
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	if line == "clear last" {
		*s.state = state.SessionState{}
		if err := state.Clear(s.statePath); err != nil {
			s.printLine("clear session state failed: %v", err)
			return true
		}
		s.printLine("last cleared")
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8085")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 90s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "last":
		if s.state.LastToken == "" {
			s.printLine("last: <empty>")
			return
		}
		s.printLine("last: %s (%s)", s.state.LastToken, s.state.LastLanguage)
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.statePath)
	default:
		s.printLine("usage: show last|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	key := fmt.Sprintf("%s %s", tokens[0], tokens[1])
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s", key)
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}

	params.Canonicalize(cmd.Fields)
	command.ApplyFileShortcuts(params)
	if cmd.Action == "get" && !params.Has("token") && s.state.LastToken != "" {
		params.Set("token", s.state.LastToken)
	}
	if err := s.promptMissing(&cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	if cmd.Action == "submit" {
		s.rememberSubmission(params.Get("language"), resp.Body)
	}
	return nil
}

func (s *Session) promptMissing(cmd *command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required {
			continue
		}
		value := params.Get(field.Name)
		if value != "" {
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(field string) (string, error) {
	s.lines.SetPrompt(field + ": ")
	line, err := s.lines.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) rememberSubmission(language string, body []byte) {
	type respEnvelope struct {
		Code int `json:"code"`
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	var resp respEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return
	}
	if resp.Code != int(pkgerrors.Success) || resp.Data.Token == "" {
		return
	}
	s.state.LastToken = resp.Data.Token
	s.state.LastLanguage = language
	s.state.SubmittedAt = time.Now()
	if err := state.Save(s.statePath, *s.state); err != nil {
		s.printLine("save session state failed: %v", err)
	}
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout | show last|config | clear last")
	s.printLine("examples:")
	s.printLine("  judge health")
	s.printLine("  judge languages")
	s.printLine("  judge run language=cpp source_file=./main.cpp cases_file=./cases.json")
	s.printLine("  judge submit language=python source_code=\"print(input())\" stdin=hi expected_output=hi")
	s.printLine("  judge get wait=true")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}
