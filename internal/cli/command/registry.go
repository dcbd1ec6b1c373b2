package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// fileMarker stands in for a value that will be read from the matching *_file param.
const fileMarker = "_file_"

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "judge",
			Action:       "health",
			Method:       "GET",
			PathTemplate: "/api/v1/judge/health",
		},
		{
			Service:      "judge",
			Action:       "languages",
			Method:       "GET",
			PathTemplate: "/api/v1/judge/languages",
		},
		{
			Service:      "judge",
			Action:       "run",
			Method:       "POST",
			PathTemplate: "/api/v1/judge/runs",
			Fields: []Field{
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
				{Name: "source_code", Prompt: "source_code", Type: FieldFile, Required: true},
				{Name: "cases_json", Aliases: []string{"cases"}, Prompt: "test cases (json array)", Type: FieldJSON, Required: true},
			},
		},
		{
			Service:      "judge",
			Action:       "submit",
			Method:       "POST",
			PathTemplate: "/api/v1/judge/submissions",
			Fields: []Field{
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
				{Name: "source_code", Prompt: "source_code", Type: FieldFile, Required: true},
				{Name: "stdin", Aliases: []string{"input"}, Prompt: "stdin", Type: FieldString},
				{Name: "expected_output", Aliases: []string{"expected"}, Prompt: "expected_output", Type: FieldString},
			},
		},
		{
			Service:      "judge",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/judge/submissions/:token",
			Fields: []Field{
				{Name: "token", Prompt: "token", Type: FieldString, Required: true},
				{Name: "wait", Prompt: "wait", Type: FieldBool},
			},
		},
	}

	registry := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		registry[cmd.Service+" "+cmd.Action] = cmd
	}
	return registry
}

// ApplyFileShortcuts marks file-backed fields so they are not prompted for.
func ApplyFileShortcuts(params Params) {
	if params.Get("source_file") != "" && params.Get("source_code") == "" {
		params.Set("source_code", fileMarker)
	}
	if params.Get("cases_file") != "" && params.Get("cases_json") == "" {
		params.Set("cases_json", fileMarker)
	}
}

// IsFileMarker reports whether value will be read from a file.
func IsFileMarker(value string) bool {
	return value == fileMarker
}

func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	if cmd.Action == "get" && ParseBool(params.Get("wait")) {
		path += "?wait=true"
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"token"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
		}
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Action {
	case "run":
		return buildRunPayload(params)
	case "submit":
		return buildSubmitPayload(params)
	}
	return nil, nil
}

func buildRunPayload(params Params) (interface{}, error) {
	sourceCode, err := valueOrFile(params, "source_code", "source_file")
	if err != nil {
		return nil, err
	}
	cases, err := valueOrFile(params, "cases_json", "cases_file")
	if err != nil {
		return nil, err
	}
	casesJSON, err := ParseJSON(cases)
	if err != nil {
		return nil, fmt.Errorf("invalid cases_json: %w", err)
	}
	return map[string]interface{}{
		"language":    params.Get("language"),
		"source_code": sourceCode,
		"test_cases":  casesJSON,
	}, nil
}

func buildSubmitPayload(params Params) (interface{}, error) {
	sourceCode, err := valueOrFile(params, "source_code", "source_file")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"language":        params.Get("language"),
		"source_code":     sourceCode,
		"stdin":           params.Get("stdin"),
		"expected_output": params.Get("expected_output"),
	}, nil
}

func valueOrFile(params Params, key, fileKey string) (string, error) {
	value := params.Get(key)
	if (value == "" || IsFileMarker(value)) && params.Get(fileKey) != "" {
		data, err := ReadFile(params.Get(fileKey))
		if err != nil {
			return "", err
		}
		value = data
	}
	if value == "" || IsFileMarker(value) {
		return "", fmt.Errorf("%s is required", key)
	}
	return value, nil
}
