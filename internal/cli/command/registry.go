package command

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Registry returns all API commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:         "run",
			Usage:        "run <language> <file> [challenge]",
			Method:       "POST",
			PathTemplate: "/api/v1/runs",
			Fields: []Field{
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldLanguage, Required: true},
				{Name: "file", Aliases: []string{"source_file"}, Prompt: "source file", Type: FieldFile, Required: true},
				{Name: "challenge", Aliases: []string{"challenge_id"}, Prompt: "challenge id", Type: FieldString},
			},
		},
		{
			Name:         "submit",
			Usage:        "submit <language> <file> [challenge] [key=<idempotency key>]",
			Method:       "POST",
			PathTemplate: "/api/v1/runs/async",
			Fields: []Field{
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldLanguage, Required: true},
				{Name: "file", Aliases: []string{"source_file"}, Prompt: "source file", Type: FieldFile, Required: true},
				{Name: "challenge", Aliases: []string{"challenge_id"}, Prompt: "challenge id", Type: FieldString},
				{Name: "key", Aliases: []string{"idempotency_key"}, Prompt: "idempotency key", Type: FieldString},
			},
		},
		{
			Name:         "status",
			Usage:        "status <run id>",
			Method:       "GET",
			PathTemplate: "/api/v1/runs/:id",
			Fields: []Field{
				{Name: "id", Aliases: []string{"run_id"}, Prompt: "run id", Type: FieldString, Required: true},
			},
		},
		{
			Name:         "watch",
			Usage:        "watch <run id>",
			Method:       "GET",
			PathTemplate: "/api/v1/runs/:id/watch",
			Stream:       true,
			Fields: []Field{
				{Name: "id", Aliases: []string{"run_id"}, Prompt: "run id", Type: FieldString, Required: true},
			},
		},
		{
			Name:         "languages",
			Usage:        "languages",
			Method:       "GET",
			PathTemplate: "/api/v1/languages",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// Names returns the registry's command names in order.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	if missing := Missing(cmd, params); len(missing) > 0 {
		return RequestSpec{}, fmt.Errorf("missing %s, usage: %s", missing[0].Name, cmd.Usage)
	}
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	headers := map[string]string{}
	if cmd.Name == "submit" {
		key := params.Get("key")
		if key == "" {
			key = uuid.NewString()
		}
		headers["Idempotency-Key"] = key
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
		Headers: headers,
		Body:    body,
		Stream:  cmd.Stream,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"id"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := strings.TrimSpace(params.Get(key))
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, value)
		}
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Name {
	case "run", "submit":
		return buildRunPayload(params)
	}
	return nil, nil
}

func buildRunPayload(params Params) (interface{}, error) {
	code, err := ReadFile(params.Get("file"))
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"language": strings.ToLower(strings.TrimSpace(params.Get("language"))),
		"code":     code,
	}
	if challenge := strings.TrimSpace(params.Get("challenge")); challenge != "" {
		payload["challenge_id"] = challenge
	}
	return payload, nil
}
