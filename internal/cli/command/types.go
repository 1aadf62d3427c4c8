package command

import (
	"fmt"
	"os"
	"strings"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldFile
	FieldLanguage
)

// Field defines a positional CLI input.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
}

// Command defines a CLI command binding.
type Command struct {
	Name         string
	Usage        string
	Method       string
	PathTemplate string
	// Stream marks commands that read a websocket instead of one response.
	Stream bool
	Fields []Field
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
	Stream  bool
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// ParseArgs maps positional args onto fields in order; key=value args are
// taken by name.
func ParseArgs(cmd Command, args []string) (Params, error) {
	params := Params{}
	pos := 0
	for _, arg := range args {
		if key, value, ok := strings.Cut(arg, "="); ok && key != "" && !strings.ContainsAny(key, "/.") {
			params.Set(key, value)
			continue
		}
		if pos >= len(cmd.Fields) {
			return nil, fmt.Errorf("too many arguments, usage: %s", cmd.Usage)
		}
		params.Set(cmd.Fields[pos].Name, arg)
		pos++
	}
	params.Canonicalize(cmd.Fields)
	return params, nil
}

// Missing returns the required fields without a value.
func Missing(cmd Command, params Params) []Field {
	var missing []Field
	for _, field := range cmd.Fields {
		if field.Required && strings.TrimSpace(params.Get(field.Name)) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}
