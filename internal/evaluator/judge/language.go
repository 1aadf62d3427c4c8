package judge

import (
	"sort"
	"strings"
)

const (
	DefaultCPUTimeLimit = 5.0
	DefaultMemoryLimit  = 128000
)

// DefaultLanguageIDs are the Judge0 CE language ids.
var DefaultLanguageIDs = map[string]int{
	"javascript": 63,
	"python":     71,
	"cpp":        54,
	"java":       62,
	"c":          50,
	"csharp":     51,
	"go":         60,
	"rust":       73,
	"php":        68,
	"ruby":       72,
	"swift":      83,
	"kotlin":     78,
	"scala":      81,
	"haskell":    61,
	"lua":        64,
	"perl":       85,
	"r":          80,
	"bash":       46,
	"sql":        82,
}

// LanguageTable maps lower-case language names to judge ids. It is built once
// and never modified.
type LanguageTable struct {
	ids map[string]int
}

// NewLanguageTable copies the defaults and applies overrides. An override
// with a non-positive id removes the language.
func NewLanguageTable(overrides map[string]int) LanguageTable {
	ids := make(map[string]int, len(DefaultLanguageIDs)+len(overrides))
	for name, id := range DefaultLanguageIDs {
		ids[name] = id
	}
	for name, id := range overrides {
		key := strings.ToLower(strings.TrimSpace(name))
		if id <= 0 {
			delete(ids, key)
			continue
		}
		ids[key] = id
	}
	return LanguageTable{ids: ids}
}

// Lookup finds the judge id for a language, ignoring case.
func (t LanguageTable) Lookup(language string) (int, bool) {
	id, ok := t.ids[strings.ToLower(strings.TrimSpace(language))]
	return id, ok
}

// Names lists the table's languages in order.
func (t LanguageTable) Names() []string {
	names := make([]string, 0, len(t.ids))
	for name := range t.ids {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
