package runner

import (
	"sort"
	"strings"

	"nodeo/internal/evaluator/judge"
	"nodeo/internal/evaluator/local"
)

// BackendKind says where a language executes.
type BackendKind string

const (
	BackendLocal  BackendKind = "local"
	BackendRemote BackendKind = "remote"
)

// Backend is the dispatch entry for one language.
type Backend struct {
	Kind BackendKind `json:"kind"`
	// Engine names the local interpreter; empty for remote languages.
	Engine string `json:"engine,omitempty"`
	// JudgeID is the remote judge's language id; zero for local languages.
	JudgeID int `json:"judge_id,omitempty"`
}

// DefaultLocalLanguages are evaluated in-process.
var DefaultLocalLanguages = map[string]string{
	"javascript": local.EngineJavaScript,
	"lua":        local.EngineLua,
}

// Table maps lower-case language names to backends. It is read-only once built.
type Table struct {
	entries map[string]Backend
}

// NewTable builds the dispatch table. Every judge language is remote unless
// localLanguages maps it to an engine.
func NewTable(localLanguages map[string]string, judges judge.LanguageTable) Table {
	entries := make(map[string]Backend)
	for _, name := range judges.Names() {
		id, _ := judges.Lookup(name)
		entries[name] = Backend{Kind: BackendRemote, JudgeID: id}
	}
	for name, engine := range localLanguages {
		key := strings.ToLower(strings.TrimSpace(name))
		if engine == "" {
			continue
		}
		entries[key] = Backend{Kind: BackendLocal, Engine: engine}
	}
	return Table{entries: entries}
}

// LocalLanguages merges overrides into DefaultLocalLanguages. An empty
// engine name sends that language back to the remote judge.
func LocalLanguages(overrides map[string]string) map[string]string {
	out := make(map[string]string, len(DefaultLocalLanguages)+len(overrides))
	for name, engine := range DefaultLocalLanguages {
		out[name] = engine
	}
	for name, engine := range overrides {
		key := strings.ToLower(strings.TrimSpace(name))
		if engine == "" {
			delete(out, key)
			continue
		}
		out[key] = engine
	}
	return out
}

// DefaultTable dispatches javascript and lua locally and the rest of the
// Judge0 languages remotely.
func DefaultTable() Table {
	return NewTable(DefaultLocalLanguages, judge.NewLanguageTable(nil))
}

// Lookup finds the backend for a language, ignoring case.
func (t Table) Lookup(language string) (Backend, bool) {
	b, ok := t.entries[strings.ToLower(strings.TrimSpace(language))]
	return b, ok
}

// LanguageInfo describes one supported language.
type LanguageInfo struct {
	Name    string  `json:"name"`
	Backend Backend `json:"backend"`
}

// Languages lists the table sorted by name.
func (t Table) Languages() []LanguageInfo {
	out := make([]LanguageInfo, 0, len(t.entries))
	for name, b := range t.entries {
		out = append(out, LanguageInfo{Name: name, Backend: b})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
