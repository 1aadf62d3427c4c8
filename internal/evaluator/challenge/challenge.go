// Package challenge reads challenge definitions from YAML or JSON files.
package challenge

import (
	"strings"

	"nodeo/internal/evaluator/model"
	appErr "nodeo/pkg/errors"
)

// Difficulty grades a challenge.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// fallbackLanguage is served by the top-level starter and tests when a
// challenge has no per-language entry for it.
const fallbackLanguage = "javascript"

// Challenge is one exercise with starter code and tests per language.
type Challenge struct {
	ID         string                         `json:"id" yaml:"id"`
	Topic      string                         `json:"topic" yaml:"topic"`
	Title      string                         `json:"title" yaml:"title"`
	Difficulty Difficulty                     `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	Tags       []string                       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Prompt     string                         `json:"prompt" yaml:"prompt"`
	Starter    string                         `json:"starter,omitempty" yaml:"starter,omitempty"`
	Tests      []model.TestCase               `json:"tests,omitempty" yaml:"tests,omitempty"`
	Languages  map[string]model.LanguageTests `json:"languages,omitempty" yaml:"languages,omitempty"`
}

// ForLanguage returns the starter code and tests for language.
func (c *Challenge) ForLanguage(language string) (model.LanguageTests, error) {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lt, ok := c.Languages[lang]; ok {
		return lt, nil
	}
	if lang == fallbackLanguage && (c.Starter != "" || len(c.Tests) > 0) {
		return model.LanguageTests{Starter: c.Starter, Tests: c.Tests}, nil
	}
	return model.LanguageTests{}, appErr.UnsupportedLanguage(language).WithDetail("challenge_id", c.ID)
}

// SupportedLanguages lists the languages the challenge has tests for.
func (c *Challenge) SupportedLanguages() []string {
	out := make([]string, 0, len(c.Languages)+1)
	for lang := range c.Languages {
		out = append(out, lang)
	}
	if _, ok := c.Languages[fallbackLanguage]; !ok && (c.Starter != "" || len(c.Tests) > 0) {
		out = append(out, fallbackLanguage)
	}
	return out
}

// Validate checks the fields the runner depends on.
func (c *Challenge) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return appErr.New(appErr.ChallengeInvalid).WithMessage("challenge id is required")
	}
	switch c.Difficulty {
	case "", DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return appErr.Newf(appErr.ChallengeInvalid, "challenge %s has unknown difficulty %q", c.ID, c.Difficulty)
	}
	for lang, lt := range c.Languages {
		if lang != strings.ToLower(strings.TrimSpace(lang)) {
			return appErr.Newf(appErr.ChallengeInvalid, "challenge %s: language key %q must be lower case", c.ID, lang)
		}
		if err := model.ValidateTests(lt.Normalize()); err != nil {
			return appErr.Wrapf(err, appErr.ChallengeInvalid, "challenge %s, language %s", c.ID, lang)
		}
	}
	if err := model.ValidateTests(c.Tests); err != nil {
		return appErr.Wrapf(err, appErr.ChallengeInvalid, "challenge %s", c.ID)
	}
	return nil
}

// Matches reports whether query appears in the title, topic or a tag.
func (c *Challenge) Matches(query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(c.Title), q) || strings.Contains(strings.ToLower(c.Topic), q) {
		return true
	}
	for _, tag := range c.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}
