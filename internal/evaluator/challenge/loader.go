package challenge

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"nodeo/internal/evaluator/model"
	appErr "nodeo/pkg/errors"
	"nodeo/pkg/utils/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Loader holds challenges keyed by id. It is read-only after loading.
type Loader struct {
	byID map[string]*Challenge
}

// NewLoader indexes the given challenges, rejecting duplicates and invalid
// definitions.
func NewLoader(challenges ...*Challenge) (*Loader, error) {
	l := &Loader{byID: make(map[string]*Challenge, len(challenges))}
	for _, c := range challenges {
		if err := l.add(c); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// LoadDir reads every .yaml, .yml and .json file under dir. A file may hold
// one challenge or a list of them.
func LoadDir(ctx context.Context, dir string) (*Loader, error) {
	l := &Loader{byID: make(map[string]*Challenge)}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
		default:
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		parsed, err := Parse(path, data)
		if err != nil {
			return err
		}
		for _, c := range parsed {
			if err := l.add(c); err != nil {
				return appErr.Wrapf(err, appErr.ChallengeInvalid, "load %s", path)
			}
		}
		return nil
	})
	if err != nil {
		if appErr.GetCode(err) == appErr.ChallengeInvalid {
			return nil, err
		}
		return nil, appErr.Wrapf(err, appErr.ChallengeInvalid, "load challenges from %s", dir)
	}
	logger.Info(ctx, "challenges loaded", zap.String("dir", dir), zap.Int("count", len(l.byID)))
	return l, nil
}

// Parse decodes one file's worth of challenges. The extension picks the
// format; anything other than .json is read as YAML.
func Parse(name string, data []byte) ([]*Challenge, error) {
	var list []*Challenge
	if strings.EqualFold(filepath.Ext(name), ".json") {
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal(data, &list); err != nil {
				return nil, appErr.Wrapf(err, appErr.ChallengeInvalid, "decode %s", name)
			}
			return list, nil
		}
		var one Challenge
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, appErr.Wrapf(err, appErr.ChallengeInvalid, "decode %s", name)
		}
		return []*Challenge{&one}, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, appErr.Wrapf(err, appErr.ChallengeInvalid, "decode %s", name)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	if node.Content[0].Kind == yaml.SequenceNode {
		if err := node.Decode(&list); err != nil {
			return nil, appErr.Wrapf(err, appErr.ChallengeInvalid, "decode %s", name)
		}
		return list, nil
	}
	var one Challenge
	if err := node.Decode(&one); err != nil {
		return nil, appErr.Wrapf(err, appErr.ChallengeInvalid, "decode %s", name)
	}
	return []*Challenge{&one}, nil
}

func (l *Loader) add(c *Challenge) error {
	if c == nil {
		return appErr.New(appErr.ChallengeInvalid).WithMessage("nil challenge")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if _, ok := l.byID[c.ID]; ok {
		return appErr.Newf(appErr.ChallengeInvalid, "duplicate challenge id %s", c.ID)
	}
	l.byID[c.ID] = c
	return nil
}

// Get returns the challenge with the given id.
func (l *Loader) Get(id string) (*Challenge, error) {
	c, ok := l.byID[id]
	if !ok {
		return nil, appErr.New(appErr.ChallengeNotFound).WithDetail("challenge_id", id)
	}
	return c, nil
}

// TestsFor resolves a challenge's tests for one language.
func (l *Loader) TestsFor(challengeID, language string) (model.LanguageTests, error) {
	c, err := l.Get(challengeID)
	if err != nil {
		return model.LanguageTests{}, err
	}
	return c.ForLanguage(language)
}

// All returns every challenge sorted by id.
func (l *Loader) All() []*Challenge {
	out := make([]*Challenge, 0, len(l.byID))
	for _, c := range l.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByTopic returns challenges whose topic matches, ignoring case.
func (l *Loader) ByTopic(topic string) []*Challenge {
	var out []*Challenge
	for _, c := range l.All() {
		if strings.EqualFold(c.Topic, topic) {
			out = append(out, c)
		}
	}
	return out
}

// Search returns challenges matching query in title, topic or tags.
func (l *Loader) Search(query string) []*Challenge {
	var out []*Challenge
	for _, c := range l.All() {
		if c.Matches(query) {
			out = append(out, c)
		}
	}
	return out
}
