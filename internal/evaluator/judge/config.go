package judge

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProviderJudge0 = "judge0"
	ProviderMock   = "mock"
)

// Config selects and configures the judge backend.
type Config struct {
	Provider  string         `yaml:"provider"`
	BaseURL   string         `yaml:"baseURL"`
	APIKey    string         `yaml:"apiKey"`
	APIHost   string         `yaml:"apiHost"`
	Timeout   time.Duration  `yaml:"timeout"`
	MockDelay time.Duration  `yaml:"mockDelay"`
	Limits    Limits         `yaml:"limits"`
	Languages map[string]int `yaml:"languages"`
}

// NewClient builds the client named by cfg.Provider. An empty provider means mock.
func NewClient(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderMock:
		return MockClient{Delay: cfg.MockDelay}, nil
	case ProviderJudge0:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("judge0 base url is required")
		}
		return NewJudge0Client(cfg.BaseURL, cfg.APIKey, cfg.APIHost, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown judge provider %q", cfg.Provider)
	}
}

// NewAdapterFromConfig wires client, language table and limits.
func NewAdapterFromConfig(cfg Config) (*Adapter, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewAdapter(client, NewLanguageTable(cfg.Languages), cfg.Limits), nil
}
