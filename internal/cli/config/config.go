package config

import (
	"fmt"
	"os"
	"time"

	"nodeo/internal/evaluator/judge"
	"nodeo/internal/evaluator/runner"
	"nodeo/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL     = "http://127.0.0.1:8090"
	DefaultTimeout     = 30 * time.Second
	DefaultStatePath   = "configs/cli_state.json"
	DefaultHistoryPath = "configs/cli_history"
)

// Config holds CLI configuration.
type Config struct {
	BaseURL       string        `yaml:"baseURL"`
	Timeout       time.Duration `yaml:"timeout"`
	StatePath     string        `yaml:"statePath"`
	HistoryPath   string        `yaml:"historyPath"`
	PrettyJSON    *bool         `yaml:"prettyJSON"`
	ChallengesDir string        `yaml:"challengesDir"`
	Logger        logger.Config `yaml:"logger"`
	// Judge and Runner configure the in-process runner of the run command.
	Judge  judge.Config  `yaml:"judge"`
	Runner runner.Config `yaml:"runner"`
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file failed: %w", err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStatePath
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = DefaultHistoryPath
	}
	if cfg.ChallengesDir == "" {
		cfg.ChallengesDir = "challenges"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "warn"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "console"
	}
	if cfg.Logger.OutputPath == "" {
		cfg.Logger.OutputPath = "stderr"
	}
	if cfg.Logger.ErrorPath == "" {
		cfg.Logger.ErrorPath = "stderr"
	}
	if cfg.PrettyJSON == nil {
		value := true
		cfg.PrettyJSON = &value
	}
}
