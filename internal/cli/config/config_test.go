package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.BaseURL != DefaultBaseURL || cfg.Timeout != DefaultTimeout {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PrettyJSON == nil || !*cfg.PrettyJSON {
		t.Fatalf("pretty json should default to true")
	}
	if cfg.Logger.Level != "warn" || cfg.Logger.OutputPath != "stderr" {
		t.Fatalf("unexpected logger defaults: %+v", cfg.Logger)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	content := `baseURL: http://eval:9000
timeout: 5s
prettyJSON: false
judge:
  provider: judge0
  baseURL: http://judge0:2358
  languages:
    typescript: 74
runner:
  localTimeout: 2s
  localLanguages:
    lua: ""
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.BaseURL != "http://eval:9000" || cfg.Timeout != 5*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if *cfg.PrettyJSON {
		t.Fatalf("pretty json should be false")
	}
	if cfg.Judge.Provider != "judge0" || cfg.Judge.Languages["typescript"] != 74 {
		t.Fatalf("unexpected judge config: %+v", cfg.Judge)
	}
	if engine, ok := cfg.Runner.LocalLanguages["lua"]; !ok || engine != "" {
		t.Fatalf("expected lua routed remote, got %#v", cfg.Runner.LocalLanguages)
	}
	if cfg.Runner.LocalTimeout != 2*time.Second {
		t.Fatalf("unexpected local timeout: %s", cfg.Runner.LocalTimeout)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(path, []byte("baseURL: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
