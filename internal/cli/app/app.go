// Package app builds the nodeo command tree.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"nodeo/internal/cli/command"
	"nodeo/internal/cli/config"
	httpclient "nodeo/internal/cli/http"
	"nodeo/internal/cli/repl"
	"nodeo/internal/cli/state"
	"nodeo/internal/evaluator/challenge"
	"nodeo/internal/evaluator/judge"
	"nodeo/internal/evaluator/model"
	"nodeo/internal/evaluator/runner"
	"nodeo/pkg/utils/logger"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/cli.yaml"

// extensionLanguages guesses --lang from a file name.
var extensionLanguages = map[string]string{
	".js":   "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".lua":  "lua",
	".py":   "python",
	".go":   "go",
	".rb":   "ruby",
	".java": "java",
	".c":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".rs":   "rust",
	".cs":   "csharp",
}

type globalFlags struct {
	configPath string
	baseURL    string
	timeout    time.Duration
	pretty     bool
}

// Execute runs the CLI.
func Execute(ctx context.Context) error {
	return NewRootCmd(os.Stdout).ExecuteContext(ctx)
}

// NewRootCmd builds the command tree writing to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := silenceUsage(&cobra.Command{
		Use:   "nodeo",
		Short: "Evaluate code against challenge tests, locally or through the evaluator API.",
	})
	root.SetOut(out)
	root.PersistentFlags().StringVar(&flags.configPath, "config", defaultConfigPath, "Path to config file")
	root.PersistentFlags().StringVar(&flags.baseURL, "base", "", "Override API base URL")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 0, "Override HTTP timeout (e.g. 10s)")
	root.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "Pretty print JSON output")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newLanguagesCmd(flags))
	root.AddCommand(newStatusCmd(flags))
	root.AddCommand(newWatchCmd(flags))
	root.AddCommand(newReplCmd(flags))
	return root
}

func silenceUsage(cmd *cobra.Command) *cobra.Command {
	cmd.SilenceUsage = true
	return cmd
}

func loadConfig(flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, err
	}
	if flags.baseURL != "" {
		cfg.BaseURL = flags.baseURL
	}
	if flags.timeout > 0 {
		cfg.Timeout = flags.timeout
	}
	if flags.pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return cfg, fmt.Errorf("init logger failed: %w", err)
	}
	return cfg, nil
}

// newRunner builds the in-process runner the run and languages commands use.
func newRunner(cfg config.Config) (*runner.Runner, error) {
	adapter, err := judge.NewAdapterFromConfig(cfg.Judge)
	if err != nil {
		return nil, fmt.Errorf("build judge failed: %w", err)
	}
	table := runner.NewTable(runner.LocalLanguages(cfg.Runner.LocalLanguages), judge.NewLanguageTable(cfg.Judge.Languages))
	return runner.New(table, adapter, cfg.Runner)
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		language      string
		challengeID   string
		challengesDir string
	)
	cmd := silenceUsage(&cobra.Command{
		Use:   "run <file> [--lang=<language>] [--challenge=<id>]",
		Short: "Evaluate a source file in-process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if challengesDir != "" {
				cfg.ChallengesDir = challengesDir
			}
			if language == "" {
				language = LanguageForFile(args[0])
			}
			if language == "" {
				return fmt.Errorf("--lang is required for %s", filepath.Base(args[0]))
			}
			code, err := command.ReadFile(args[0])
			if err != nil {
				return err
			}
			r, err := newRunner(cfg)
			if err != nil {
				return err
			}
			res, err := RunFile(cmd.Context(), r, cfg.ChallengesDir, language, code, challengeID)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res, *cfg.PrettyJSON); err != nil {
				return err
			}
			if !res.Passed {
				return fmt.Errorf("%d of %d tests failed", res.FailedCount(), len(res.Results))
			}
			return nil
		},
	})
	cmd.Flags().StringVar(&language, "lang", "", "Language of the file; guessed from the extension when empty")
	cmd.Flags().StringVar(&challengeID, "challenge", "", "Challenge whose tests to run")
	cmd.Flags().StringVar(&challengesDir, "challenges-dir", "", "Directory of challenge files")
	return cmd
}

// RunFile evaluates code with the tests of challengeID, or with no tests when
// challengeID is empty.
func RunFile(ctx context.Context, r *runner.Runner, challengesDir, language, code, challengeID string) (model.ExecutionResult, error) {
	var tests model.LanguageTests
	if challengeID != "" {
		loader, err := challenge.LoadDir(ctx, challengesDir)
		if err != nil {
			return model.ExecutionResult{}, err
		}
		tests, err = loader.TestsFor(challengeID, language)
		if err != nil {
			return model.ExecutionResult{}, err
		}
	}
	return r.RunChallenge(ctx, strings.ToLower(language), code, tests)
}

// LanguageForFile guesses a language from the file extension.
func LanguageForFile(path string) string {
	return extensionLanguages[strings.ToLower(filepath.Ext(path))]
}

func newLanguagesCmd(flags *globalFlags) *cobra.Command {
	var remote bool
	cmd := silenceUsage(&cobra.Command{
		Use:   "languages",
		Short: "List supported languages and their backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if remote {
				return callAPI(cmd, cfg, "languages", nil)
			}
			r, err := newRunner(cfg)
			if err != nil {
				return err
			}
			return PrintLanguages(cmd.OutOrStdout(), r.Languages())
		},
	})
	cmd.Flags().BoolVar(&remote, "remote", false, "Ask the evaluator API instead of the local table")
	return cmd
}

// PrintLanguages writes one row per language.
func PrintLanguages(w io.Writer, languages []runner.LanguageInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LANGUAGE\tBACKEND\tENGINE/ID")
	for _, info := range languages {
		target := info.Backend.Engine
		if info.Backend.Kind != runner.BackendLocal {
			target = fmt.Sprintf("%d", info.Backend.JudgeID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, info.Backend.Kind, target)
	}
	return tw.Flush()
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return silenceUsage(&cobra.Command{
		Use:   "status [run id]",
		Short: "Show the status of a queued run; defaults to the last one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return callAPI(cmd, cfg, "status", args)
		},
	})
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	return silenceUsage(&cobra.Command{
		Use:   "watch [run id]",
		Short: "Stream status changes of a queued run until it finishes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return callAPI(cmd, cfg, "watch", args)
		},
	})
}

// callAPI runs one registry command against the API and prints the result.
func callAPI(cmd *cobra.Command, cfg config.Config, name string, args []string) error {
	spec := command.Registry()[name]
	params, err := command.ParseArgs(spec, args)
	if err != nil {
		return err
	}
	if (name == "status" || name == "watch") && params.Get("id") == "" {
		session, err := state.Load(cfg.StatePath)
		if err != nil {
			return err
		}
		if session.LastRunID == "" {
			return fmt.Errorf("no run id given and no last run recorded")
		}
		params.Set("id", session.LastRunID)
	}
	req, err := command.BuildRequest(spec, params)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	client := httpclient.New(cfg.BaseURL, cfg.Timeout)
	if req.Stream {
		return client.Stream(cmd.Context(), req.Path, func(frame json.RawMessage) error {
			return printJSON(out, frame, *cfg.PrettyJSON)
		})
	}
	resp, err := client.Do(cmd.Context(), req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	if err := printJSON(out, json.RawMessage(resp.Body), *cfg.PrettyJSON); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func newReplCmd(flags *globalFlags) *cobra.Command {
	return silenceUsage(&cobra.Command{
		Use:   "repl",
		Short: "Interactive shell against the evaluator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			session, err := state.Load(cfg.StatePath)
			if err != nil {
				return err
			}
			baseURL := cfg.BaseURL
			if flags.baseURL == "" && session.BaseURL != "" {
				baseURL = session.BaseURL
			}
			client := httpclient.New(baseURL, cfg.Timeout)
			s := repl.New(client, command.Registry(), &session, cfg.StatePath, cfg.HistoryPath, *cfg.PrettyJSON)
			return s.Run(cmd.Context())
		},
	})
}

func printJSON(w io.Writer, v any, pretty bool) error {
	var (
		data []byte
		err  error
	)
	if raw, ok := v.(json.RawMessage); ok && !json.Valid(raw) {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
