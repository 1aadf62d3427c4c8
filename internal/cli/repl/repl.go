package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"nodeo/internal/cli/command"
	httpclient "nodeo/internal/cli/http"
	"nodeo/internal/cli/state"
	pkgerrors "nodeo/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

var errExit = errors.New("exit")

// Session holds REPL state.
type Session struct {
	client       *httpclient.Client
	commands     map[string]command.Command
	session      *state.SessionState
	statePath    string
	historyPath  string
	prettyJSON   bool
	outputWriter io.Writer
	// prompt asks for a missing field; nil fails the command instead.
	prompt func(label string) (string, error)
}

func New(client *httpclient.Client, commands map[string]command.Command, session *state.SessionState, statePath, historyPath string, prettyJSON bool) *Session {
	return &Session{
		client:       client,
		commands:     commands,
		session:      session,
		statePath:    statePath,
		historyPath:  historyPath,
		prettyJSON:   prettyJSON,
		outputWriter: os.Stdout,
	}
}

// SetOutput redirects what the session prints.
func (s *Session) SetOutput(w io.Writer) {
	s.outputWriter = w
}

func (s *Session) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "nodeo> ",
		HistoryFile:     s.historyPath,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()
	s.outputWriter = rl.Stdout()
	s.prompt = func(label string) (string, error) {
		rl.SetPrompt(label + ": ")
		defer rl.SetPrompt("nodeo> ")
		line, err := rl.Readline()
		if err != nil {
			return "", fmt.Errorf("read input failed: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				s.printLine("bye")
				return nil
			}
			return err
		}
		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				s.printLine("bye")
				return nil
			}
			s.printLine("error: %v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Execute handles one input line.
func (s *Session) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if handled, err := s.handleSystemCommand(line); handled {
		return err
	}
	return s.handleCommand(ctx, line)
}

func (s *Session) handleSystemCommand(line string) (bool, error) {
	switch line {
	case "exit", "quit":
		return true, errExit
	case "help":
		s.printHelp()
		return true, nil
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true, nil
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true, nil
	}
	return false, nil
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8090")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.session.BaseURL = s.client.BaseURL()
		s.saveState()
		s.printLine("base set to %s", s.client.BaseURL())
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.statePath)
		s.printLine("historyPath: %s", s.historyPath)
	case "last":
		if s.session.LastRunID == "" {
			s.printLine("last run: <none>")
			return
		}
		s.printLine("last run: %s (%s) at %s", s.session.LastRunID, s.session.LastLang, s.session.LastRunAt.Format(time.RFC3339))
		if s.session.LastChallID != "" {
			s.printLine("challenge: %s", s.session.LastChallID)
		}
	default:
		s.printLine("usage: show config|last")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	cmd, ok := s.commands[tokens[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", tokens[0])
	}
	params, err := command.ParseArgs(cmd, tokens[1:])
	if err != nil {
		return err
	}
	s.applyParamShortcuts(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}

	if req.Stream {
		return s.client.Stream(ctx, req.Path, func(frame json.RawMessage) error {
			s.renderJSON(frame)
			return nil
		})
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	s.rememberRun(cmd, params, resp.Body)
	return nil
}

// applyParamShortcuts fills an omitted run id from the last run.
func (s *Session) applyParamShortcuts(cmd command.Command, params command.Params) {
	if cmd.Name != "status" && cmd.Name != "watch" {
		return
	}
	id := params.Get("id")
	if (id == "" || id == "last") && s.session.LastRunID != "" {
		params.Set("id", s.session.LastRunID)
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range command.Missing(cmd, params) {
		if s.prompt == nil {
			return fmt.Errorf("missing %s, usage: %s", field.Name, cmd.Usage)
		}
		value, err := s.prompt(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	s.renderJSON(resp.Body)
}

func (s *Session) renderJSON(body []byte) {
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(body))
}

// rememberRun stores the id of a successful run or submit.
func (s *Session) rememberRun(cmd command.Command, params command.Params, body []byte) {
	if cmd.Name != "run" && cmd.Name != "submit" {
		return
	}
	type runData struct {
		RunID string `json:"run_id"`
	}
	type respEnvelope struct {
		Code int     `json:"code"`
		Data runData `json:"data"`
	}
	var resp respEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return
	}
	if resp.Code != int(pkgerrors.Success) || resp.Data.RunID == "" {
		return
	}
	s.session.RememberRun(resp.Data.RunID, params.Get("language"), params.Get("challenge"))
	s.saveState()
}

func (s *Session) saveState() {
	if s.statePath == "" {
		return
	}
	if err := state.Save(s.statePath, *s.session); err != nil {
		s.printLine("save state failed: %v", err)
	}
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	for _, name := range command.Names(s.commands) {
		s.printLine("  %s", s.commands[name].Usage)
	}
	s.printLine("system: help | exit | set base|timeout | show config|last")
	s.printLine("examples:")
	s.printLine("  run javascript ./solution.js hello-world")
	s.printLine("  submit lua ./solution.lua key=retry-1")
	s.printLine("  watch last")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
}
