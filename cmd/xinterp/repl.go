package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/xinterp/executor"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL with persistent state",
	Long: `Start an interactive REPL (Read-Eval-Print Loop) session.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Dot commands switch between interpreters:
  .list              list interpreters
  .new [config]      create an interpreter and switch to it
  .use <id>          switch to an interpreter
  .destroy <id>      destroy an interpreter

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.xinterp_history)")
	rootCmd.AddCommand(replCmd)
}

type repl struct {
	cmd     *cobra.Command
	exec    *executor.Executor
	th      *executor.Thread
	cfgs    map[string]executor.Config
	current int64
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".xinterp_history")
	}

	cfgs, err := loadConfigs(cmd)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	exec, err := newExecutor(cmd)
	if err != nil {
		return err
	}
	defer exec.Close()

	id, err := exec.Create(cfg)
	if err != nil {
		return err
	}
	r := &repl{cmd: cmd, exec: exec, th: exec.MainThread(), cfgs: cfgs, current: id}

	in := cmd.InOrStdin()
	stdin, ok := in.(io.ReadCloser)
	if !ok {
		stdin = io.NopCloser(in)
	}
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = isTerminal(f)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            r.prompt(false),
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             stdin,
		Stdout:            cmd.OutOrStdout(),
		Stderr:            cmd.ErrOrStderr(),
		FuncIsTerminal:    func() bool { return interactive },
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	if interactive {
		fmt.Fprintln(cmd.ErrOrStderr(), render(cmd.ErrOrStderr(), titleStyle, "xinterp javascript REPL")+
			render(cmd.ErrOrStderr(), dimStyle, " (type 'exit' to quit, Ctrl+D to exit)"))
	}

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(r.prompt(false))
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		// Handle multi-line input
		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt(r.prompt(true))
			continue
		}
		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(r.prompt(false))
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if strings.HasPrefix(line, ".") {
			if err := r.command(line); err != nil {
				printError(cmd.ErrOrStderr(), err)
			}
			rl.SetPrompt(r.prompt(false))
			continue
		}
		r.eval(line)
	}
	return nil
}

func (r *repl) prompt(continued bool) string {
	if continued {
		return "... "
	}
	return fmt.Sprintf("[%d]> ", r.current)
}

func (r *repl) eval(code string) {
	v, info, err := r.exec.RunString(r.th, r.current, code)
	switch {
	case err != nil:
		printError(r.cmd.ErrOrStderr(), err)
	case info != nil:
		printFailure(r.cmd.ErrOrStderr(), info)
	case v != nil:
		fmt.Fprintln(r.cmd.OutOrStdout(), formatValue(r.th, v))
	}
}

func (r *repl) command(line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".list":
		out := r.cmd.OutOrStdout()
		for _, s := range r.exec.List(false) {
			marker := " "
			if s.ID == r.current {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %d %s\n", marker, s.ID, render(out, dimStyle, s.Whence.String()))
		}
		return nil

	case ".new":
		name := "isolated"
		if len(fields) > 1 {
			name = fields[1]
		}
		cfg, ok := r.cfgs[name]
		if !ok {
			return fmt.Errorf("unknown config %q", name)
		}
		id, err := r.exec.Create(cfg)
		if err != nil {
			return err
		}
		r.current = id
		return nil

	case ".use", ".destroy":
		if len(fields) != 2 {
			return fmt.Errorf("usage: %s <id>", fields[0])
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid interpreter id %q", fields[1])
		}
		if fields[0] == ".use" {
			if _, err := r.exec.Lookup(id); err != nil {
				return err
			}
			r.current = id
			return nil
		}
		if id == r.current {
			return fmt.Errorf("cannot destroy the current interpreter")
		}
		return r.exec.Destroy(r.th, id)
	}
	return fmt.Errorf("unknown command %s", fields[0])
}
