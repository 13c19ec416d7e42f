package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/xinterp/executor"
	"github.com/caffeineduck/xinterp/language/javascript"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a script in a fresh interpreter",
	Long: `Execute JavaScript in a fresh interpreter created from --config-name.

Code can be provided via:
  - File argument: xinterp run script.js
  - Inline flag: xinterp run -c 'print(1 + 1)'
  - Stdin: echo 'print(1 + 1)' | xinterp run

Values passed with --share are bound into the interpreter's globals before
the script runs. With --watch the file is re-run in a new interpreter each
time it changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	cmd.Flags().StringSliceP("share", "s", nil, "Bind name=value into the interpreter (repeatable)")
	cmd.Flags().Duration("timeout", 30*time.Second, "Execution timeout (0 disables)")
	cmd.Flags().BoolP("watch", "w", false, "Re-run the file when it changes")
}

func runRun(cmd *cobra.Command, args []string) error {
	source, name, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	if source == "" {
		return cmd.Help()
	}

	pairs, _ := cmd.Flags().GetStringSlice("share")
	shared, err := parseShared(pairs)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	watch, _ := cmd.Flags().GetBool("watch")
	if watch && name == "" {
		return fmt.Errorf("--watch needs a file argument")
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

	runErr := runOnce(cmd, exec, cfg, source, shared, timeout)
	if !watch {
		return runErr
	}
	if runErr != nil {
		printError(cmd.ErrOrStderr(), runErr)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	return watchFile(ctx, name, func() {
		data, err := os.ReadFile(name)
		if err != nil {
			printError(cmd.ErrOrStderr(), err)
			return
		}
		fmt.Fprintln(cmd.ErrOrStderr(), render(cmd.ErrOrStderr(), dimStyle, "--- "+name+" changed"))
		if err := runOnce(cmd, exec, cfg, string(data), shared, timeout); err != nil {
			printError(cmd.ErrOrStderr(), err)
		}
	})
}

// runOnce executes source in a new interpreter and destroys it afterwards.
func runOnce(cmd *cobra.Command, exec *executor.Executor, cfg executor.Config, source string, shared map[string]any, timeout time.Duration) error {
	th := exec.MainThread()
	id, err := exec.Create(cfg)
	if err != nil {
		return err
	}
	defer exec.Destroy(th, id)

	if timeout > 0 {
		stop := interruptAfter(exec, id, timeout)
		defer stop()
	}

	info, err := exec.Exec(th, id, source, shared)
	if err != nil {
		return err
	}
	if info != nil {
		printFailure(cmd.ErrOrStderr(), info)
		return errFailed
	}
	return nil
}

// interruptAfter stops the script running in id once d elapses. The
// returned func cancels the timer.
func interruptAfter(exec *executor.Executor, id int64, d time.Duration) func() {
	interp, err := exec.Lookup(id)
	if err != nil {
		return func() {}
	}
	rt, ok := interp.Runtime().(*javascript.Runtime)
	if !ok {
		return func() {}
	}
	timer := time.AfterFunc(d, func() {
		rt.Interrupt(fmt.Sprintf("timeout after %s", d))
	})
	return func() {
		if timer.Stop() {
			return
		}
		rt.ClearInterrupt()
	}
}

// watchFile calls fn after each change to path until ctx is done. Changes
// are debounced since editors often write a file in several steps.
func watchFile(ctx context.Context, path string, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so replacing the file by rename is seen.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	var debounce *time.Timer
	const debounceDelay = 200 * time.Millisecond
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != abs || event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			fn()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("file watcher: %w", err)
		}
	}
}
