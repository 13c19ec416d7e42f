package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/caffeineduck/xinterp/executor"
	"github.com/caffeineduck/xinterp/hostfunc"
	"github.com/caffeineduck/xinterp/internal/logging"
	"github.com/caffeineduck/xinterp/language/javascript"
	"github.com/caffeineduck/xinterp/xidata"
)

var rootCmd = &cobra.Command{
	Use:   "xinterp [file]",
	Short: "Run JavaScript across isolated interpreters",
	Long: `xinterp - Run JavaScript in isolated interpreters that exchange data
through cross-interpreter envelopes, proxies and shared buffers.

Each run gets a fresh interpreter created from a named config. Scripts
reach the rest of the executor through the xi global (xi.create,
xi.call, xi.share, xi.alloc, ...).`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runRun, // Default to run command behavior
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(rootCmd.ErrOrStderr(), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML file of named interpreter configs")
	rootCmd.PersistentFlags().StringP("config-name", "n", "isolated", "Interpreter config to create from")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Disable the heap module compilation cache")
	rootCmd.PersistentFlags().String("memory", "", "Heap limit per interpreter: 1mb, 16mb, 64mb, 256mb")
	rootCmd.PersistentFlags().Bool("pin-buffers", false, "Refuse to destroy interpreters whose buffers are borrowed")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	// Add run-specific flags to root (for default command)
	addRunFlags(rootCmd)
}

// newExecutor builds an executor from the persistent flags. Script output
// goes to the command's stdout.
func newExecutor(cmd *cobra.Command) (*executor.Executor, error) {
	flags := cmd.Root().PersistentFlags()
	noCache, _ := flags.GetBool("no-cache")
	memory, _ := flags.GetString("memory")
	pin, _ := flags.GetBool("pin-buffers")
	debug, _ := flags.GetBool("debug")

	pages, err := parseMemoryLimit(memory)
	if err != nil {
		return nil, err
	}

	// The kv functions keep envelopes, so they share the executor's
	// converter registry.
	reg := xidata.NewRegistry()
	funcs := hostfunc.NewRegistry()
	hostfunc.RegisterBuiltins(funcs)
	hostfunc.NewKV(reg, hostfunc.DefaultKVConfig()).Register(funcs)

	logger := logging.Logger()
	if debug {
		logger = logging.New(cmd.ErrOrStderr(), true)
	}

	opts := []executor.ExecutorOption{
		executor.WithLanguage(javascript.New()),
		executor.WithRegistry(reg),
		executor.WithLogger(logger),
		executor.WithOutput(cmd.OutOrStdout()),
	}
	if !noCache {
		opts = append(opts, executor.WithDiskCache())
	}
	if pages > 0 {
		opts = append(opts, executor.WithMemoryLimit(pages))
	}
	if pin {
		opts = append(opts, executor.WithBufferPinning())
	}
	return executor.New(funcs, opts...)
}

// loadConfigs returns the built-in configs merged with those of --config.
func loadConfigs(cmd *cobra.Command) (map[string]executor.Config, error) {
	cfgs := make(map[string]executor.Config)
	for _, name := range executor.ConfigNames() {
		cfg, err := executor.NewConfig(name, nil)
		if err != nil {
			return nil, err
		}
		cfgs[name] = cfg
	}

	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		return cfgs, nil
	}
	loaded, err := executor.LoadConfigs(path)
	if err != nil {
		return nil, err
	}
	for name, cfg := range loaded {
		cfgs[name] = cfg
	}
	return cfgs, nil
}

func resolveConfig(cmd *cobra.Command) (executor.Config, error) {
	name, _ := cmd.Root().PersistentFlags().GetString("config-name")
	cfgs, err := loadConfigs(cmd)
	if err != nil {
		return executor.Config{}, err
	}
	cfg, ok := cfgs[name]
	if !ok {
		return executor.Config{}, fmt.Errorf("unknown config %q (have %s)", name, strings.Join(sortedNames(cfgs), ", "))
	}
	return cfg, nil
}

func sortedNames(cfgs map[string]executor.Config) []string {
	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseMemoryLimit(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "":
		return 0, nil // use default
	case "1mb":
		return executor.MemoryLimit1MB, nil
	case "16mb":
		return executor.MemoryLimit16MB, nil
	case "64mb":
		return executor.MemoryLimit64MB, nil
	case "256mb":
		return executor.MemoryLimit256MB, nil
	}
	return 0, fmt.Errorf("invalid memory limit %q (expected 1mb, 16mb, 64mb or 256mb)", s)
}

// parseValue reads a command-line value as a YAML scalar, so 3 is an
// integer, 1.5 a float, true a bool and anything else a string.
func parseValue(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	switch t := v.(type) {
	case int:
		return int64(t)
	case float64, bool, string:
		return t
	case nil:
		return nil
	}
	return s
}

// parseShared turns key=value pairs into shared bindings.
func parseShared(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	shared := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid share %q (expected name=value)", pair)
		}
		shared[key] = parseValue(value)
	}
	return shared, nil
}

// readSource returns the code of -c, the file argument or stdin, in that
// order. name is the file read, if any.
func readSource(cmd *cobra.Command, args []string) (source, name string, err error) {
	code, _ := cmd.Flags().GetString("code")
	switch {
	case code != "":
		return code, "", nil
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", err
		}
		return string(data), args[0], nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		// No piped input
		return "", "", nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", "", err
	}
	return string(data), "", nil
}
