package executor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// GILMode selects whether an interpreter has its own runtime lock or shares
// one with every other interpreter in shared mode.
type GILMode string

const (
	GILDefault GILMode = "default"
	GILShared  GILMode = "shared"
	GILOwn     GILMode = "own"
)

// maxHeapPages is the wasm32 limit on linear memory pages.
const maxHeapPages = 65536

// Config holds the feature toggles of one interpreter.
type Config struct {
	AllowThreads bool    `yaml:"allow_threads" json:"allow_threads" description:"Allow threads other than sessions to bind to the interpreter"`
	GIL          GILMode `yaml:"gil" json:"gil" description:"Runtime lock mode: default, shared or own"`
	HeapPages    uint32  `yaml:"heap_pages" json:"heap_pages" description:"Pages (64KB) of wasm memory reserved for raw buffers"`
	Builtins     bool    `yaml:"builtins" json:"builtins" description:"Install host functions into the interpreter"`
	Language     string  `yaml:"language,omitempty" json:"language,omitempty" description:"Language runtime; empty selects the executor default"`
}

func isolatedConfig() Config {
	return Config{
		AllowThreads: true,
		GIL:          GILOwn,
		HeapPages:    16,
		Builtins:     true,
	}
}

func legacyConfig() Config {
	return Config{
		AllowThreads: true,
		GIL:          GILShared,
		HeapPages:    16,
		Builtins:     true,
	}
}

var namedConfigs = map[string]func() Config{
	"isolated": isolatedConfig,
	"legacy":   legacyConfig,
	"empty":    func() Config { return Config{} },
}

// ConfigNames lists the names accepted by NewConfig.
func ConfigNames() []string {
	names := make([]string, 0, len(namedConfigs))
	for name := range namedConfigs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultConfig returns the isolated config.
func DefaultConfig() Config {
	return isolatedConfig()
}

// NewConfig returns the named config with overrides applied. Override keys
// are the YAML field names of Config. An empty name selects "isolated".
func NewConfig(name string, overrides map[string]any) (Config, error) {
	if name == "" {
		name = "isolated"
	}
	mk, ok := namedConfigs[name]
	if !ok {
		return Config{}, fmt.Errorf("unsupported config name %q", name)
	}
	cfg := mk()

	if len(overrides) > 0 {
		raw, err := yaml.Marshal(overrides)
		if err != nil {
			return Config{}, fmt.Errorf("encode overrides: %w", err)
		}
		if err := decodeStrict(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("apply overrides: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// Validate checks field values.
func (c Config) Validate() error {
	switch c.GIL {
	case "", GILDefault, GILShared, GILOwn:
	default:
		return fmt.Errorf("unsupported gil mode %q", c.GIL)
	}
	if c.HeapPages > maxHeapPages {
		return fmt.Errorf("heap_pages %d exceeds %d", c.HeapPages, maxHeapPages)
	}
	return nil
}

func (c Config) sharedLock() bool {
	return c.GIL == GILShared
}

// LoadConfigs reads named configs from a YAML file. Each entry may name a
// base config with the "base" key; the other keys override it:
//
//	fast:
//	  base: isolated
//	  heap_pages: 4
//	compat:
//	  base: legacy
func LoadConfigs(path string) (map[string]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseConfigs(data)
}

// ParseConfigs parses the format read by LoadConfigs.
func ParseConfigs(data []byte) (map[string]Config, error) {
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	out := make(map[string]Config, len(raw))
	var errs []error
	for name, fields := range raw {
		base := ""
		if b, ok := fields["base"]; ok {
			s, isString := b.(string)
			if !isString {
				errs = append(errs, fmt.Errorf("%s: base must be a string", name))
				continue
			}
			base = s
			delete(fields, "base")
		}
		cfg, err := NewConfig(base, fields)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out[name] = cfg
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
