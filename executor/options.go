package executor

import (
	"io"
	"log/slog"

	"github.com/caffeineduck/xinterp/internal/logging"
	"github.com/caffeineduck/xinterp/xidata"
)

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	languages        []Language
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32
	pinBuffers       bool
	logger           *slog.Logger
	output           io.Writer
	registry         *xidata.Registry
	mainConfig       Config
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		memoryLimitPages: 0, // 0 means use wazero default (65536 pages = 4GB)
		mainConfig:       legacyConfig(),
	}
}

// WithLanguage registers the languages interpreters can run. The first one
// is the default for configs that do not name a language.
func WithLanguage(langs ...Language) ExecutorOption {
	return func(c *executorConfig) {
		c.languages = append(c.languages, langs...)
	}
}

// WithDiskCache enables persistent caching of compiled heap modules.
// If dir is empty, uses the default cache directory (~/.cache/xinterp).
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit caps the pages any interpreter heap may reserve.
// Each page is 64KB. Examples:
//   - WithMemoryLimit(16) = 1MB max
//   - WithMemoryLimit(256) = 16MB max
//
// Default is 0 (no limit beyond the wasm maximum).
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

// Memory limit presets (in pages, 64KB each).
const (
	MemoryLimit1MB   uint32 = 16   // 1 MB
	MemoryLimit16MB  uint32 = 256  // 16 MB
	MemoryLimit64MB  uint32 = 1024 // 64 MB
	MemoryLimit256MB uint32 = 4096 // 256 MB
)

// WithBufferPinning keeps an interpreter alive while views of its buffers
// are held by other interpreters. Destroying a pinned interpreter fails.
// Without it, a view whose owner was destroyed is dropped without running
// the owner's release logic.
func WithBufferPinning() ExecutorOption {
	return func(c *executorConfig) {
		c.pinBuffers = true
	}
}

// WithLogger sets the logger. Defaults to the process logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(c *executorConfig) {
		c.logger = l
	}
}

// WithOutput sets where interpreters write printed output.
// Defaults to io.Discard.
func WithOutput(w io.Writer) ExecutorOption {
	return func(c *executorConfig) {
		c.output = w
	}
}

// WithRegistry uses reg instead of a fresh xidata registry. The executor
// adds its own converters to it.
func WithRegistry(reg *xidata.Registry) ExecutorOption {
	return func(c *executorConfig) {
		c.registry = reg
	}
}

// WithMainConfig sets the config of the main interpreter.
func WithMainConfig(cfg Config) ExecutorOption {
	return func(c *executorConfig) {
		c.mainConfig = cfg
	}
}

func (c *executorConfig) resolve() {
	if c.logger == nil {
		c.logger = logging.Logger()
	}
	if c.output == nil {
		c.output = io.Discard
	}
	if c.registry == nil {
		c.registry = xidata.NewRegistry()
	}
}

// CreateOption configures a single Create call.
type CreateOption func(*createConfig)

type createConfig struct {
	requireRefs bool
	whence      Whence
}

// RequireRefs makes the interpreter destroy itself when its reference
// count drops back to zero.
func RequireRefs() CreateOption {
	return func(c *createConfig) {
		c.requireRefs = true
	}
}

// WithWhence records who created the interpreter. Defaults to WhenceStdlib.
func WithWhence(w Whence) CreateOption {
	return func(c *createConfig) {
		c.whence = w
	}
}
