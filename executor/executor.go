package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"code.hybscloud.com/atomix"
	"github.com/tetratelabs/wazero"

	"github.com/caffeineduck/xinterp/hostfunc"
	"github.com/caffeineduck/xinterp/xidata"
)

// Summary identifies an interpreter in listings.
type Summary struct {
	ID     int64
	Whence Whence
}

// Executor is the process-wide registry of interpreters. It owns the main
// interpreter, the wasm runtime backing interpreter heaps, and the
// converters used to move values between interpreters.
type Executor struct {
	cfg      executorConfig
	registry *xidata.Registry
	funcs    *hostfunc.Registry
	logger   *slog.Logger
	langs    map[string]Language
	wasm     wazero.Runtime
	cache    wazero.CompilationCache

	compiledMu sync.RWMutex
	compiled   map[uint32]wazero.CompiledModule

	mu      sync.RWMutex
	interps map[int64]*Interpreter
	main    *Interpreter
	shared  *runtimeLock
	serial  atomix.Int64
	closed  bool
}

// New creates an Executor with the given host function registry and a main
// interpreter.
func New(funcs *hostfunc.Registry, opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.resolve()

	if funcs == nil {
		funcs = hostfunc.NewRegistry()
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	var err error

	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = defaultCacheDir()
		}
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	e := &Executor{
		cfg:      cfg,
		registry: cfg.registry,
		funcs:    funcs,
		logger:   cfg.logger,
		langs:    make(map[string]Language),
		wasm:     wazero.NewRuntimeWithConfig(ctx, rtConfig),
		cache:    cache,
		compiled: make(map[uint32]wazero.CompiledModule),
		interps:  make(map[int64]*Interpreter),
		shared:   new(runtimeLock),
	}
	for _, lang := range cfg.languages {
		e.langs[lang.Name()] = lang
	}

	if err := e.registerConverters(); err != nil {
		e.closeWasm(ctx)
		return nil, err
	}

	main, err := e.newInterpreter(0, cfg.mainConfig, WhenceRuntime)
	if err != nil {
		e.closeWasm(ctx)
		return nil, fmt.Errorf("create main interpreter: %w", err)
	}
	e.main = main
	e.interps[0] = main

	return e, nil
}

func (e *Executor) language(name string) (Language, error) {
	if name != "" {
		lang, ok := e.langs[name]
		if !ok {
			return nil, fmt.Errorf("unknown language %q", name)
		}
		return lang, nil
	}
	if len(e.cfg.languages) == 0 {
		return nil, nil
	}
	return e.cfg.languages[0], nil
}

func (e *Executor) newInterpreter(id int64, cfg Config, whence Whence) (*Interpreter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	interp := &Interpreter{
		id:     id,
		whence: whence,
		cfg:    cfg,
		exec:   e,
		state:  StateUninitialized,
		views:  make(map[*BufferView]struct{}),
	}
	if cfg.sharedLock() {
		interp.lock = e.shared
	} else {
		interp.lock = new(runtimeLock)
	}

	if cfg.HeapPages > 0 {
		h, err := e.newHeap(context.Background(), cfg.HeapPages)
		if err != nil {
			return nil, err
		}
		interp.heap = h
	}

	lang, err := e.language(cfg.Language)
	if err != nil {
		interp.closeHeap()
		return nil, err
	}
	if lang != nil {
		rt, err := lang.NewRuntime(interp)
		if err != nil {
			interp.closeHeap()
			return nil, fmt.Errorf("start %s runtime: %w", lang.Name(), err)
		}
		interp.runtime = rt
	}

	interp.state = StateReady
	return interp, nil
}

func (i *Interpreter) closeHeap() {
	if i.heap != nil {
		_ = i.heap.close(context.Background())
	}
}

// Create starts a new interpreter and returns its id.
func (e *Executor) Create(cfg Config, opts ...CreateOption) (int64, error) {
	cc := createConfig{whence: WhenceStdlib}
	for _, opt := range opts {
		opt(&cc)
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return 0, ErrExecutorClosed
	}

	id := e.serial.Add(1)
	interp, err := e.newInterpreter(id, cfg, cc.whence)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInterpreterCreation, err)
	}
	interp.requireRefs = cc.requireRefs

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = interp.finalize(nil, nil)
		return 0, ErrExecutorClosed
	}
	e.interps[id] = interp
	e.mu.Unlock()

	e.logger.Debug("interpreter created", "id", id, "whence", cc.whence.String())
	return id, nil
}

// Lookup returns the live interpreter with the given id.
func (e *Executor) Lookup(id int64) (*Interpreter, error) {
	return e.lookup(id)
}

func (e *Executor) lookup(id int64) (*Interpreter, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrExecutorClosed
	}
	interp, ok := e.interps[id]
	if !ok {
		return nil, notFound(id)
	}
	return interp, nil
}

// Main returns the main interpreter.
func (e *Executor) Main() *Interpreter {
	return e.main
}

// MainThread returns a new thread bound to the main interpreter.
func (e *Executor) MainThread() *Thread {
	return newThread(e, e.main)
}

// Destroy finalizes the interpreter. It fails when the interpreter is the
// thread's current one, is running, or is pinned by outstanding buffer
// views.
func (e *Executor) Destroy(th *Thread, id int64) error {
	interp, err := e.lookup(id)
	if err != nil {
		return err
	}
	if th != nil && th.Current() == interp {
		return interpError("cannot destroy the current interpreter")
	}
	return e.destroy(th, interp)
}

func (e *Executor) destroy(th *Thread, interp *Interpreter) error {
	interp.mu.Lock()
	switch {
	case interp.isMain():
		interp.mu.Unlock()
		return interpError("cannot destroy the main interpreter")
	case interp.state != StateReady:
		state := interp.state
		interp.mu.Unlock()
		return interpError("interpreter %d is %s", interp.id, state)
	case interp.active > 0:
		interp.mu.Unlock()
		return interpError("interpreter %d is running", interp.id)
	case interp.refs > 0:
		refs := interp.refs
		interp.mu.Unlock()
		return interpError("interpreter %d has %d references", interp.id, refs)
	case interp.pins > 0:
		pins := interp.pins
		interp.mu.Unlock()
		return interpError("interpreter %d has %d exported buffer views", interp.id, pins)
	}
	interp.state = StateFinalizing
	views := make([]*BufferView, 0, len(interp.views))
	for bv := range interp.views {
		views = append(views, bv)
	}
	interp.views = nil
	interp.mu.Unlock()

	e.mu.Lock()
	delete(e.interps, interp.id)
	e.mu.Unlock()

	if th == nil {
		th = e.MainThread()
	}
	err := interp.finalize(th, views)
	e.logger.Debug("interpreter destroyed", "id", interp.id)
	return err
}

// List returns the live interpreters in ascending id order. With
// requireReady, interpreters that are not ready are skipped.
func (e *Executor) List(requireReady bool) []Summary {
	e.mu.RLock()
	interps := make([]*Interpreter, 0, len(e.interps))
	for _, interp := range e.interps {
		interps = append(interps, interp)
	}
	e.mu.RUnlock()

	sort.Slice(interps, func(a, b int) bool { return interps[a].id < interps[b].id })

	out := make([]Summary, 0, len(interps))
	for _, interp := range interps {
		if requireReady {
			if s := interp.State(); s != StateReady && s != StateRunning {
				continue
			}
		}
		out = append(out, Summary{ID: interp.id, Whence: interp.whence})
	}
	return out
}

// Whence returns who created the interpreter.
func (e *Executor) Whence(id int64) (Whence, error) {
	interp, err := e.lookup(id)
	if err != nil {
		return WhenceUnknown, err
	}
	return interp.whence, nil
}

// IsRunning reports whether a thread is executing in the interpreter.
func (e *Executor) IsRunning(id int64) (bool, error) {
	interp, err := e.lookup(id)
	if err != nil {
		return false, err
	}
	return interp.IsRunning(), nil
}

// GetConfig returns the interpreter's config.
func (e *Executor) GetConfig(id int64) (Config, error) {
	interp, err := e.lookup(id)
	if err != nil {
		return Config{}, err
	}
	return interp.cfg, nil
}

// Incref adds a handle reference. With link, the interpreter also starts
// requiring references, so the matching Decref to zero destroys it.
func (e *Executor) Incref(id int64, link bool) error {
	interp, err := e.lookup(id)
	if err != nil {
		return err
	}
	interp.mu.Lock()
	if link {
		interp.requireRefs = true
	}
	interp.refs++
	interp.mu.Unlock()
	return nil
}

// Decref drops a handle reference. Reaching zero destroys the interpreter
// if it requires references.
func (e *Executor) Decref(th *Thread, id int64) error {
	interp, err := e.lookup(id)
	if err != nil {
		return err
	}
	interp.mu.Lock()
	if interp.refs == 0 {
		interp.mu.Unlock()
		return interpError("interpreter %d has no references to drop", id)
	}
	destroy := interp.refs == 1 && interp.requireRefs
	if destroy && th != nil && th.Current() == interp {
		interp.mu.Unlock()
		return interpError("cannot drop the last reference to the current interpreter")
	}
	interp.refs--
	interp.mu.Unlock()

	if !destroy {
		return nil
	}
	if err := e.destroy(th, interp); err != nil {
		// Keep the reference so the drop can be retried.
		interp.mu.Lock()
		interp.refs++
		interp.mu.Unlock()
		e.logger.Warn("interpreter not destroyed after last reference", "id", id, "err", err)
		return err
	}
	return nil
}

// Registry returns the converters used for cross-interpreter values.
func (e *Executor) Registry() *xidata.Registry { return e.registry }

// Funcs returns the host functions installed into interpreters.
func (e *Executor) Funcs() *hostfunc.Registry { return e.funcs }

// Logger returns the executor's logger.
func (e *Executor) Logger() *slog.Logger { return e.logger }

// Output returns where interpreters write printed output.
func (e *Executor) Output() io.Writer { return e.cfg.output }

// Close destroys every interpreter and releases the wasm runtime.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	interps := make([]*Interpreter, 0, len(e.interps))
	for _, interp := range e.interps {
		interps = append(interps, interp)
	}
	e.interps = map[int64]*Interpreter{}
	e.mu.Unlock()

	sort.Slice(interps, func(a, b int) bool { return interps[a].id > interps[b].id })

	th := e.MainThread()
	var errs []error
	for _, interp := range interps {
		interp.mu.Lock()
		interp.state = StateFinalizing
		views := make([]*BufferView, 0, len(interp.views))
		for bv := range interp.views {
			views = append(views, bv)
		}
		interp.views = nil
		interp.mu.Unlock()
		if err := interp.finalize(th, views); err != nil {
			errs = append(errs, fmt.Errorf("interpreter %d: %w", interp.id, err))
		}
	}

	if err := e.closeWasm(context.Background()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Executor) closeWasm(ctx context.Context) error {
	var errs []error
	if err := e.wasm.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.cache != nil {
		if err := e.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "xinterp")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "xinterp")
	}
	return filepath.Join(os.TempDir(), "xinterp-cache")
}
