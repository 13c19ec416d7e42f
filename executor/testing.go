package executor

import (
	"sync"

	"github.com/caffeineduck/xinterp/hostfunc"
	"github.com/caffeineduck/xinterp/internal/logging"
)

// TestExecutor provides a shared executor for tests that only need plain
// Go values moved between interpreters.
var (
	testExecutor     *Executor
	testExecutorOnce sync.Once
	testExecutorErr  error
)

// GetTestExecutor returns a shared executor with the builtin host functions
// and no language runtime. It is created once and reused.
func GetTestExecutor() (*Executor, error) {
	testExecutorOnce.Do(func() {
		registry := hostfunc.NewRegistry()
		hostfunc.RegisterBuiltins(registry)
		testExecutor, testExecutorErr = New(registry, WithLogger(logging.Discard()))
	})
	return testExecutor, testExecutorErr
}

// CloseTestExecutor closes the shared test executor.
// Call this in TestMain if needed, but typically not necessary.
func CloseTestExecutor() {
	if testExecutor != nil {
		testExecutor.Close()
		testExecutor = nil
		testExecutorOnce = sync.Once{} // Reset for next test run
	}
}
