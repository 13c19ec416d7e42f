package executor

// Language creates the evaluator that runs code inside an interpreter.
type Language interface {
	// Name returns the language identifier (e.g., "javascript").
	Name() string

	// NewRuntime returns a fresh evaluator for interp. It is called once
	// while the interpreter is being created.
	NewRuntime(interp *Interpreter) (Runtime, error)
}

// Namespace is the top-level binding table of an interpreter.
type Namespace interface {
	Get(name string) (any, bool)
	Set(name string, v any) error
}

// Runtime is an evaluator bound to one interpreter. Every method runs on a
// thread that currently holds the interpreter's runtime lock; th is that
// thread and is the one to hand to nested proxy operations.
type Runtime interface {
	Namespace

	// Exec runs code in the main namespace.
	Exec(th *Thread, code string) error

	// Eval runs code and returns the value of its last expression.
	Eval(th *Thread, code string) (any, error)

	// Owns reports whether v is an engine value this runtime must handle.
	Owns(v any) bool

	// Callable reports whether an owned value can be called.
	Callable(v any) bool

	// Invoke applies op to an owned target.
	Invoke(th *Thread, op Op, target any, args []any, kwargs map[string]any) (any, error)

	Close() error
}

// Code is source text that evaluates to a callable in the target
// interpreter. It crosses interpreters as text.
type Code string
