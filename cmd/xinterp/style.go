package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/caffeineduck/xinterp/executor"
	"github.com/caffeineduck/xinterp/xidata"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	traceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			PaddingLeft(2)
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) // #nosec G115 - file descriptors are small integers
}

// render applies style only when w is a color terminal.
func render(w io.Writer, style lipgloss.Style, s string) string {
	f, ok := w.(*os.File)
	if !ok || !isTerminal(f) {
		return s
	}
	if t := os.Getenv("TERM"); t == "" || t == "dumb" {
		return s
	}
	return style.Render(s)
}

// errFailed reports that a script raised. The failure is already printed.
var errFailed = errors.New("script failed")

// printFailure writes a captured exception with its traceback and causes.
func printFailure(w io.Writer, info *xidata.FailureInfo) {
	for depth := 0; info != nil; depth++ {
		if depth > 0 {
			fmt.Fprintln(w, render(w, dimStyle, "caused by:"))
		}
		fmt.Fprintln(w, render(w, errorStyle, info.Type.String()+": "+info.Msg))
		if tb := strings.TrimSpace(info.Formatted); tb != "" && tb != info.Type.Name+": "+info.Msg {
			fmt.Fprintln(w, render(w, traceStyle, tb))
		}
		info = info.Cause
	}
}

func printError(w io.Writer, err error) {
	if errors.Is(err, errFailed) {
		return
	}
	fmt.Fprintln(w, render(w, errorStyle, "Error: ")+err.Error())
}

// formatValue renders a result for the terminal. Proxies are asked for
// their repr in the owning interpreter.
func formatValue(th *executor.Thread, v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(t))
	case *executor.Proxy:
		s, err := t.Repr(th)
		if err != nil {
			return t.String()
		}
		return s
	case *executor.MemoryView:
		return fmt.Sprintf("<memoryview of %d bytes>", t.Len())
	}
	return fmt.Sprint(v)
}
