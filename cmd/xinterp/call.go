package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/xinterp/executor"
)

var callCmd = &cobra.Command{
	Use:   "call <function> [args...]",
	Short: "Call a function in a fresh interpreter",
	Long: `Call a function inside a fresh interpreter and print the result.

The function is JavaScript source evaluating to a function, or with --host
the name of a host function. Arguments are read as YAML scalars, so 3 is
an integer, 1.5 a float and true a bool.

  xinterp call '(a, b) => a + b' 2 3
  xinterp call --host len hello`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().Bool("host", false, "Call the named host function")
	callCmd.Flags().StringP("setup", "c", "", "Code to run in the interpreter before the call")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	host, _ := cmd.Flags().GetBool("host")
	setup, _ := cmd.Flags().GetString("setup")

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	exec, err := newExecutor(cmd)
	if err != nil {
		return err
	}
	defer exec.Close()

	var callable any = executor.Code(args[0])
	if host {
		fn, ok := exec.Funcs().Get(args[0])
		if !ok {
			return fmt.Errorf("unknown host function %q", args[0])
		}
		callable = fn
	}

	callArgs := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		callArgs = append(callArgs, parseValue(a))
	}

	th := exec.MainThread()
	id, err := exec.Create(cfg)
	if err != nil {
		return err
	}
	defer exec.Destroy(th, id)

	if setup != "" {
		info, err := exec.Exec(th, id, setup, nil)
		if err != nil {
			return err
		}
		if info != nil {
			printFailure(cmd.ErrOrStderr(), info)
			return errFailed
		}
	}

	res, info, err := exec.Call(th, id, callable, callArgs, nil, true)
	if err != nil {
		return err
	}
	if info != nil {
		printFailure(cmd.ErrOrStderr(), info)
		return errFailed
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatValue(th, res))
	return nil
}
