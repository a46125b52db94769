package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	a, err := openApp(false)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	ok, err := a.svc.DeleteMemory(cmd.Context(), args[0])
	if err != nil {
		exitErr("rm", err)
	}
	if !ok {
		exitErr("rm", fmt.Errorf("memory %s not found", args[0]))
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
}
