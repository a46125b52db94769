package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("track", false, "Count this read as an access")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	track, _ := cmd.Flags().GetBool("track")

	a, err := openApp(false)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	m, err := a.svc.GetMemory(cmd.Context(), args[0], track)
	if err != nil {
		exitErr("get", err)
	}
	printJSON(cmd, m)
}
