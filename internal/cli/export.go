package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export every stored memory as a JSON array, oldest first. Feed it to `batch` to re-import.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	a, err := openApp(false)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	all, err := a.store.ExportAll(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}
	printJSON(cmd, nonEmpty(all))
}
