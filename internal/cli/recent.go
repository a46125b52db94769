package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/hybrid-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the newest memories",
		Run:   runRecent,
	}

	cmd.Flags().IntP("limit", "l", 10, "Max results")
	cmd.Flags().StringP("user", "u", "", "Filter by user id")
	cmd.Flags().String("context", "", "Filter by context")

	RootCmd.AddCommand(cmd)
}

func runRecent(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	user, _ := cmd.Flags().GetString("user")
	ctxLabel, _ := cmd.Flags().GetString("context")

	a, err := openApp(false)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	ms, err := a.svc.GetRecentMemories(cmd.Context(), memory.RecentRequest{
		Limit:   limit,
		UserID:  user,
		Context: ctxLabel,
	})
	if err != nil {
		exitErr("recent", err)
	}
	printMemories(cmd, ms)
}
