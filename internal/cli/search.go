package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/hybrid-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories",
		Long:  "Search memories by meaning and by keyword. Disable a leg with --semantic=false or --keyword=false.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().String("context", "", "Filter by context")
	cmd.Flags().StringP("user", "u", "", "Filter by user id")
	cmd.Flags().String("conversation", "", "Filter by conversation id")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags (keyword matches only)")
	cmd.Flags().IntP("limit", "l", 0, "Max results (default from config)")
	cmd.Flags().Float64("min-similarity", -1, "Minimum similarity for semantic matches (default from config)")
	cmd.Flags().Bool("semantic", true, "Run the semantic leg")
	cmd.Flags().Bool("keyword", true, "Run the keyword leg")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	ctxLabel, _ := cmd.Flags().GetString("context")
	user, _ := cmd.Flags().GetString("user")
	conversation, _ := cmd.Flags().GetString("conversation")
	tagsStr, _ := cmd.Flags().GetString("tags")
	limit, _ := cmd.Flags().GetInt("limit")
	minSim, _ := cmd.Flags().GetFloat64("min-similarity")
	semantic, _ := cmd.Flags().GetBool("semantic")
	keyword, _ := cmd.Flags().GetBool("keyword")

	a, err := openApp(false)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	if !cmd.Flags().Changed("min-similarity") {
		minSim = a.cfg.Search.MinSimilarity
	}

	res, err := a.svc.SearchMemories(cmd.Context(), memory.SearchRequest{
		Query: strings.Join(args, " "),
		Filters: memory.Filters{
			Context:        ctxLabel,
			UserID:         user,
			ConversationID: conversation,
			Tags:           splitTags(tagsStr),
		},
		Limit:           limit,
		MinSimilarity:   minSim,
		IncludeSemantic: semantic,
		IncludeKeyword:  keyword,
	})
	if err != nil {
		exitErr("search", err)
	}

	if formatFlag == "text" {
		printMemories(cmd, res.Memories)
		return
	}
	printJSON(cmd, map[string]interface{}{
		"memories":      nonEmpty(res.Memories),
		"total_count":   res.TotalCount,
		"search_type":   res.SearchType,
		"query_time_ms": float64(res.QueryTime.Microseconds()) / 1000,
	})
}
