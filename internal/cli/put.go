package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/hybrid-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runPut,
	}

	cmd.Flags().String("context", "", "Context label")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().StringP("user", "u", "", "User id")
	cmd.Flags().String("conversation", "", "Conversation id")
	cmd.Flags().IntP("importance", "i", model.DefaultImportance, "Importance 1-10")
	cmd.Flags().String("meta", "", "JSON metadata")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	ctxLabel, _ := cmd.Flags().GetString("context")
	tagsStr, _ := cmd.Flags().GetString("tags")
	user, _ := cmd.Flags().GetString("user")
	conversation, _ := cmd.Flags().GetString("conversation")
	importance, _ := cmd.Flags().GetInt("importance")
	metaStr, _ := cmd.Flags().GetString("meta")

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	meta, err := parseMeta(metaStr)
	if err != nil {
		exitErr("put", err)
	}

	a, err := openApp(false)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	m, err := a.svc.CreateMemory(cmd.Context(), model.Draft{
		Content:         content,
		Context:         model.StringPtr(ctxLabel),
		Tags:            splitTags(tagsStr),
		Metadata:        meta,
		UserID:          model.StringPtr(user),
		ConversationID:  model.StringPtr(conversation),
		ImportanceScore: &importance,
	})
	if err != nil {
		exitErr("put", err)
	}
	printJSON(cmd, m)
}
