package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/hybrid-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update fields of a memory",
		Long:  "Update a memory. Only the flags given are changed; changing content re-indexes it.",
		Args:  cobra.ExactArgs(1),
		Run:   runUpdate,
	}

	cmd.Flags().String("content", "", "New content")
	cmd.Flags().String("context", "", "New context label")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags (replaces existing)")
	cmd.Flags().IntP("importance", "i", 0, "Importance 1-10")
	cmd.Flags().String("meta", "", "JSON metadata (replaces existing)")

	RootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	var p model.Patch

	if flags.Changed("content") {
		v, _ := flags.GetString("content")
		p.Content = &v
	}
	if flags.Changed("context") {
		v, _ := flags.GetString("context")
		p.Context = &v
	}
	if flags.Changed("tags") {
		v, _ := flags.GetString("tags")
		tags := splitTags(v)
		if tags == nil {
			tags = []string{}
		}
		p.Tags = &tags
	}
	if flags.Changed("importance") {
		v, _ := flags.GetInt("importance")
		p.ImportanceScore = &v
	}
	if flags.Changed("meta") {
		v, _ := flags.GetString("meta")
		meta, err := parseMeta(v)
		if err != nil {
			exitErr("update", err)
		}
		p.Metadata = &meta
	}
	if p.Empty() {
		exitErr("update", fmt.Errorf("nothing to update"))
	}

	a, err := openApp(false)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	m, err := a.svc.UpdateMemory(cmd.Context(), args[0], p)
	if err != nil {
		exitErr("update", err)
	}
	printJSON(cmd, m)
}
