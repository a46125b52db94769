package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/hybrid-memory/internal/memory"
	"github.com/rcliao/hybrid-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:     "batch",
		Aliases: []string{"import"},
		Short:   "Create memories from a JSON array",
		Long: "Create up to 100 memories from a JSON array read from stdin or --file.\n" +
			"Each element uses the create fields (content, context, tags, metadata, user_id,\n" +
			"conversation_id, importance_score), so the output of `export` can be re-imported.",
		Run: runBatch,
	}

	cmd.Flags().String("file", "", "Read the array from this file instead of stdin")

	RootCmd.AddCommand(cmd)
}

type batchOutput struct {
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Items     []batchOutputRow `json:"items"`
}

type batchOutputRow struct {
	Index int         `json:"index"`
	ID    string      `json:"id,omitempty"`
	Error string      `json:"error,omitempty"`
	Kind  memory.Kind `json:"kind,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) {
	file, _ := cmd.Flags().GetString("file")

	var r io.Reader = os.Stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			exitErr("open file", err)
		}
		defer f.Close()
		r = f
	}

	var drafts []model.Draft
	if err := json.NewDecoder(r).Decode(&drafts); err != nil {
		exitErr("batch", fmt.Errorf("decode JSON array: %w", err))
	}

	a, err := openApp(false)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	res, err := a.svc.CreateMemories(cmd.Context(), drafts)
	if err != nil {
		exitErr("batch", err)
	}

	out := batchOutput{Succeeded: res.Succeeded, Failed: res.Failed, Items: make([]batchOutputRow, 0, len(res.Items))}
	for _, it := range res.Items {
		row := batchOutputRow{Index: it.Index}
		if it.Err != nil {
			row.Error = it.Err.Error()
			row.Kind = memory.KindOf(it.Err)
		} else {
			row.ID = it.Memory.ID
		}
		out.Items = append(out.Items, row)
	}
	printJSON(cmd, out)
}
