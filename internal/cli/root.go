// Package cli implements the hybrid-memory CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/hybrid-memory/internal/model"
)

// Version is stamped at build time.
var Version = "dev"

var (
	configPath string
	dbPath     string
	formatFlag string
	verbose    bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "hybrid-memory",
	Short: "Hybrid semantic and keyword memory store",
	Long: "A memory store that keeps every memory in SQLite and its embedding in a vector index.\n" +
		"Search blends semantic similarity with keyword matches. Run `serve` for the HTTP API.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $HYBRID_MEMORY_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $HYBRID_MEMORY_DB or ~/.hybrid-memory/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at the configured level instead of warnings only")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("HYBRID_MEMORY_CONFIG")
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func printJSON(cmd *cobra.Command, v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

// printMemories writes memories as JSON, or one line each in text format.
func printMemories(cmd *cobra.Command, ms []model.Memory) {
	if formatFlag != "text" {
		printJSON(cmd, nonEmpty(ms))
		return
	}
	out := cmd.OutOrStdout()
	for _, m := range ms {
		score := ""
		if m.SimilarityScore != nil {
			score = fmt.Sprintf(" %.3f", *m.SimilarityScore)
		}
		fmt.Fprintf(out, "%s%s [%d] %s\n", m.ID, score, m.ImportanceScore, firstLine(m.Content, 80))
	}
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func parseMeta(s string) (model.Metadata, error) {
	if s == "" {
		return nil, nil
	}
	var meta model.Metadata
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", err)
	}
	return meta, nil
}

// nonEmpty keeps empty results encoding as [] rather than null.
func nonEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
