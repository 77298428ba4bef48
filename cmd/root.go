// Package cmd defines the slu-docbot command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	flagVerbose  bool
	flagJSONLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "slu-docbot",
	Short: "Question answering over the SLU education handbook",
	Long: `slu-docbot answers questions about the SLU education handbook using
retrieval-augmented generation: handbook sections are matched by embedding
similarity and handed to a chat model together with the question.

Replies to similar questions are served from a semantic cache, and the
section index is rebuilt blue/green with a quality gate before going live.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "log in JSON format")
}
