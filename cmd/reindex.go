package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/reindex"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/store"
)

// cacheFlusher drops cached replies straight through the store, so the
// post-swap flush works even when the semantic cache is disabled but stale
// entries linger.
type cacheFlusher struct {
	store *store.Store
}

func (f cacheFlusher) InvalidateAll(ctx context.Context) error {
	return f.store.DeleteAllCacheEntries(ctx)
}

var (
	flagReindexSections string
	flagReindexQA       string
	flagReindexMinSim   float64
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the passive index generation and promote it",
	Long: `Rebuilds the passive copy of the section index from a JSON section
file, probes it with a question/answer set and, only if every probe answer
is close enough to its expected answer, promotes it to active and flushes
the semantic cache. A failed probe aborts before the swap, leaving live
traffic untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		pairs, err := reindex.LoadQAPairs(flagReindexQA)
		if err != nil {
			return err
		}

		coordinator, err := reindex.New(reindex.Config{
			Storage:             a.store,
			Cache:               cacheFlusher{store: a.store},
			Answerer:            a.handler,
			Embedder:            a.client,
			Source:              reindex.NewFileSource(flagReindexSections, a.client, a.codec, a.logger),
			QAPairs:             pairs,
			MinAnswerSimilarity: flagReindexMinSim,
			Logger:              a.logger,
		})
		if err != nil {
			return err
		}

		if err := coordinator.Run(ctx); err != nil {
			return err
		}
		cmd.Println("reindex complete")
		return nil
	},
}

func init() {
	reindexCmd.Flags().StringVar(&flagReindexSections, "sections", "", "JSON file with handbook sections (required)")
	reindexCmd.Flags().StringVar(&flagReindexQA, "qa", "", "JSON file with quality-gate question/answer pairs (required)")
	reindexCmd.Flags().Float64Var(&flagReindexMinSim, "min-similarity", reindex.DefaultMinAnswerSimilarity,
		"minimum cosine similarity between probe and expected answers")
	_ = reindexCmd.MarkFlagRequired("sections")
	_ = reindexCmd.MarkFlagRequired("qa")
	rootCmd.AddCommand(reindexCmd)
}
