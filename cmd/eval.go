package cmd

import (
	"github.com/spf13/cobra"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/eval"
)

var (
	flagEvalDataset string
	flagEvalK       int
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score retrieval quality against a labeled dataset",
	Long: `Runs recall@k, precision@k and nDCG@k over a JSON dataset of queries
with labeled relevant sections, against the active index generation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		items, err := eval.LoadDataset(flagEvalDataset)
		if err != nil {
			return err
		}

		evaluator, err := eval.New(a.store, a.client, flagEvalK, a.logger)
		if err != nil {
			return err
		}

		gen, err := a.store.ActiveGeneration(ctx)
		if err != nil {
			return err
		}

		result, err := evaluator.Run(ctx, gen, items)
		if err != nil {
			return err
		}

		for _, d := range result.Details {
			cmd.Printf("%-60s recall@%d=%.2f precision@%d=%.2f nDCG@%d=%.2f\n",
				d.Query, result.K, d.Recall, result.K, d.Precision, result.K, d.NDCG)
		}
		cmd.Println()
		cmd.Printf("average recall@%d:    %.2f\n", result.K, result.AvgRecall)
		cmd.Printf("average precision@%d: %.2f\n", result.K, result.AvgPrecision)
		cmd.Printf("average nDCG@%d:      %.2f\n", result.K, result.AvgNDCG)
		return nil
	},
}

func init() {
	evalCmd.Flags().StringVar(&flagEvalDataset, "dataset", "", "JSON evaluation dataset (required)")
	evalCmd.Flags().IntVar(&flagEvalK, "k", 3, "number of sections to retrieve per query")
	_ = evalCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(evalCmd)
}
