package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/answer"
)

var (
	flagAskPassive bool
	flagAskNoCache bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the education handbook",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		var opts []answer.QueryOption
		if flagAskPassive {
			opts = append(opts, answer.WithPassiveGeneration())
		}
		if flagAskNoCache {
			opts = append(opts, answer.WithoutCache())
		}

		query := strings.Join(args, " ")
		reply, err := a.handler.HandleQuery(ctx, query, opts...)

		var verr *answer.ValidationError
		if errors.As(err, &verr) {
			return errors.New(verr.Message)
		}
		if reply == nil && err != nil {
			return err
		}

		printReply(cmd, reply)
		return nil
	},
}

func printReply(cmd *cobra.Command, reply *answer.Reply) {
	cmd.Println(reply.Message)

	if len(reply.Sections) > 0 {
		cmd.Println()
		for _, ref := range reply.Sections {
			if ref.AnchorURL != "" {
				cmd.Printf("  - %s (%s)\n", ref.Header, ref.AnchorURL)
			} else {
				cmd.Printf("  - %s\n", ref.Header)
			}
		}
	}

	cmd.Println()
	if reply.FromCache {
		cmd.Printf("(cached reply for: %s)\n", reply.OriginalQuery)
	}
	if reply.EmbeddingsVersion != "" {
		cmd.Printf("embeddings version: %s\n", reply.EmbeddingsVersion)
	}
	if reply.InteractionID != "" {
		cmd.Printf("interaction: %s\n", reply.InteractionID)
	}
}

func init() {
	askCmd.Flags().BoolVar(&flagAskPassive, "passive", false, "answer from the passive index generation")
	askCmd.Flags().BoolVar(&flagAskNoCache, "no-cache", false, "bypass the semantic cache")
	rootCmd.AddCommand(askCmd)
}
