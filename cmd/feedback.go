package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/answer"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <interaction-id> <thumbsup|thumbsdown> [comment]",
	Short: "Leave feedback on an earlier answer",
	Long: `Records a thumbs up or down on an interaction returned by ask.
Feedback extends the interaction's retention so it can be reviewed later.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		comment := ""
		if len(args) == 3 {
			comment = args[2]
		}

		ack, err := a.handler.HandleFeedback(ctx, args[0], strings.ToLower(args[1]), comment)
		var verr *answer.ValidationError
		var nf *answer.NotFoundError
		switch {
		case errors.As(err, &verr):
			return errors.New(verr.Message)
		case errors.As(err, &nf):
			return errors.New(nf.Message)
		case err != nil:
			return err
		}

		cmd.Println(ack.Message)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(feedbackCmd)
}
