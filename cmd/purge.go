package cmd

import (
	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired interactions and cache entries",
	Long: `Interactions and cache entries carry expiry timestamps and are never
served once past them; purge reclaims the storage they occupy. Intended to
run periodically, e.g. from cron.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		interactions, cacheEntries, err := a.store.PurgeExpired(ctx)
		if err != nil {
			return err
		}

		cmd.Printf("purged %d interactions and %d cache entries\n", interactions, cacheEntries)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
