package cmd

import (
	"github.com/spf13/cobra"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/config"
)

// Version information, injected at build time via ldflags.
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("slu-docbot %s\n", AppVersion)
		cmd.Printf("build time: %s\n", BuildTime)
		cmd.Printf("git commit: %s\n", GitCommit)

		cfg, err := config.Load()
		if err != nil {
			// Still useful without a valid configuration.
			cmd.Printf("\nconfiguration not loaded: %v\n", err)
			return nil
		}

		cmd.Println()
		cmd.Printf("language:  %s\n", cfg.Language)
		cmd.Printf("provider:  %s\n", cfg.Provider)
		cmd.Printf("model:     %s\n", cfg.ModelName)
		cmd.Printf("embedder:  %s\n", cfg.EmbedderModel)
		cmd.Printf("cache:     enabled=%v min_similarity=%.2f ttl=%s\n",
			cfg.CacheEnabled, cfg.CacheMinSimilarity, cfg.CacheTTL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
