package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verifdevis/devis-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "devis-cli",
	Short: "Construction quote analysis service",
	Long:  "Extracts renovation quotes, verifies the issuing company, positions prices against the local market and produces a VERT/ORANGE/ROUGE trust score.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
