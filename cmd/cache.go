package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verifdevis/devis-cli/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the company verification cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cache entries from the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteExpiredCache(ctx)
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}
		zap.L().Info("expired cache entries deleted", zap.Int("count", n))
		fmt.Fprintf(os.Stdout, "%d expired entries deleted\n", n)
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every cached company fact",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var (
			n   int
			err error
		)
		if cfg.Cache.Driver == "redis" {
			var r *cache.Redis
			r, err = cache.NewRedis(cfg.Cache)
			if err != nil {
				return eris.Wrap(err, "connect redis")
			}
			defer r.Close() //nolint:errcheck
			n, err = r.Purge(ctx)
		} else {
			st, openErr := openStore(ctx)
			if openErr != nil {
				return openErr
			}
			defer st.Close() //nolint:errcheck
			n, err = st.PurgeCache(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "cache purge")
		}
		zap.L().Info("cache purged", zap.String("driver", cfg.Cache.Driver), zap.Int("count", n))
		fmt.Fprintf(os.Stdout, "%d entries deleted\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePruneCmd, cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
