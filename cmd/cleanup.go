package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bastionlabs/bastion/cmd/cmdutil"
	"github.com/bastionlabs/bastion/internal/repository"
)

var cleanupWatch bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge expired sessions and revocation records",
	Long: `Delete role sessions and token blacklist rows whose expiry has passed.
Run once from cron, or with --watch to sweep continuously on the configured
interval (REVOCATION_CLEANUP_INTERVAL).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.NewBundle(cfg)
		if err != nil {
			return err
		}
		defer bundle.Close()

		sessions := repository.NewBunSessionRepository(bundle.DB)

		sweep := func(ctx context.Context) error {
			purged, err := bundle.Revoker.Cleanup(ctx)
			if err != nil {
				return fmt.Errorf("failed to purge revocation records: %w", err)
			}
			expired, err := sessions.DeleteExpired(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("failed to purge sessions: %w", err)
			}
			fmt.Printf("✓ Cleanup complete: %d revocation records, %d sessions\n", purged, expired)
			return nil
		}

		if !cleanupWatch {
			return sweep(context.Background())
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Sweeping every %s; Ctrl-C to stop.\n", cfg.RevocationCleanupInterval)
		if err := sweep(ctx); err != nil {
			return err
		}

		// Blacklist rows sweep in the background; sessions on our ticker.
		bundle.Revoker.StartCleanup(ctx, cfg.RevocationCleanupInterval)
		ticker := time.NewTicker(cfg.RevocationCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := sessions.DeleteExpired(ctx, time.Now()); err != nil {
					fmt.Println(err)
				}
			}
		}
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupWatch, "watch", false, "Sweep continuously on the configured interval")
	rootCmd.AddCommand(cleanupCmd)
}
