// Command workbookctl is the developer CLI for the workbook backend.
//
//	workbookctl token --user 4b7c...
//	workbookctl sync --base-url http://localhost:8080 --token $TOKEN --phase 1 --worksheet wheel-of-life < edits.ndjson
//	workbookctl sync --user 4b7c... --phase 1 --worksheet wheel-of-life --complete < edits.ndjson
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yungbote/workbook-backend/internal/platform/envutil"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/platform/shutdown"
)

var log *logger.Logger

var rootCmd = &cobra.Command{
	Use:           "workbookctl",
	Short:         "workbookctl - developer tools for the workbook backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logger.New(envutil.String("LOG_MODE", "development"))
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		log = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Sync()
	},
}

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	rootCmd.AddCommand(newSyncCmd(), newTokenCmd())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
