package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/workbook-backend/internal/app"
	"github.com/yungbote/workbook-backend/internal/catalog"
	"github.com/yungbote/workbook-backend/internal/observability"
	"github.com/yungbote/workbook-backend/internal/progress"
	"github.com/yungbote/workbook-backend/internal/progress/httpstore"
	"github.com/yungbote/workbook-backend/internal/services"
)

func newSyncCmd() *cobra.Command {
	var (
		baseURL   string
		token     string
		userID    string
		phase     int
		worksheet string
		debounce  time.Duration
		complete  bool
		summary   bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay JSON edits from stdin through the autosave controller",
		Long: `Reads one JSON object per line from stdin and merges each into the worksheet,
exactly as an editor would. Saves are debounced, flushed at end of input, and the
phase summary is printed as JSON when done. Without --base-url the edits are written
straight to the database as --user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{ServiceName: "workbookctl"})
			defer func() { _ = otelShutdown(context.Background()) }()
			metrics := observability.Init(log)

			var store progress.Store
			if baseURL != "" {
				client, err := httpstore.New(httpstore.Config{BaseURL: baseURL, Token: token, Log: log})
				if err != nil {
					return fmt.Errorf("init http store: %w", err)
				}
				store = client
			} else {
				uid, err := uuid.Parse(userID)
				if err != nil || uid == uuid.Nil {
					return fmt.Errorf("direct database mode needs --user: invalid user id %q", userID)
				}
				a, err := app.New(ctx)
				if err != nil {
					return fmt.Errorf("init app: %w", err)
				}
				defer a.Close()
				store = services.NewUserProgressStore(a.Services.Workbook, uid)
			}

			job := syncJob{
				Store:    observability.InstrumentStore(store, nil, metrics),
				Key:      progress.Key{PhaseNumber: phase, WorksheetID: worksheet},
				Debounce: debounce,
				Complete: complete,
				Hooks:    metrics,
				Log:      log,
			}
			if summary {
				cat, err := catalog.Load()
				if err != nil {
					return fmt.Errorf("load catalog: %w", err)
				}
				job.Exercises = cat.Exercises(phase)
			}
			return job.run(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "workbook API base url; empty writes to the database directly")
	cmd.Flags().StringVar(&token, "token", os.Getenv("WORKBOOK_TOKEN"), "bearer token for --base-url")
	cmd.Flags().StringVar(&userID, "user", "", "user id for direct database mode")
	cmd.Flags().IntVar(&phase, "phase", 0, "phase number (1-10)")
	cmd.Flags().StringVar(&worksheet, "worksheet", "", "worksheet id")
	cmd.Flags().DurationVar(&debounce, "debounce", progress.DefaultDebounce, "autosave debounce")
	cmd.Flags().BoolVar(&complete, "complete", false, "mark the worksheet completed after the edits")
	cmd.Flags().BoolVar(&summary, "summary", true, "print the phase summary when done")
	_ = cmd.MarkFlagRequired("phase")
	_ = cmd.MarkFlagRequired("worksheet")
	return cmd
}
