package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/workbook-backend/internal/platform/envutil"
	"github.com/yungbote/workbook-backend/internal/services"
)

func newTokenCmd() *cobra.Command {
	var (
		userID    string
		sessionID string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an access token signed with JWT_SECRET_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseOrNew(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			sid, err := parseOrNew(sessionID)
			if err != nil {
				return fmt.Errorf("invalid --session: %w", err)
			}
			auth, err := services.NewAuthService(log, envutil.String("JWT_SECRET_KEY", ""), ttl)
			if err != nil {
				return err
			}
			token, err := auth.IssueAccessToken(uid, sid)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "user=%s session=%s expires_in=%s\n", uid, sid, auth.GetAccessTTL())
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (uuid); random when empty")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (uuid); random when empty")
	cmd.Flags().DurationVar(&ttl, "ttl", envutil.Seconds("ACCESS_TOKEN_TTL", 0), "token lifetime; 0 uses the service default")
	return cmd
}

func parseOrNew(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(raw)
}
