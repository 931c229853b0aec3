package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/workbook-backend/internal/platform/ctxutil"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/services"
)

func TestTokenCmdIssuesVerifiableToken(t *testing.T) {
	log = logger.Nop()
	t.Setenv("JWT_SECRET_KEY", "cli-secret")
	userID := uuid.New()

	cmd := newTokenCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--user", userID.String()})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	auth, err := services.NewAuthService(logger.Nop(), "cli-secret", 0)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	ctx, err := auth.SetContextFromToken(context.Background(), strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if rd := ctxutil.GetRequestData(ctx); rd == nil || rd.UserID != userID {
		t.Fatalf("token subject: want=%s got=%+v", userID, rd)
	}
	if !strings.Contains(errOut.String(), "user="+userID.String()) {
		t.Fatalf("stderr summary: got=%q", errOut.String())
	}
}

func TestTokenCmdRejectsBadUser(t *testing.T) {
	log = logger.Nop()
	t.Setenv("JWT_SECRET_KEY", "cli-secret")
	cmd := newTokenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--user", "not-a-uuid"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for invalid user id")
	}
}
