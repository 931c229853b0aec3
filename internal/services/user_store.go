package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/yungbote/workbook-backend/internal/platform/apierr"
	"github.com/yungbote/workbook-backend/internal/platform/ctxutil"
	"github.com/yungbote/workbook-backend/internal/progress"
)

// UserProgressStore is a progress.Store that runs directly against the
// WorkbookService as a fixed user, for in-process controllers.
type UserProgressStore struct {
	svc    WorkbookService
	userID uuid.UUID
}

var _ progress.Store = (*UserProgressStore)(nil)

func NewUserProgressStore(svc WorkbookService, userID uuid.UUID) *UserProgressStore {
	return &UserProgressStore{svc: svc, userID: userID}
}

func (s *UserProgressStore) asUser(ctx context.Context) context.Context {
	return ctxutil.WithRequestData(ctxutil.Default(ctx), &ctxutil.RequestData{UserID: s.userID})
}

func (s *UserProgressStore) Upsert(ctx context.Context, key progress.Key, data progress.Document, completed *bool) error {
	_, err := s.svc.SaveWorksheet(s.asUser(ctx), key.PhaseNumber, key.WorksheetID, data, completed)
	return mapStoreError("upsert", err)
}

func (s *UserProgressStore) FetchOne(ctx context.Context, key progress.Key) (*progress.WorksheetProgress, error) {
	rec, err := s.svc.GetWorksheet(s.asUser(ctx), key.PhaseNumber, key.WorksheetID)
	if err != nil {
		return nil, mapStoreError("fetch worksheet", err)
	}
	return rec, nil
}

func (s *UserProgressStore) FetchByPhase(ctx context.Context, phase int) ([]progress.WorksheetProgress, error) {
	recs, err := s.svc.ListPhase(s.asUser(ctx), phase)
	if err != nil {
		return nil, mapStoreError("fetch phase", err)
	}
	return recs, nil
}

// mapStoreError keeps request validation failures distinguishable from outages.
func mapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	status, _ := apierr.StatusOf(err, http.StatusInternalServerError, "")
	if status == http.StatusBadRequest || status == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %w", op, progress.ErrInvalidKey, err)
	}
	return progress.Unavailable(op, err)
}
