package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/workbook-backend/internal/catalog"
	"github.com/yungbote/workbook-backend/internal/data/db"
	workbookrepo "github.com/yungbote/workbook-backend/internal/data/repos/workbook"
	types "github.com/yungbote/workbook-backend/internal/domain"
	"github.com/yungbote/workbook-backend/internal/platform/apierr"
	"github.com/yungbote/workbook-backend/internal/platform/ctxutil"
	"github.com/yungbote/workbook-backend/internal/platform/dbctx"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/progress"
	"github.com/yungbote/workbook-backend/internal/realtime"
)

const (
	overviewConcurrency = 4

	// nginx's code for a request abandoned by the client
	statusClientClosedRequest = 499
)

// WorkbookService reads and writes the caller's worksheet records. The caller is
// taken from the request data on ctx.
type WorkbookService interface {
	ListPhase(ctx context.Context, phase int) ([]progress.WorksheetProgress, error)
	GetWorksheet(ctx context.Context, phase int, worksheetID string) (*progress.WorksheetProgress, error)
	SaveWorksheet(ctx context.Context, phase int, worksheetID string, data progress.Document, completed *bool) (*progress.WorksheetProgress, error)
	PhaseExercises(ctx context.Context, phase int) (progress.PhaseSummary, error)
	Overview(ctx context.Context) ([]progress.PhaseSummary, error)
}

type WorkbookServiceOptions struct {
	// StrictCatalog rejects worksheet ids that the catalog does not list.
	StrictCatalog bool
}

type workbookService struct {
	db      *gorm.DB
	log     *logger.Logger
	repo    workbookrepo.ProgressRepo
	catalog *catalog.Catalog
	cache   ProgressCache
	emitter SSEEmitter
	opts    WorkbookServiceOptions
}

func NewWorkbookService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo workbookrepo.ProgressRepo,
	cat *catalog.Catalog,
	cache ProgressCache,
	emitter SSEEmitter,
	opts WorkbookServiceOptions,
) WorkbookService {
	if cache == nil {
		cache = NewNoopProgressCache()
	}
	return &workbookService{
		db:      db,
		log:     baseLog.With("service", "WorkbookService"),
		repo:    repo,
		catalog: cat,
		cache:   cache,
		emitter: emitter,
		opts:    opts,
	}
}

func (s *workbookService) ListPhase(ctx context.Context, phase int) ([]progress.WorksheetProgress, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if err := progress.ValidatePhase(phase); err != nil {
		return nil, apierr.New(http.StatusBadRequest, "invalid_phase", err)
	}
	return s.listPhase(ctx, userID, phase)
}

func (s *workbookService) listPhase(ctx context.Context, userID uuid.UUID, phase int) ([]progress.WorksheetProgress, error) {
	cached, gen, ok, cacheErr := s.cache.GetPhase(ctx, userID, phase)
	if cacheErr != nil {
		s.log.Warn("Progress cache read failed", "phase", phase, "error", cacheErr)
	} else if ok {
		return cached, nil
	}

	rows, err := s.repo.ListByPhase(dbctx.Context{Ctx: ctx}, userID, phase)
	if err != nil {
		return nil, storeError("list worksheets", err)
	}
	out := make([]progress.WorksheetProgress, 0, len(rows))
	for _, row := range rows {
		rec, err := toRecord(row)
		if err != nil {
			s.log.Warn("Skipping worksheet with unreadable data", "phase", phase, "worksheet_id", row.WorksheetID, "error", err)
			continue
		}
		out = append(out, rec)
	}
	if cacheErr == nil {
		if err := s.cache.SetPhase(ctx, userID, phase, gen, out); err != nil {
			s.log.Warn("Progress cache write failed", "phase", phase, "error", err)
		}
	}
	return out, nil
}

func (s *workbookService) GetWorksheet(ctx context.Context, phase int, worksheetID string) (*progress.WorksheetProgress, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	key := progress.Key{PhaseNumber: phase, WorksheetID: worksheetID}
	if err := s.validateKey(key); err != nil {
		return nil, err
	}
	row, err := s.repo.Get(dbctx.Context{Ctx: ctx}, userID, phase, worksheetID)
	if err != nil {
		return nil, storeError("get worksheet", err)
	}
	if row == nil {
		return nil, nil
	}
	rec, err := toRecord(row)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "corrupt_record", err)
	}
	return &rec, nil
}

// SaveWorksheet upserts the record and returns it as stored. A nil completed keeps
// the stored flag; a nil data stores an empty object.
func (s *workbookService) SaveWorksheet(ctx context.Context, phase int, worksheetID string, data progress.Document, completed *bool) (*progress.WorksheetProgress, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	key := progress.Key{PhaseNumber: phase, WorksheetID: worksheetID}
	if err := s.validateKey(key); err != nil {
		return nil, err
	}
	if data == nil {
		data = progress.Document{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, apierr.New(http.StatusBadRequest, "invalid_data", fmt.Errorf("encode worksheet data: %w", err))
	}

	var stored *types.WorksheetProgress
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		row := &types.WorksheetProgress{
			UserID:      userID,
			PhaseNumber: phase,
			WorksheetID: worksheetID,
			Data:        datatypes.JSON(raw),
		}
		if completed != nil {
			row.Completed = *completed
		}
		if err := s.repo.Upsert(dbc, row, completed != nil); err != nil {
			return err
		}
		got, err := s.repo.Get(dbc, userID, phase, worksheetID)
		if err != nil {
			return err
		}
		stored = got
		return nil
	})
	if txErr != nil {
		return nil, storeError("save worksheet", txErr)
	}
	if stored == nil {
		return nil, apierr.New(http.StatusInternalServerError, "internal", errors.New("saved worksheet not found"))
	}
	rec, err := toRecord(stored)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "corrupt_record", err)
	}

	if err := s.cache.InvalidatePhase(ctx, userID, phase); err != nil {
		s.log.Warn("Progress cache invalidation failed", "phase", phase, "error", err)
	}
	if s.emitter != nil {
		s.emitter.Emit(ctx, realtime.SSEMessage{
			Channel: realtime.UserChannel(userID),
			Event:   realtime.SSEEventWorksheetProgressSaved,
			Data: realtime.WorksheetSaved{
				PhaseNumber: rec.PhaseNumber,
				WorksheetID: rec.WorksheetID,
				Completed:   rec.Completed,
				UpdatedAt:   rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}
	s.log.Debug("Worksheet saved", "user_id", userID, "phase", phase, "worksheet_id", worksheetID, "completed", rec.Completed)
	return &rec, nil
}

func (s *workbookService) PhaseExercises(ctx context.Context, phase int) (progress.PhaseSummary, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return progress.PhaseSummary{}, err
	}
	if err := progress.ValidatePhase(phase); err != nil {
		return progress.PhaseSummary{}, apierr.New(http.StatusBadRequest, "invalid_phase", err)
	}
	records, err := s.listPhase(ctx, userID, phase)
	if err != nil {
		return progress.PhaseSummary{}, err
	}
	return progress.Aggregate(phase, s.exercises(phase), records), nil
}

// Overview summarizes every phase, loading phases concurrently.
func (s *workbookService) Overview(ctx context.Context) ([]progress.PhaseSummary, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]progress.PhaseSummary, progress.MaxPhase-progress.MinPhase+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(overviewConcurrency)
	for phase := progress.MinPhase; phase <= progress.MaxPhase; phase++ {
		phase := phase
		g.Go(func() error {
			records, err := s.listPhase(gctx, userID, phase)
			if err != nil {
				return err
			}
			out[phase-progress.MinPhase] = progress.Aggregate(phase, s.exercises(phase), records)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *workbookService) exercises(phase int) []progress.ExerciseConfig {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Exercises(phase)
}

func (s *workbookService) validateKey(key progress.Key) error {
	if err := key.Validate(); err != nil {
		return apierr.New(http.StatusBadRequest, "invalid_worksheet_key", err)
	}
	if s.opts.StrictCatalog && s.catalog != nil && !s.catalog.Has(key.PhaseNumber, key.WorksheetID) {
		return apierr.New(http.StatusNotFound, "unknown_worksheet", fmt.Errorf("worksheet %s is not in the catalog", key))
	}
	return nil
}

func callerID(ctx context.Context) (uuid.UUID, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return uuid.Nil, apierr.New(http.StatusUnauthorized, "unauthorized", errors.New("no authenticated user"))
	}
	return rd.UserID, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return apierr.New(statusClientClosedRequest, "request_canceled", fmt.Errorf("%s: %w", op, err))
	}
	if db.IsTransient(err) {
		return apierr.New(http.StatusServiceUnavailable, "store_unavailable", fmt.Errorf("%s: %w", op, err))
	}
	return apierr.New(http.StatusInternalServerError, "internal", fmt.Errorf("%s: %w", op, err))
}

func toRecord(row *types.WorksheetProgress) (progress.WorksheetProgress, error) {
	doc, err := progress.DecodeDocument(row.Data)
	if err != nil {
		return progress.WorksheetProgress{}, err
	}
	return progress.WorksheetProgress{
		PhaseNumber: row.PhaseNumber,
		WorksheetID: row.WorksheetID,
		Data:        doc,
		Completed:   row.Completed,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}
