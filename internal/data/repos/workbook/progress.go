package workbook

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/workbook-backend/internal/domain"
	"github.com/yungbote/workbook-backend/internal/platform/dbctx"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
)

type ProgressRepo interface {
	// Upsert inserts or overwrites the row keyed by (user, phase, worksheet). The
	// completed flag is only written when setCompleted is true; otherwise an
	// existing row keeps its value and a new row starts as not completed.
	Upsert(dbc dbctx.Context, row *types.WorksheetProgress, setCompleted bool) error
	Get(dbc dbctx.Context, userID uuid.UUID, phase int, worksheetID string) (*types.WorksheetProgress, error)
	ListByPhase(dbc dbctx.Context, userID uuid.UUID, phase int) ([]*types.WorksheetProgress, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.WorksheetProgress, error)
}

type progressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProgressRepo(db *gorm.DB, baseLog *logger.Logger) ProgressRepo {
	return &progressRepo{db: db, log: baseLog.With("repo", "ProgressRepo")}
}

func (r *progressRepo) Upsert(dbc dbctx.Context, row *types.WorksheetProgress, setCompleted bool) error {
	if row == nil || row.UserID == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	row.UpdatedAt = now
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if !setCompleted {
		row.Completed = false
	}

	updates := []string{"data", "updated_at"}
	if setCompleted {
		updates = append(updates, "completed")
	}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "phase_number"},
				{Name: "worksheet_id"},
			},
			DoUpdates: clause.AssignmentColumns(updates),
		}).
		Create(row).Error
}

func (r *progressRepo) Get(dbc dbctx.Context, userID uuid.UUID, phase int, worksheetID string) (*types.WorksheetProgress, error) {
	if userID == uuid.Nil || worksheetID == "" {
		return nil, nil
	}
	var rows []*types.WorksheetProgress
	if err := dbc.DB(r.db).
		Where("user_id = ? AND phase_number = ? AND worksheet_id = ?", userID, phase, worksheetID).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *progressRepo) ListByPhase(dbc dbctx.Context, userID uuid.UUID, phase int) ([]*types.WorksheetProgress, error) {
	out := []*types.WorksheetProgress{}
	if userID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("user_id = ? AND phase_number = ?", userID, phase).
		Order("worksheet_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *progressRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.WorksheetProgress, error) {
	out := []*types.WorksheetProgress{}
	if userID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("user_id = ?", userID).
		Order("phase_number ASC, worksheet_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
