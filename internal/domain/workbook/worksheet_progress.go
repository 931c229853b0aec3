package workbook

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WorksheetProgress is one user's saved state for one worksheet. The primary key
// (user_id, phase_number, worksheet_id) makes saves idempotent upserts.
type WorksheetProgress struct {
	UserID      uuid.UUID `gorm:"type:uuid;primaryKey;column:user_id" json:"user_id"`
	PhaseNumber int       `gorm:"primaryKey;autoIncrement:false;column:phase_number" json:"phase_number"`
	WorksheetID string    `gorm:"primaryKey;column:worksheet_id" json:"worksheet_id"`

	Data      datatypes.JSON `gorm:"column:data;type:jsonb" json:"data"`
	Completed bool           `gorm:"column:completed;not null;default:false" json:"completed"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (WorksheetProgress) TableName() string { return "workbook_progress" }
