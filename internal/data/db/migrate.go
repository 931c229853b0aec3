package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/workbook-backend/internal/domain"
)

// AutoMigrateAll creates or updates every table the service owns. It works against
// Postgres and the sqlite databases used in tests.
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.WorksheetProgress{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
