package app

import (
	"gorm.io/gorm"

	workbookrepo "github.com/yungbote/workbook-backend/internal/data/repos/workbook"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
)

type Repos struct {
	Progress workbookrepo.ProgressRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Progress: workbookrepo.NewProgressRepo(db, log),
	}
}
