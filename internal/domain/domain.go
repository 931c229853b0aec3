package domain

import (
	"github.com/yungbote/workbook-backend/internal/domain/workbook"
)

type WorksheetProgress = workbook.WorksheetProgress
