package realtime

import (
	"strings"

	"github.com/google/uuid"
)

type SSEEvent string

const (
	SSEEventWorksheetProgressSaved SSEEvent = "WorksheetProgressSaved"
)

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

// UserChannel is the channel every stream of userID is subscribed to.
func UserChannel(userID uuid.UUID) string {
	return "user:" + strings.ToLower(userID.String())
}

// WorksheetSaved is the payload of SSEEventWorksheetProgressSaved.
type WorksheetSaved struct {
	PhaseNumber int    `json:"phase_number"`
	WorksheetID string `json:"worksheet_id"`
	Completed   bool   `json:"completed"`
	UpdatedAt   string `json:"updated_at"`
}
