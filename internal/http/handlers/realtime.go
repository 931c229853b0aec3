package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/workbook-backend/internal/http/response"
	"github.com/yungbote/workbook-backend/internal/observability"
	"github.com/yungbote/workbook-backend/internal/platform/ctxutil"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/realtime"
)

// RealtimeHandler serves the per-user event stream. A session holds at most one
// stream; reconnecting with the same session closes the previous one.
type RealtimeHandler struct {
	log     *logger.Logger
	hub     *realtime.SSEHub
	metrics *observability.Metrics

	mu       sync.Mutex
	sessions map[uuid.UUID]*realtime.SSEClient
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub, metrics *observability.Metrics) *RealtimeHandler {
	return &RealtimeHandler{
		log:      log.With("handler", "RealtimeHandler"),
		hub:      hub,
		metrics:  metrics,
		sessions: make(map[uuid.UUID]*realtime.SSEClient),
	}
}

// GET /api/sse/stream
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errNotAuthenticated)
		return
	}

	client := h.hub.NewSSEClient(rd.UserID)
	if rd.SessionID != uuid.Nil {
		h.mu.Lock()
		if existing, ok := h.sessions[rd.SessionID]; ok {
			h.hub.CloseClient(existing)
		}
		h.sessions[rd.SessionID] = client
		h.mu.Unlock()
	}
	h.hub.AddChannel(client, realtime.UserChannel(rd.UserID))
	h.metrics.SSEClientsAdd(1)
	h.log.Debug("SSE stream open", "user_id", rd.UserID, "client_id", client.ID)

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	if rd.SessionID != uuid.Nil {
		h.mu.Lock()
		if h.sessions[rd.SessionID] == client {
			delete(h.sessions, rd.SessionID)
		}
		h.mu.Unlock()
	}
	h.hub.CloseClient(client)
	h.metrics.SSEClientsAdd(-1)
	h.log.Debug("SSE stream closed", "user_id", rd.UserID, "client_id", client.ID)
}
