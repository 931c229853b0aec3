package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/workbook-backend/internal/http/response"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/progress"
	"github.com/yungbote/workbook-backend/internal/services"
)

const maxWorksheetBody = 1 << 20

type WorkbookHandler struct {
	log      *logger.Logger
	workbook services.WorkbookService
}

func NewWorkbookHandler(log *logger.Logger, workbook services.WorkbookService) *WorkbookHandler {
	return &WorkbookHandler{log: log.With("handler", "WorkbookHandler"), workbook: workbook}
}

type saveWorksheetRequest struct {
	Data      json.RawMessage `json:"data"`
	Completed *bool           `json:"completed,omitempty"`
}

// GET /api/workbook/phases/:phase/worksheets
func (h *WorkbookHandler) ListWorksheets(c *gin.Context) {
	phase, ok := phaseParam(c)
	if !ok {
		return
	}
	recs, err := h.workbook.ListPhase(c.Request.Context(), phase)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"records": recs})
}

// GET /api/workbook/phases/:phase/worksheets/:worksheetId
func (h *WorkbookHandler) GetWorksheet(c *gin.Context) {
	phase, ok := phaseParam(c)
	if !ok {
		return
	}
	rec, err := h.workbook.GetWorksheet(c.Request.Context(), phase, c.Param("worksheetId"))
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"record": rec})
}

// PUT /api/workbook/phases/:phase/worksheets/:worksheetId
func (h *WorkbookHandler) SaveWorksheet(c *gin.Context) {
	phase, ok := phaseParam(c)
	if !ok {
		return
	}
	req, err := decodeSaveRequest(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	data, err := progress.DecodeDocument(req.Data)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_data", err)
		return
	}
	if len(bytes.TrimSpace(req.Data)) > 0 && data == nil && !isJSONNull(req.Data) {
		response.RespondError(c, http.StatusBadRequest, "invalid_data", errors.New("data must be a JSON object"))
		return
	}
	rec, err := h.workbook.SaveWorksheet(c.Request.Context(), phase, c.Param("worksheetId"), data, req.Completed)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"record": rec})
}

// GET /api/workbook/phases/:phase/exercises
func (h *WorkbookHandler) PhaseExercises(c *gin.Context) {
	phase, ok := phaseParam(c)
	if !ok {
		return
	}
	sum, err := h.workbook.PhaseExercises(c.Request.Context(), phase)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"summary": sum})
}

// GET /api/workbook/overview
func (h *WorkbookHandler) Overview(c *gin.Context) {
	phases, err := h.workbook.Overview(c.Request.Context())
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"phases": phases})
}

func phaseParam(c *gin.Context) (int, bool) {
	raw := c.Param("phase")
	phase, err := strconv.Atoi(raw)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_phase", fmt.Errorf("phase %q is not a number", raw))
		return 0, false
	}
	return phase, true
}

func decodeSaveRequest(c *gin.Context) (saveWorksheetRequest, error) {
	var req saveWorksheetRequest
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWorksheetBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
		}
		return req, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return req, errors.New("empty body")
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("decode body: %w", err)
	}
	return req, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
