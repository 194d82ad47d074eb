package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sahaib/ftex/internal/ingest"
	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/service"
)

type ProcessRequest struct {
	Force      bool `json:"force"`
	Enrich     bool `json:"enrich"`
	Categorize bool `json:"categorize"`
}

// @Summary Run the processing pipeline
// @Tags process
// @Accept json
// @Produce json
// @Param request body ProcessRequest false "Pipeline options"
// @Success 200 {object} service.RunSummary
// @Failure 409 {object} map[string]any
// @Router /api/process [post]
func (h *Handler) Process(c *gin.Context) {
	var req ProcessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
			return
		}
	}
	if !h.processing.TryLock() {
		writeError(c, http.StatusConflict, "RUN_IN_PROGRESS", "A processing run is already in progress", nil)
		return
	}
	defer h.processing.Unlock()

	tickets, ok := h.tickets(c)
	if !ok {
		return
	}
	summary, err := h.Processor.ProcessTickets(c.Request.Context(), tickets, service.Options{
		Force:      req.Force,
		Enrich:     req.Enrich,
		Categorize: req.Categorize,
	})
	if err != nil {
		h.Logger.Error().Err(err).Msg("processing failed")
		writeError(c, http.StatusInternalServerError, "PROCESSING_ERROR", "Processing failed", gin.H{
			"error":  err.Error(),
			"run_id": summary.RunID,
		})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// @Summary Recompute dataset metrics
// @Tags metrics
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/metrics/recompute [post]
func (h *Handler) Recompute(c *gin.Context) {
	tickets, ok := h.tickets(c)
	if !ok {
		return
	}
	h.Metrics.Recompute(tickets, h.Settings, h.Cache)
	d, _ := h.Metrics.Dashboard()
	c.JSON(http.StatusOK, gin.H{"valid": h.Metrics.IsValid(), "dashboard": d})
}

// @Summary Drop the cached record for a ticket
// @Tags tickets
// @Produce json
// @Param id path int true "Ticket ID"
// @Success 200 {object} map[string]any
// @Router /api/tickets/{id}/invalidate [post]
func (h *Handler) Invalidate(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket_id": id, "invalidated": h.Cache.Invalidate(id)})
}

// IntelligencePatch is a partial manual edit of a cached record. Absent
// fields are left untouched.
type IntelligencePatch struct {
	Category             *string  `json:"category" validate:"omitempty,max=100"`
	CategoryConfidence   *float64 `json:"category_confidence" validate:"omitempty,gte=0,lte=1"`
	CategorySource       *string  `json:"category_source" validate:"omitempty,oneof=ai rule user unknown"`
	Sentiment            *string  `json:"sentiment" validate:"omitempty,oneof=positive neutral negative"`
	EscalationRisk       *float64 `json:"escalation_risk" validate:"omitempty,gte=0,lte=1"`
	CustomerFrustration  *float64 `json:"customer_frustration" validate:"omitempty,gte=0,lte=5"`
	ResolutionConfidence *float64 `json:"resolution_confidence" validate:"omitempty,gte=0,lte=1"`
	PendingParty         *string  `json:"pending_party" validate:"omitempty,oneof=internal external unknown"`
	PrimaryIssue         *string  `json:"primary_issue" validate:"omitempty,max=200"`
}

func (p IntelligencePatch) empty() bool {
	return p.Category == nil && p.CategoryConfidence == nil && p.CategorySource == nil &&
		p.Sentiment == nil && p.EscalationRisk == nil && p.CustomerFrustration == nil &&
		p.ResolutionConfidence == nil && p.PendingParty == nil && p.PrimaryIssue == nil
}

// apply writes the patch. A category edited without an explicit source is
// recorded as a user assignment.
func (p IntelligencePatch) apply(rec *models.TicketIntelligence) {
	if p.Category != nil {
		rec.Category = strings.TrimSpace(*p.Category)
		rec.CategorySource = models.SourceUser
		rec.CategoryConfidence = 1
	}
	if p.CategoryConfidence != nil {
		rec.CategoryConfidence = *p.CategoryConfidence
	}
	if p.CategorySource != nil {
		rec.CategorySource = models.CategorySource(*p.CategorySource)
	}
	if p.Sentiment != nil {
		rec.Sentiment = *p.Sentiment
	}
	if p.EscalationRisk != nil {
		rec.EscalationRisk = *p.EscalationRisk
	}
	if p.CustomerFrustration != nil {
		rec.CustomerFrustration = *p.CustomerFrustration
	}
	if p.ResolutionConfidence != nil {
		rec.ResolutionConfidence = *p.ResolutionConfidence
	}
	if p.PendingParty != nil {
		rec.PendingParty = models.PendingParty(*p.PendingParty)
	}
	if p.PrimaryIssue != nil {
		rec.PrimaryIssue = *p.PrimaryIssue
	}
}

// @Summary Edit cached intelligence
// @Tags tickets
// @Accept json
// @Produce json
// @Param id path int true "Ticket ID"
// @Param request body IntelligencePatch true "Fields to change"
// @Success 200 {object} models.TicketIntelligence
// @Router /api/tickets/{id}/intelligence [patch]
func (h *Handler) PatchIntelligence(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	var req IntelligencePatch
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	if req.empty() {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "No fields to update", nil)
		return
	}
	h.Cache.Update(id, req.apply)
	rec, _ := h.Cache.Get(id)
	c.JSON(http.StatusOK, rec)
}

type StaleRequest struct {
	TicketIDs []int64 `json:"ticket_ids" validate:"omitempty,dive,gt=0"`
	MaxAge    string  `json:"max_age" validate:"omitempty"`
}

// @Summary Find tickets whose cached record is missing or old
// @Tags cache
// @Accept json
// @Produce json
// @Param request body StaleRequest false "Ticket ids and max age"
// @Success 200 {object} map[string]any
// @Router /api/cache/stale [post]
func (h *Handler) Stale(c *gin.Context) {
	var req StaleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
			return
		}
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	maxAge := h.StaleMaxAge
	if req.MaxAge != "" {
		d, err := time.ParseDuration(req.MaxAge)
		if err != nil || d <= 0 {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "max_age must be a positive duration", req.MaxAge)
			return
		}
		maxAge = d
	}

	ids := req.TicketIDs
	if len(ids) == 0 {
		tickets, ok := h.tickets(c)
		if !ok {
			return
		}
		ids = make([]int64, 0, len(tickets))
		for _, t := range tickets {
			ids = append(ids, t.ID)
		}
	}

	stale := h.Cache.StaleIDs(ids, maxAge)
	uncached := h.Cache.UncachedIDs(ids)
	c.JSON(http.StatusOK, gin.H{
		"max_age":  maxAge.String(),
		"checked":  len(ids),
		"stale":    stale,
		"uncached": uncached,
	})
}

// @Summary Wipe the cache and metrics
// @Tags cache
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/cache/clear [post]
func (h *Handler) ClearCache(c *gin.Context) {
	h.Cache.ClearAll()
	h.Metrics.Invalidate()
	h.Logger.Warn().Msg("cache cleared")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ImportSummary reports a ticket export upload.
type ImportSummary struct {
	Parsed   int `json:"parsed"`
	Inserted int `json:"inserted"`
}

// @Summary Import a ticket export into the database
// @Description Upload a JSON helpdesk export; tickets are upserted by id
// @Tags import
// @Accept multipart/form-data
// @Produce json
// @Param tickets formData file true "tickets.json"
// @Success 200 {object} ImportSummary
// @Failure 400 {object} map[string]any
// @Router /api/import [post]
func (h *Handler) Import(c *gin.Context) {
	if h.Store == nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Import requires a database", nil)
		return
	}
	fh, err := c.FormFile("tickets")
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tickets file required", nil)
		return
	}
	if !validateExt(fh.Filename) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tickets file must be .json", nil)
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tickets file unreadable", err.Error())
		return
	}
	defer f.Close()

	tickets, err := parseUpload(f, h.EntityField)
	if err != nil {
		writeError(c, http.StatusBadRequest, "PARSE_ERROR", "Ticket export could not be parsed", err.Error())
		return
	}
	inserted, err := h.Store.UpsertTickets(c.Request.Context(), tickets)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to insert tickets", err.Error())
		return
	}
	h.Logger.Info().Int("tickets", inserted).Msg("tickets imported")
	c.JSON(http.StatusOK, ImportSummary{Parsed: len(tickets), Inserted: inserted})
}

func parseUpload(r io.Reader, entityField string) ([]models.Ticket, error) {
	if entityField == "" {
		entityField = ingest.DefaultEntityField
	}
	tickets, err := ingest.Parse(r, entityField)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, errors.New("export contains no tickets")
	}
	return tickets, nil
}

func validateExt(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}
