package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/sahaib/ftex/internal/analysis"
	"github.com/sahaib/ftex/internal/cache"
	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/db"
	"github.com/sahaib/ftex/internal/ingest"
	"github.com/sahaib/ftex/internal/metrics"
	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/pending"
	"github.com/sahaib/ftex/internal/service"
)

type Handler struct {
	Cache     *cache.Cache
	Metrics   *metrics.Store
	Analyzer  *analysis.Analyzer
	Processor *service.ProcessingService
	Source    ingest.Source
	Settings  *config.Provider

	// Store is nil when no database is configured.
	Store *db.Store

	Validator   *validator.Validate
	Logger      zerolog.Logger
	StaleMaxAge time.Duration
	EntityField string
	Now         func() time.Time

	processing sync.Mutex
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]any
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
			return
		}
	}
	stats := h.Cache.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"tickets_cached": stats.TicketsCached,
		"metrics_valid":  h.Metrics.IsValid(),
	})
}

// @Summary Cached intelligence for a ticket
// @Tags tickets
// @Produce json
// @Param id path int true "Ticket ID"
// @Success 200 {object} models.TicketIntelligence
// @Failure 404 {object} map[string]any
// @Router /api/tickets/{id}/intelligence [get]
func (h *Handler) TicketIntelligence(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	rec, found := h.Cache.Get(id)
	if !found {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not analyzed", nil)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// @Summary Fresh thread analysis for a ticket
// @Tags tickets
// @Produce json
// @Param id path int true "Ticket ID"
// @Success 200 {object} models.ThreadAnalysis
// @Failure 404 {object} map[string]any
// @Router /api/tickets/{id}/analysis [get]
func (h *Handler) TicketAnalysis(c *gin.Context) {
	t, ok := h.loadTicket(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Analyzer.Analyze(t))
}

// PendingResponse adds the rendered waiting time to the pending status.
type PendingResponse struct {
	models.PendingStatus
	TicketID int64  `json:"ticket_id"`
	Waiting  string `json:"waiting"`
}

// @Summary Who the ticket is waiting on
// @Tags tickets
// @Produce json
// @Param id path int true "Ticket ID"
// @Success 200 {object} PendingResponse
// @Failure 404 {object} map[string]any
// @Router /api/tickets/{id}/pending [get]
func (h *Handler) TicketPending(c *gin.Context) {
	t, ok := h.loadTicket(c)
	if !ok {
		return
	}
	st := pending.StatusFor(t, h.now())
	c.JSON(http.StatusOK, PendingResponse{
		PendingStatus: st,
		TicketID:      t.ID,
		Waiting:       pending.FormatWaiting(st.WaitingDuration),
	})
}

// @Summary Entity profiles
// @Tags entities
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/entities [get]
func (h *Handler) EntitiesList(c *gin.Context) {
	items := h.Cache.EntityProfiles()
	if trend := strings.TrimSpace(c.Query("trend")); trend != "" {
		filtered := items[:0]
		for _, p := range items {
			if string(p.HealthTrend) == trend {
				filtered = append(filtered, p)
			}
		}
		items = filtered
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary One entity profile with its latest metrics
// @Tags entities
// @Produce json
// @Param name path string true "Entity name"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/entities/{name} [get]
func (h *Handler) EntityDetails(c *gin.Context) {
	name := c.Param("name")
	profile, hasProfile := h.Cache.EntityProfile(name)
	em, hasMetrics := h.Metrics.Entity(name)
	if !hasProfile && !hasMetrics {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Entity not found", nil)
		return
	}
	resp := gin.H{"entity_name": name}
	if hasProfile {
		resp["profile"] = profile
	}
	if hasMetrics {
		resp["metrics"] = em
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Dashboard metrics
// @Tags metrics
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/metrics/dashboard [get]
func (h *Handler) MetricsDashboard(c *gin.Context) {
	d, ok := h.Metrics.Dashboard()
	if !ok {
		writeNotComputed(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": h.Metrics.IsValid(), "dashboard": d})
}

// @Summary Per-agent metrics
// @Tags metrics
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/metrics/agents [get]
func (h *Handler) MetricsAgents(c *gin.Context) {
	if raw := c.Query("agent_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "agent_id must be an integer", raw)
			return
		}
		am, ok := h.Metrics.Agent(id)
		if !ok {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Agent not found", nil)
			return
		}
		c.JSON(http.StatusOK, am)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": h.Metrics.IsValid(), "items": h.Metrics.Agents()})
}

// @Summary Per-entity metrics
// @Tags metrics
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/metrics/entities [get]
func (h *Handler) MetricsEntities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"valid": h.Metrics.IsValid(), "items": h.Metrics.Entities()})
}

// @Summary AI coverage metrics
// @Tags metrics
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/metrics/ai [get]
func (h *Handler) MetricsAI(c *gin.Context) {
	m, ok := h.Metrics.AI()
	if !ok {
		writeNotComputed(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": h.Metrics.IsValid(), "ai": m})
}

// @Summary Cache statistics
// @Tags cache
// @Produce json
// @Success 200 {object} models.CacheStats
// @Router /api/cache/stats [get]
func (h *Handler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Cache.Stats())
}

// @Summary Latest processing run
// @Tags runs
// @Produce json
// @Success 200 {object} db.Run
// @Router /api/runs/latest [get]
func (h *Handler) RunsLatest(c *gin.Context) {
	if h.Store == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Run log requires a database", nil)
		return
	}
	result, err := h.Store.LatestRun(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "No runs found", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) loadTicket(c *gin.Context) (models.Ticket, bool) {
	id, ok := ticketID(c)
	if !ok {
		return models.Ticket{}, false
	}
	t, err := ingest.Find(c.Request.Context(), h.Source, id)
	if err != nil {
		writeSourceError(c, err)
		return models.Ticket{}, false
	}
	return t, true
}

func (h *Handler) tickets(c *gin.Context) ([]models.Ticket, bool) {
	tickets, err := h.Source.Tickets(c.Request.Context())
	if err != nil {
		writeSourceError(c, err)
		return nil, false
	}
	return tickets, true
}

func ticketID(c *gin.Context) (int64, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Ticket id must be a positive integer", raw)
		return 0, false
	}
	return id, true
}

func writeSourceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrTicketNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
	case errors.Is(err, ingest.ErrNoSource):
		writeError(c, http.StatusServiceUnavailable, "NO_SOURCE", "No ticket source configured", nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, "TIMEOUT", "Ticket source timed out", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "SOURCE_ERROR", "Failed to load tickets", err.Error())
	}
}

func writeNotComputed(c *gin.Context) {
	writeError(c, http.StatusNotFound, "NOT_COMPUTED", "Metrics have not been computed", nil)
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
