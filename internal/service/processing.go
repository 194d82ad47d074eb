package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sahaib/ftex/internal/ai"
	"github.com/sahaib/ftex/internal/analysis"
	"github.com/sahaib/ftex/internal/cache"
	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/db"
	"github.com/sahaib/ftex/internal/extract"
	"github.com/sahaib/ftex/internal/metrics"
	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/observability"
	"github.com/sahaib/ftex/internal/thread"
)

const (
	RunFinished = "finished"
	RunFailed   = "failed"
)

// RunRecorder persists the run log. *db.Store satisfies it.
type RunRecorder interface {
	CreateRun(ctx context.Context, id uuid.UUID, status string) error
	FinishRun(ctx context.Context, id uuid.UUID, status string, summary []byte) error
}

type ProcessingService struct {
	Cache    *cache.Cache
	Metrics  *metrics.Store
	Analyzer *analysis.Analyzer
	Settings *config.Provider

	// Optional collaborators. A nil value skips the matching stage.
	Enricher     ai.Enricher
	EnricherName string
	Categorizer  ai.Categorizer
	Runs         RunRecorder

	Observer *observability.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Options struct {
	Force      bool `json:"force"`
	Enrich     bool `json:"enrich"`
	Categorize bool `json:"categorize"`
}

type RunSummary struct {
	RunID  uuid.UUID        `json:"run_id"`
	Events []map[string]any `json:"events"`
	Counts map[string]any   `json:"counts"`
}

func (s *ProcessingService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *ProcessingService) event(summary *RunSummary, kind, message string, fields map[string]any) {
	ev := map[string]any{
		"type":    kind,
		"message": message,
		"time":    s.now(),
	}
	for k, v := range fields {
		ev[k] = v
	}
	summary.Events = append(summary.Events, ev)
}

// ProcessTickets runs the full pipeline over tickets: analyze what changed,
// enrich, categorize, recompute metrics and rebuild entity profiles. The
// cache is left consistent after every stage, so a cancelled run keeps the
// work already done.
func (s *ProcessingService) ProcessTickets(ctx context.Context, tickets []models.Ticket, opts Options) (RunSummary, error) {
	summary := RunSummary{RunID: uuid.New(), Counts: map[string]any{}}
	log := s.Logger.With().Str("run_id", summary.RunID.String()).Logger()
	start := time.Now()

	s.recordStart(ctx, log, summary.RunID)
	s.event(&summary, "import_summary", "Tickets ready for processing", map[string]any{"count": len(tickets)})
	summary.Counts["tickets_total"] = len(tickets)

	err := s.process(ctx, log, tickets, opts, &summary)

	status := RunFinished
	if err != nil {
		status = RunFailed
		s.event(&summary, "run_failed", "Processing stopped", map[string]any{"error": err.Error()})
	}
	s.event(&summary, "run_complete", "Processing saved", map[string]any{"elapsed_ms": time.Since(start).Milliseconds()})
	s.Observer.RecordRun(status)
	s.recordFinish(log, summary, status)

	if err != nil {
		log.Error().Err(err).Msg("processing run failed")
		return summary, err
	}
	log.Info().Interface("counts", summary.Counts).Dur("elapsed", time.Since(start)).Msg("processing run finished")
	return summary, nil
}

func (s *ProcessingService) process(ctx context.Context, log zerolog.Logger, tickets []models.Ticket, opts Options, summary *RunSummary) error {
	fresh, err := s.analyzeStage(ctx, tickets, opts.Force, summary)
	if err != nil {
		return err
	}

	if opts.Enrich && s.Enricher != nil {
		if err := s.enrichStage(ctx, log, fresh, summary); err != nil {
			return err
		}
	}

	if opts.Categorize && s.Categorizer != nil {
		if err := s.categorizeStage(ctx, log, tickets, summary); err != nil {
			return err
		}
	}

	stage := time.Now()
	s.Metrics.Recompute(tickets, s.Settings, s.Cache)
	s.Observer.RecordStage("recompute", time.Since(stage).Seconds())
	s.event(summary, "metrics", "Metrics recomputed", nil)

	stage = time.Now()
	profiles := BuildEntityProfiles(tickets, s.Settings, s.Cache, s.Metrics.Entities(), s.Cache.EntityProfiles())
	s.Cache.ReplaceEntityProfiles(profiles)
	s.Observer.RecordStage("entity_profiles", time.Since(stage).Seconds())
	summary.Counts["entities"] = len(profiles)
	s.event(summary, "entity_profiles", "Entity profiles rebuilt", map[string]any{"count": len(profiles)})
	return nil
}

// analyzeStage analyzes every ticket whose cached record is missing or out
// of date (all of them when force is set) and writes the records in one
// batch. It returns the analyzed tickets.
func (s *ProcessingService) analyzeStage(ctx context.Context, tickets []models.Ticket, force bool, summary *RunSummary) ([]models.Ticket, error) {
	stage := time.Now()
	cats := s.Settings.Categories()

	var (
		fresh   []models.Ticket
		records []models.TicketIntelligence
		ruled   int
	)
	merge := func(cur models.TicketIntelligence, next *models.TicketIntelligence) {
		if carryOver(cur, next) {
			ruled--
		}
	}
	for _, t := range tickets {
		if err := ctx.Err(); err != nil {
			s.Cache.MergeMany(records, merge)
			return fresh, err
		}
		if !force && !s.Cache.NeedsReanalysis(t) {
			continue
		}
		rec := s.analyzeTicket(t, cats)
		if rec.CategorySource == models.SourceRule {
			ruled++
		}
		records = append(records, rec)
		fresh = append(fresh, t)
	}
	s.Cache.MergeMany(records, merge)

	skipped := len(tickets) - len(fresh)
	s.Observer.RecordTickets("analyzed", len(fresh))
	s.Observer.RecordTickets("skipped", skipped)
	s.Observer.RecordStage("analyze", time.Since(stage).Seconds())
	summary.Counts["analyzed"] = len(fresh)
	summary.Counts["skipped"] = skipped
	summary.Counts["rule_categorized"] = ruled
	s.event(summary, "analysis", "Thread analysis complete", map[string]any{
		"count":            len(fresh),
		"skipped":          skipped,
		"rule_categorized": ruled,
		"elapsed_ms":       time.Since(stage).Milliseconds(),
	})
	return fresh, nil
}

// analyzeTicket builds the new record for t from the thread alone, rule
// categorizing it when a keyword matches. carryOver reconciles it with the
// cached record at write time.
func (s *ProcessingService) analyzeTicket(t models.Ticket, cats []config.Category) models.TicketIntelligence {
	a := s.Analyzer.Analyze(t)
	rec := analysis.ToIntelligence(a, t, s.Cache.DataHash(t))

	text := extract.TicketText(t, thread.Normalize(t.Conversations))
	if name, confidence, ok := extract.Categorize(text, cats); ok {
		rec.Category = name
		rec.CategoryConfidence = confidence
		rec.CategorySource = models.SourceRule
	}
	return rec
}

// carryOver keeps what reanalysis must not replace: categories assigned by
// a model or a person, and enrichment scores. Everything derived from the
// thread comes from next. Reports whether a rule category was dropped.
func carryOver(cur models.TicketIntelligence, next *models.TicketIntelligence) bool {
	next.Sentiment = cur.Sentiment
	next.EscalationRisk = cur.EscalationRisk
	next.CustomerFrustration = cur.CustomerFrustration
	next.ResolutionConfidence = cur.ResolutionConfidence
	if !keepsCategory(cur.CategorySource) {
		return false
	}
	dropped := next.CategorySource == models.SourceRule
	next.Category = cur.Category
	next.CategoryConfidence = cur.CategoryConfidence
	next.CategorySource = cur.CategorySource
	return dropped
}

func keepsCategory(src models.CategorySource) bool {
	return src == models.SourceAI || src == models.SourceUser
}

func (s *ProcessingService) enrichStage(ctx context.Context, log zerolog.Logger, tickets []models.Ticket, summary *RunSummary) error {
	stage := time.Now()
	var (
		enriched     int
		errCount     int
		latencyTotal int64
	)
	name := s.EnricherName
	if name == "" {
		name = "default"
	}
	for _, t := range tickets {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, latencyMs, err := s.Enricher.Enrich(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errCount++
			s.Observer.RecordEnrichment(name, "error")
			log.Warn().Err(err).Int64("ticket_id", t.ID).Msg("enrichment failed")
			continue
		}
		s.Cache.Update(t.ID, func(rec *models.TicketIntelligence) {
			applyEnrichment(rec, e)
		})
		enriched++
		latencyTotal += latencyMs
		s.Observer.RecordEnrichment(name, "ok")
	}
	s.Observer.RecordTickets("enriched", enriched)
	s.Observer.RecordStage("enrich", time.Since(stage).Seconds())
	summary.Counts["enriched"] = enriched
	summary.Counts["enrich_errors"] = errCount
	s.event(summary, "ai_enrichment", "AI enrichment complete", map[string]any{
		"count":          enriched,
		"avg_latency_ms": avgLatency(latencyTotal, enriched),
		"errors":         errCount,
	})
	return nil
}

// applyEnrichment copies the scores the enricher returned. A category from
// the enricher never overrides one a person set.
func applyEnrichment(rec *models.TicketIntelligence, e models.Enrichment) {
	if e.Sentiment != "" {
		rec.Sentiment = e.Sentiment
	}
	if e.EscalationRisk != nil {
		rec.EscalationRisk = *e.EscalationRisk
	}
	if e.CustomerFrustration != nil {
		rec.CustomerFrustration = *e.CustomerFrustration
	}
	if e.ResolutionConfidence != nil {
		rec.ResolutionConfidence = *e.ResolutionConfidence
	}
	if e.Category != "" && rec.CategorySource != models.SourceUser {
		rec.Category = e.Category
		rec.CategoryConfidence = e.CategoryConfidence
		rec.CategorySource = models.SourceAI
	}
}

// categorizeStage sends every ticket still without a category to the batch
// categorizer. A rate limit keeps the batches already answered.
func (s *ProcessingService) categorizeStage(ctx context.Context, log zerolog.Logger, tickets []models.Ticket, summary *RunSummary) error {
	stage := time.Now()
	var pending []models.Ticket
	for _, t := range tickets {
		if rec, ok := s.Cache.Get(t.ID); ok && rec.Category != "" {
			continue
		}
		pending = append(pending, t)
	}
	if len(pending) == 0 {
		summary.Counts["ai_categorized"] = 0
		return nil
	}

	result, err := s.Categorizer.Categorize(ctx, pending)
	ids := make([]int64, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	// A ticket categorized while the model was answering keeps that category.
	applied := s.Cache.UpdateMany(ids, func(rec *models.TicketIntelligence) bool {
		name := strings.TrimSpace(result[rec.TicketID])
		if name == "" || rec.Category != "" {
			return false
		}
		rec.Category = name
		rec.CategorySource = models.SourceAI
		return true
	})
	s.Observer.RecordTickets("ai_categorized", applied)
	s.Observer.RecordStage("categorize", time.Since(stage).Seconds())
	summary.Counts["ai_categorized"] = applied

	fields := map[string]any{"count": applied, "requested": len(pending)}
	if err != nil {
		var rl ai.RateLimitError
		switch {
		case errors.As(err, &rl):
			fields["rate_limited"] = true
			fields["retry_after_s"] = rl.RetryAfter.Seconds()
		case ctx.Err() != nil:
			return err
		}
		fields["error"] = err.Error()
		log.Warn().Err(err).Int("categorized", applied).Msg("batch categorization incomplete")
	}
	s.event(summary, "ai_categorization", "Batch categorization complete", fields)
	return nil
}

func (s *ProcessingService) recordStart(ctx context.Context, log zerolog.Logger, id uuid.UUID) {
	if s.Runs == nil {
		return
	}
	if err := s.Runs.CreateRun(ctx, id, db.RunStatusRunning); err != nil {
		log.Warn().Err(err).Msg("run log create failed")
	}
}

// recordFinish uses a fresh context so a cancelled run is still logged.
func (s *ProcessingService) recordFinish(log zerolog.Logger, summary RunSummary, status string) {
	if s.Runs == nil {
		return
	}
	body, err := json.Marshal(summary)
	if err != nil {
		log.Warn().Err(err).Msg("run summary encode failed")
		return
	}
	dbStatus := db.RunStatusFinished
	if status == RunFailed {
		dbStatus = db.RunStatusFailed
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Runs.FinishRun(ctx, summary.RunID, dbStatus, body); err != nil {
		log.Warn().Err(err).Msg("run log finish failed")
	}
}

// Reanalyze analyzes one ticket unconditionally and stores the record. It
// is the single-ticket form of the analyze stage.
func (s *ProcessingService) Reanalyze(t models.Ticket) (models.TicketIntelligence, error) {
	if s.Analyzer == nil || s.Cache == nil {
		return models.TicketIntelligence{}, fmt.Errorf("processing service not configured")
	}
	rec := s.analyzeTicket(t, s.Settings.Categories())
	s.Cache.MergeMany([]models.TicketIntelligence{rec}, func(cur models.TicketIntelligence, next *models.TicketIntelligence) {
		carryOver(cur, next)
	})
	got, _ := s.Cache.Get(t.ID)
	return got, nil
}

func avgLatency(total int64, count int) int64 {
	if count == 0 {
		return 0
	}
	return total / int64(count)
}
