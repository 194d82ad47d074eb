package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahaib/ftex/internal/ai"
	"github.com/sahaib/ftex/internal/analysis"
	"github.com/sahaib/ftex/internal/cache"
	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/db"
	"github.com/sahaib/ftex/internal/extract"
	"github.com/sahaib/ftex/internal/metrics"
	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/observability"
)

var fixedNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type fakeRuns struct {
	mu       sync.Mutex
	created  map[uuid.UUID]string
	finished map[uuid.UUID]string
	summary  []byte
}

func (f *fakeRuns) CreateRun(_ context.Context, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[id] = status
	return nil
}

func (f *fakeRuns) FinishRun(_ context.Context, id uuid.UUID, status string, summary []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[id] = status
	f.summary = summary
	return nil
}

type fakeEnricher struct {
	results map[int64]models.Enrichment
}

func (f fakeEnricher) Enrich(_ context.Context, t models.Ticket) (models.Enrichment, int64, error) {
	e, ok := f.results[t.ID]
	if !ok {
		return models.Enrichment{}, 0, errors.New("enrichment service error: 502")
	}
	return e, 12, nil
}

type fakeCategorizer struct {
	result map[int64]string
	err    error
	seen   []int64
}

func (f *fakeCategorizer) Categorize(_ context.Context, tickets []models.Ticket) (map[int64]string, error) {
	for _, t := range tickets {
		f.seen = append(f.seen, t.ID)
	}
	return f.result, f.err
}

func fixtureTickets() []models.Ticket {
	created := fixedNow.Add(-48 * time.Hour)
	return []models.Ticket{
		{
			ID: 1, Subject: "App crash on login", Description: "The app shows an error and fails to start",
			Status: models.StatusOpen, Priority: models.PriorityHigh, CreatedAt: created, EntityName: "Acme",
			Conversations: []models.Message{
				{ID: 1, CreatedAt: created.Format(time.RFC3339), Incoming: true, BodyText: "It crashes every time."},
			},
		},
		{
			ID: 2, Subject: "Invoice question", Description: "When is the invoice due?",
			Status: models.StatusResolved, Priority: models.PriorityLow, CreatedAt: created, EntityName: "Acme",
		},
		{
			ID: 3, Subject: "Password reset", Description: "Cannot reset my password",
			Status: models.StatusOpen, Priority: models.PriorityMedium, CreatedAt: created, EntityName: "Beta",
		},
	}
}

func newService(t *testing.T) (*ProcessingService, *fakeRuns, *observability.Metrics) {
	t.Helper()
	dir := t.TempDir()
	clock := func() time.Time { return fixedNow }
	obs := observability.NewMetrics(prometheus.NewRegistry())
	p := config.DefaultProvider()

	an := analysis.New(extract.New(extract.WithProvider(p)))
	an.Now = clock
	runs := &fakeRuns{created: map[uuid.UUID]string{}, finished: map[uuid.UUID]string{}}

	svc := &ProcessingService{
		Cache:    cache.Open(dir, cache.WithClock(clock)),
		Metrics:  metrics.NewStore(dir, metrics.WithClock(clock)),
		Analyzer: an,
		Settings: p,
		Runs:     runs,
		Observer: obs,
		Logger:   zerolog.Nop(),
		Now:      clock,
	}
	return svc, runs, obs
}

func TestProcessTicketsAnalyzesAndRuleCategorizes(t *testing.T) {
	svc, runs, obs := newService(t)

	summary, err := svc.ProcessTickets(context.Background(), fixtureTickets(), Options{})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, summary.RunID)
	assert.Equal(t, 3, summary.Counts["analyzed"])
	assert.Equal(t, 0, summary.Counts["skipped"])
	assert.Equal(t, 1, summary.Counts["rule_categorized"])
	assert.Equal(t, 2, summary.Counts["entities"])

	rec, ok := svc.Cache.Get(1)
	require.True(t, ok)
	assert.Equal(t, "Bug Report", rec.Category)
	assert.Equal(t, models.SourceRule, rec.CategorySource)
	assert.Equal(t, svc.Cache.DataHash(fixtureTickets()[0]), rec.DataHash)

	rec, ok = svc.Cache.Get(2)
	require.True(t, ok)
	assert.Empty(t, rec.Category)
	assert.Equal(t, models.SourceUnknown, rec.CategorySource)

	assert.True(t, svc.Metrics.IsValid())
	dash, ok := svc.Metrics.Dashboard()
	require.True(t, ok)
	assert.Equal(t, 3, dash.TotalTickets)

	profiles := svc.Cache.EntityProfiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, "Acme", profiles[0].EntityName)
	assert.Equal(t, 2, profiles[0].TotalTickets)
	assert.Equal(t, models.TrendStable, profiles[0].HealthTrend)

	assert.Equal(t, db.RunStatusRunning, runs.created[summary.RunID])
	assert.Equal(t, db.RunStatusFinished, runs.finished[summary.RunID])
	var logged RunSummary
	require.NoError(t, json.Unmarshal(runs.summary, &logged))
	assert.Equal(t, summary.RunID, logged.RunID)

	assert.Equal(t, 1.0, testutil.ToFloat64(obs.PipelineRunsTotal.WithLabelValues(RunFinished)))
	assert.Equal(t, 3.0, testutil.ToFloat64(obs.PipelineTicketsTotal.WithLabelValues("analyzed")))
}

func TestProcessTicketsSkipsUnchanged(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	tickets := fixtureTickets()

	_, err := svc.ProcessTickets(ctx, tickets, Options{})
	require.NoError(t, err)

	summary, err := svc.ProcessTickets(ctx, tickets, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Counts["analyzed"])
	assert.Equal(t, 3, summary.Counts["skipped"])

	tickets[2].Status = models.StatusResolved
	summary, err = svc.ProcessTickets(ctx, tickets, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["analyzed"])

	summary, err = svc.ProcessTickets(ctx, tickets, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Counts["analyzed"])
}

func TestReanalysisKeepsAssignedCategoryAndScores(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	tickets := fixtureTickets()

	_, err := svc.ProcessTickets(ctx, tickets, Options{})
	require.NoError(t, err)

	require.NoError(t, svc.Cache.SetCategory(1, "Training", 0.95, models.SourceUser))
	require.NoError(t, svc.Cache.SetCategory(3, "Configuration", 0.8, models.SourceAI))
	svc.Cache.Update(1, func(rec *models.TicketIntelligence) {
		rec.Sentiment = "negative"
		rec.EscalationRisk = 0.9
	})

	for i := range tickets {
		tickets[i].Status = models.StatusPending
	}
	summary, err := svc.ProcessTickets(ctx, tickets, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Counts["analyzed"])
	assert.Equal(t, 0, summary.Counts["rule_categorized"])

	rec, _ := svc.Cache.Get(1)
	assert.Equal(t, "Training", rec.Category)
	assert.Equal(t, models.SourceUser, rec.CategorySource)
	assert.Equal(t, "negative", rec.Sentiment)
	assert.Equal(t, 0.9, rec.EscalationRisk)

	rec, _ = svc.Cache.Get(3)
	assert.Equal(t, "Configuration", rec.Category)
	assert.Equal(t, models.SourceAI, rec.CategorySource)

	profiles := svc.Cache.EntityProfiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, 0.5, profiles[0].EscalationRate, "one of two Acme tickets is above the high-risk threshold")
}

func TestReanalysisKeepsCategoryWrittenDuringRun(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	tickets := fixtureTickets()

	_, err := svc.ProcessTickets(ctx, tickets, Options{})
	require.NoError(t, err)
	rec, _ := svc.Cache.Get(1)
	require.Equal(t, models.SourceRule, rec.CategorySource)

	// The analyzer reads the clock once per ticket; the third read happens
	// while ticket 3 is analyzed, after ticket 1 is done.
	calls := 0
	svc.Analyzer.Now = func() time.Time {
		calls++
		if calls == 3 {
			require.NoError(t, svc.Cache.SetCategory(1, "Manual", 1, models.SourceUser))
			svc.Cache.Update(2, func(rec *models.TicketIntelligence) { rec.EscalationRisk = 0.8 })
		}
		return fixedNow
	}

	summary, err := svc.ProcessTickets(ctx, tickets, Options{Force: true})
	require.NoError(t, err)
	require.GreaterOrEqual(t, calls, 3)
	assert.Equal(t, 0, summary.Counts["rule_categorized"])

	rec, _ = svc.Cache.Get(1)
	assert.Equal(t, "Manual", rec.Category)
	assert.Equal(t, models.SourceUser, rec.CategorySource)
	assert.Equal(t, 1.0, rec.CategoryConfidence)

	rec, _ = svc.Cache.Get(2)
	assert.Equal(t, 0.8, rec.EscalationRisk)
}

type editingCategorizer struct {
	result map[int64]string
	during func()
}

func (e editingCategorizer) Categorize(context.Context, []models.Ticket) (map[int64]string, error) {
	e.during()
	return e.result, nil
}

func TestCategorizeStageKeepsCategoryWrittenDuringCall(t *testing.T) {
	svc, _, _ := newService(t)
	svc.Categorizer = editingCategorizer{
		result: map[int64]string{2: "Billing", 3: "Configuration"},
		during: func() {
			require.NoError(t, svc.Cache.SetCategory(3, "Training", 1, models.SourceUser))
		},
	}

	summary, err := svc.ProcessTickets(context.Background(), fixtureTickets(), Options{Categorize: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["ai_categorized"])

	rec, _ := svc.Cache.Get(2)
	assert.Equal(t, "Billing", rec.Category)
	assert.Equal(t, models.SourceAI, rec.CategorySource)

	rec, _ = svc.Cache.Get(3)
	assert.Equal(t, "Training", rec.Category)
	assert.Equal(t, models.SourceUser, rec.CategorySource)
}

func TestEnrichStage(t *testing.T) {
	svc, _, obs := newService(t)
	risk, frust := 0.85, 3.0
	svc.EnricherName = "fake"
	svc.Enricher = fakeEnricher{results: map[int64]models.Enrichment{
		1: {TicketID: 1, Category: "Integration/Sync", CategoryConfidence: 0.7, Sentiment: "negative", EscalationRisk: &risk, CustomerFrustration: &frust},
		2: {TicketID: 2, Sentiment: "positive"},
	}}

	summary, err := svc.ProcessTickets(context.Background(), fixtureTickets(), Options{Enrich: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Counts["enriched"])
	assert.Equal(t, 1, summary.Counts["enrich_errors"])

	rec, _ := svc.Cache.Get(1)
	assert.Equal(t, "Integration/Sync", rec.Category)
	assert.Equal(t, models.SourceAI, rec.CategorySource)
	assert.Equal(t, 0.85, rec.EscalationRisk)
	assert.Equal(t, 3.0, rec.CustomerFrustration)

	rec, _ = svc.Cache.Get(2)
	assert.Equal(t, "positive", rec.Sentiment)
	assert.Empty(t, rec.Category)

	assert.Equal(t, 2.0, testutil.ToFloat64(obs.EnrichmentTotal.WithLabelValues("fake", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.EnrichmentTotal.WithLabelValues("fake", "error")))

	aim, ok := svc.Metrics.AI()
	require.True(t, ok)
	assert.Equal(t, 1, aim.HighRiskCount)
}

func TestEnrichmentNeverOverridesUserCategory(t *testing.T) {
	rec := models.NewTicketIntelligence(1)
	rec.Category = "Training"
	rec.CategorySource = models.SourceUser
	applyEnrichment(&rec, models.Enrichment{Category: "Bug Report", CategoryConfidence: 0.9, Sentiment: "neutral"})
	assert.Equal(t, "Training", rec.Category)
	assert.Equal(t, "neutral", rec.Sentiment)
}

func TestCategorizeStage(t *testing.T) {
	svc, _, _ := newService(t)
	cat := &fakeCategorizer{result: map[int64]string{2: "Billing"}}
	svc.Categorizer = cat

	summary, err := svc.ProcessTickets(context.Background(), fixtureTickets(), Options{Categorize: true})
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{2, 3}, cat.seen, "rule-categorized tickets are not sent")
	assert.Equal(t, 1, summary.Counts["ai_categorized"])

	rec, _ := svc.Cache.Get(2)
	assert.Equal(t, "Billing", rec.Category)
	assert.Equal(t, models.SourceAI, rec.CategorySource)

	rec, _ = svc.Cache.Get(3)
	assert.Empty(t, rec.Category)
}

func TestCategorizeStageKeepsPartialResultOnRateLimit(t *testing.T) {
	svc, _, _ := newService(t)
	svc.Categorizer = &fakeCategorizer{
		result: map[int64]string{3: "Configuration"},
		err:    ai.RateLimitError{RetryAfter: 30 * time.Second},
	}

	summary, err := svc.ProcessTickets(context.Background(), fixtureTickets(), Options{Categorize: true})
	require.NoError(t, err)

	rec, _ := svc.Cache.Get(3)
	assert.Equal(t, "Configuration", rec.Category)

	var found bool
	for _, ev := range summary.Events {
		if ev["type"] == "ai_categorization" {
			found = true
			assert.Equal(t, true, ev["rate_limited"])
			assert.Equal(t, 30.0, ev["retry_after_s"])
		}
	}
	assert.True(t, found)
}

func TestProcessTicketsCancelled(t *testing.T) {
	svc, runs, obs := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := svc.ProcessTickets(ctx, fixtureTickets(), Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, db.RunStatusFailed, runs.finished[summary.RunID])
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.PipelineRunsTotal.WithLabelValues(RunFailed)))
	assert.False(t, svc.Metrics.IsValid())
}

func TestReanalyze(t *testing.T) {
	svc, _, _ := newService(t)
	rec, err := svc.Reanalyze(fixtureTickets()[0])
	require.NoError(t, err)
	assert.Equal(t, "Bug Report", rec.Category)
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), rec.AnalyzedAt)
}
