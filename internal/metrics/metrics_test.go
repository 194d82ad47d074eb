package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahaib/ftex/internal/cache"
	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/observability"
)

var _ IntelligenceReader = (*cache.Cache)(nil)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

type fakeReader map[int64]models.TicketIntelligence

func (f fakeReader) Has(id int64) bool {
	_, ok := f[id]
	return ok
}

func (f fakeReader) Get(id int64) (models.TicketIntelligence, bool) {
	rec, ok := f[id]
	return rec, ok
}

func hours(h float64) *float64 { return &h }

func msg(at time.Time, incoming bool) models.Message {
	return models.Message{CreatedAt: at.Format(time.RFC3339), Incoming: incoming, BodyText: "text"}
}

// awaitingCustomer is open with an agent reply last.
func awaitingCustomer(id int64, entity string) models.Ticket {
	return models.Ticket{
		ID:         id,
		Status:     models.StatusOpen,
		Priority:   models.PriorityMedium,
		EntityName: entity,
		Conversations: []models.Message{
			msg(now.Add(-3*time.Hour), true),
			msg(now.Add(-2*time.Hour), false),
		},
	}
}

func resolved(id int64, entity string) models.Ticket {
	return models.Ticket{
		ID:              id,
		Status:          models.StatusResolved,
		Priority:        models.PriorityLow,
		EntityName:      entity,
		ResolutionHours: hours(10),
	}
}

func newTestStore(t *testing.T, dir string, opts ...Option) *Store {
	t.Helper()
	return NewStore(dir, append([]Option{WithClock(fixedNow)}, opts...)...)
}

func TestEntityHealthScenario(t *testing.T) {
	var tickets []models.Ticket
	for i := int64(1); i <= 4; i++ {
		tickets = append(tickets, awaitingCustomer(i, "Acme"))
	}
	for i := int64(5); i <= 10; i++ {
		tickets = append(tickets, resolved(i, "Acme"))
	}
	tickets[0].Priority = models.PriorityHigh

	s := newTestStore(t, t.TempDir())
	s.Recompute(tickets, nil, nil)

	e, ok := s.Entity("Acme")
	require.True(t, ok)
	assert.Equal(t, 10, e.TotalTickets)
	assert.Equal(t, 4, e.OpenTickets)
	assert.Equal(t, 6, e.ResolvedTickets)
	assert.Equal(t, 0, e.PendingInternal)
	assert.Equal(t, 4, e.PendingExternal)
	assert.Equal(t, 80.0, e.HealthScore)
	assert.Equal(t, 10.0, e.AvgResolutionHours)
}

func TestHealthPenalizesInternalPending(t *testing.T) {
	tk := awaitingCustomer(1, "Beta")
	tk.Conversations = append(tk.Conversations, msg(now.Add(-time.Hour), true))

	s := newTestStore(t, t.TempDir())
	s.Recompute([]models.Ticket{tk, resolved(2, "Beta")}, nil, nil)

	e, _ := s.Entity("Beta")
	assert.Equal(t, 1, e.PendingInternal)
	assert.Equal(t, 70.0, e.HealthScore)

	assert.Equal(t, 0.0, Health(10, 10, 20), "floored at zero")
	assert.Equal(t, 100.0, Health(0, 0, 0))
}

func TestAIMetricsCoverage(t *testing.T) {
	reader := fakeReader{}
	tickets := make([]models.Ticket, 0, 100)
	for i := int64(1); i <= 100; i++ {
		tickets = append(tickets, models.Ticket{ID: i, Status: models.StatusClosed})
		if i > 60 {
			continue
		}
		rec := models.NewTicketIntelligence(i)
		rec.Category = "Bug Report"
		rec.IssueCount = 1
		switch {
		case i <= 10:
			rec.EscalationRisk = 0.9
			rec.IssueCount = 3
			rec.Sentiment = "Negative"
		case i <= 30:
			rec.EscalationRisk = 0.5
			rec.Sentiment = "neutral"
		}
		reader[i] = rec
	}

	s := newTestStore(t, t.TempDir())
	s.Recompute(tickets, nil, reader)

	ai, ok := s.AI()
	require.True(t, ok)
	assert.Equal(t, 60, ai.TotalAnalyzed)
	assert.Equal(t, 40, ai.TotalUnanalyzed)
	assert.Equal(t, 10, ai.HighRiskCount)
	assert.Equal(t, 20, ai.MediumRiskCount)
	assert.Equal(t, 30, ai.LowRiskCount)
	assert.Equal(t, 10, ai.SentimentNegative)
	assert.Equal(t, 20, ai.SentimentNeutral)
	assert.Equal(t, 80, ai.TotalIssuesFound)
	assert.Equal(t, 10, ai.TicketsWithMultiIssues)
	assert.Equal(t, map[string]int{"Bug Report": 60}, ai.CategoryDistribution)
}

func TestAIMetricsWithCache(t *testing.T) {
	c := cache.Open(t.TempDir())
	c.Set(1, models.NewTicketIntelligence(1))

	s := newTestStore(t, t.TempDir())
	s.Recompute([]models.Ticket{{ID: 1}, {ID: 2}}, nil, c)

	ai, _ := s.AI()
	assert.Equal(t, 1, ai.TotalAnalyzed)
	assert.Equal(t, 1, ai.TotalUnanalyzed)
}

func TestDashboard(t *testing.T) {
	open := awaitingCustomer(1, "Acme")
	open.CreatedAt = now.Add(-24 * time.Hour)
	open.FirstResponseHours = hours(2)
	open.Priority = models.PriorityUrgent

	waiting := models.Ticket{
		ID:                 2,
		Status:             models.StatusPending,
		Priority:           models.PriorityHigh,
		CreatedAt:          now.Add(-30 * 24 * time.Hour),
		FirstResponseHours: hours(20),
		Category:           "Training",
	}
	done := resolved(3, "Acme")
	done.CreatedAt = now.Add(-48 * time.Hour)
	done.ResolvedAt = now.Add(-time.Hour)
	done.FirstResponseHours = hours(4)

	closed := models.Ticket{ID: 4, Status: models.StatusClosed, ResolvedAt: now.Add(-10 * 24 * time.Hour)}

	reader := fakeReader{3: {TicketID: 3, Category: "Billing"}}
	s := newTestStore(t, t.TempDir())
	s.Recompute([]models.Ticket{open, waiting, done, closed}, nil, reader)

	d, ok := s.Dashboard()
	require.True(t, ok)
	assert.Equal(t, 4, d.TotalTickets)
	assert.Equal(t, 1, d.OpenTickets)
	assert.Equal(t, 1, d.PendingTickets)
	assert.Equal(t, 1, d.ResolvedTickets)
	assert.Equal(t, 1, d.ClosedTickets)

	assert.Equal(t, 0, d.PendingInternal)
	assert.Equal(t, 2, d.PendingExternal, "agent reply last, and status pending with no thread")
	assert.Equal(t, 2, d.PendingUnknown)

	assert.Equal(t, 1, d.PriorityUrgent)
	assert.Equal(t, 1, d.PriorityHigh)
	assert.Equal(t, 1, d.PriorityLow)

	assert.InDelta(t, 0.5, d.SLAComplianceRate, 1e-9, "two of four within 12h")
	assert.InDelta(t, 26.0/3, d.AvgFirstResponseHours, 1e-9)
	assert.Equal(t, 10.0, d.AvgResolutionHours)
	assert.Equal(t, 2, d.TicketsCreated7d)
	assert.Equal(t, 1, d.TicketsResolved7d)
	assert.Equal(t, map[string]int{"Uncategorized": 2, "Training": 1, "Billing": 1}, d.Categories)
	assert.Equal(t, now, d.ComputedAt)
}

func TestDashboardUsesConfiguredSLA(t *testing.T) {
	p := config.DefaultProvider()
	p.Set("sla.first_response_hours", 24)

	s := newTestStore(t, t.TempDir())
	s.Recompute([]models.Ticket{{ID: 1, FirstResponseHours: hours(20)}}, p, nil)

	d, _ := s.Dashboard()
	assert.Equal(t, 1.0, d.SLAComplianceRate)
}

func TestAgents(t *testing.T) {
	var tickets []models.Ticket
	for i := int64(1); i <= 7; i++ {
		tk := resolved(i, "Acme")
		tk.ResponderID = 42
		tk.ResponderName = "Dana"
		tk.FirstResponseHours = hours(float64(i * 3))
		tickets = append(tickets, tk)
	}
	cats := []string{"A", "A", "B", "C", "D", "E", "F"}
	for i := range tickets {
		tickets[i].Category = cats[i]
	}
	open := awaitingCustomer(8, "Acme")
	open.ResponderID = 42
	open.Category = "A"
	tickets = append(tickets, open, models.Ticket{ID: 9})

	s := newTestStore(t, t.TempDir())
	s.Recompute(tickets, nil, nil)

	all := s.Agents()
	require.Len(t, all, 1, "unassigned tickets are not grouped")
	a, ok := s.Agent(42)
	require.True(t, ok)
	assert.Equal(t, "Dana", a.AgentName)
	assert.Equal(t, 8, a.TotalTickets)
	assert.Equal(t, 1, a.OpenTickets)
	assert.Equal(t, 7, a.ResolvedTickets)
	assert.Equal(t, 1, a.CurrentPending)
	assert.Equal(t, 1, a.PendingExternal)
	assert.Equal(t, 10.0, a.AvgResolutionHours)
	assert.Equal(t, 12.0, a.AvgFirstResponseHours)
	assert.Equal(t, 0.5, a.SLAComplianceRate, "responses at 3,6,9,12 hours of 8 tickets")
	assert.Equal(t, []models.CategoryCount{
		{Name: "A", Count: 3}, {Name: "B", Count: 1}, {Name: "C", Count: 1}, {Name: "D", Count: 1}, {Name: "E", Count: 1},
	}, a.TopCategories)

	_, ok = s.Agent(7)
	assert.False(t, ok)
}

func TestEntityNameFallbacks(t *testing.T) {
	p := config.DefaultProvider()

	assert.Equal(t, "Named", EntityName(models.Ticket{EntityName: "Named", CompanyName: "Co"}, p))
	assert.Equal(t, "Vessel", EntityName(models.Ticket{CustomFields: map[string]any{"cf_vesselname": "Vessel"}, CompanyName: "Co"}, p))
	assert.Equal(t, "Co", EntityName(models.Ticket{CompanyName: "Co"}, p))
	assert.Equal(t, "Unknown", EntityName(models.Ticket{}, nil))

	p.Set("industry.entity_field", "cf_site")
	assert.Equal(t, "Site 9", EntityName(models.Ticket{CustomFields: map[string]any{"cf_site": "Site 9", "cf_company": "Co"}}, p))
}

func TestTopIssuesFromCache(t *testing.T) {
	reader := fakeReader{
		1: {PrimaryIssue: "Sync fails"},
		2: {PrimaryIssue: "Sync fails"},
		3: {PrimaryIssue: "Login"},
	}
	s := newTestStore(t, t.TempDir())
	s.Recompute([]models.Ticket{resolved(1, "Acme"), resolved(2, "Acme"), resolved(3, "Acme")}, nil, reader)

	e, _ := s.Entity("Acme")
	assert.Equal(t, []string{"Sync fails", "Login"}, e.TopIssues)
}

func TestIsValidAndInvalidate(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	assert.False(t, s.IsValid())
	_, ok := s.Dashboard()
	assert.False(t, ok)

	s.Recompute([]models.Ticket{resolved(1, "Acme")}, nil, nil)
	assert.True(t, s.IsValid())
	_, err := os.Stat(filepath.Join(dir, File))
	require.NoError(t, err)

	s.Invalidate()
	assert.False(t, s.IsValid())
	assert.Empty(t, s.Entities())
	_, ok = s.AI()
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(dir, File))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	tk := resolved(1, "Acme")
	tk.ResponderID = 5
	newTestStore(t, dir).Recompute([]models.Ticket{tk}, nil, nil)

	reopened := newTestStore(t, dir)
	assert.False(t, reopened.IsValid(), "loaded records do not count as a recompute")
	d, ok := reopened.Dashboard()
	require.True(t, ok)
	assert.Equal(t, 1, d.TotalTickets)
	a, ok := reopened.Agent(5)
	require.True(t, ok)
	assert.Equal(t, int64(5), a.AgentID)
	_, ok = reopened.Entity("Acme")
	assert.True(t, ok)
}

func TestCorruptMetricsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, File), []byte("nope"), 0o644))

	var logs bytes.Buffer
	m := observability.NewMetrics(prometheus.NewRegistry())
	s := newTestStore(t, dir, WithLogger(zerolog.New(&logs)), WithMetrics(m))

	_, ok := s.Dashboard()
	assert.False(t, ok)
	assert.Contains(t, logs.String(), "cache file unreadable")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLoadFailures.WithLabelValues("metrics")))

	s.Recompute(nil, nil, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecomputeTotal))
}

func TestGettersReturnCopies(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	s.Recompute([]models.Ticket{{ID: 1, Category: "X"}}, nil, nil)

	d, _ := s.Dashboard()
	d.Categories["X"] = 99
	again, _ := s.Dashboard()
	assert.Equal(t, 1, again.Categories["X"])
}

type gatedReader struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedReader) wait() {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
}

func (g *gatedReader) Has(int64) bool {
	g.wait()
	return false
}

func (g *gatedReader) Get(int64) (models.TicketIntelligence, bool) {
	g.wait()
	return models.TicketIntelligence{}, false
}

func TestOverlappingRecomputesApplyInCallOrder(t *testing.T) {
	s := NewStore(t.TempDir(), WithClock(fixedNow))
	gate := &gatedReader{entered: make(chan struct{}), release: make(chan struct{})}

	first := make(chan struct{})
	go func() {
		defer close(first)
		s.Recompute([]models.Ticket{{ID: 1, Status: models.StatusOpen}}, nil, gate)
	}()
	<-gate.entered

	second := make(chan struct{})
	go func() {
		defer close(second)
		s.Recompute([]models.Ticket{{ID: 1, Status: models.StatusOpen}, {ID: 2, Status: models.StatusOpen}}, nil, nil)
	}()

	select {
	case <-second:
		t.Fatal("second recompute finished while the first was still reading")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	<-first
	<-second

	d, ok := s.Dashboard()
	require.True(t, ok)
	assert.Equal(t, 2, d.TotalTickets, "the later call wins")
}
