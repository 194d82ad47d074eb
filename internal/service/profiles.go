package service

import (
	"sort"

	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/metrics"
	"github.com/sahaib/ftex/internal/models"
)

const (
	maxProfileIssues = 5
	trendDelta       = 5.0
)

// BuildEntityProfiles rebuilds every entity profile from the ticket set, the
// freshly computed entity metrics and the cached intelligence. previous
// supplies the health scores the trend is measured against.
func BuildEntityProfiles(tickets []models.Ticket, p *config.Provider, r metrics.IntelligenceReader, entities map[string]models.EntityMetrics, previous []models.EntityProfile) []models.EntityProfile {
	highRisk := p.Float("metrics.high_risk", 0.7)
	entityType := p.String("industry.primary_entity", "customer")

	prevHealth := make(map[string]float64, len(previous))
	for _, prof := range previous {
		prevHealth[prof.EntityName] = prof.HealthScore
	}

	type tally struct {
		analyzed  int
		escalated int
		issues    map[string]int
	}
	tallies := map[string]*tally{}
	for _, t := range tickets {
		name := metrics.EntityName(t, p)
		tl, ok := tallies[name]
		if !ok {
			tl = &tally{issues: map[string]int{}}
			tallies[name] = tl
		}
		if r == nil {
			continue
		}
		rec, ok := r.Get(t.ID)
		if !ok {
			continue
		}
		tl.analyzed++
		if rec.EscalationRisk > highRisk {
			tl.escalated++
		}
		if rec.PrimaryIssue != "" {
			tl.issues[rec.PrimaryIssue]++
		}
	}

	out := make([]models.EntityProfile, 0, len(tallies))
	for name, tl := range tallies {
		prof := models.NewEntityProfile(name)
		prof.EntityType = entityType
		if em, ok := entities[name]; ok {
			prof.TotalTickets = em.TotalTickets
			prof.OpenTickets = em.OpenTickets
			prof.AvgResolutionHours = em.AvgResolutionHours
			prof.HealthScore = em.HealthScore
		}
		if tl.analyzed > 0 {
			prof.EscalationRate = float64(tl.escalated) / float64(tl.analyzed)
		}
		prof.TopIssues = topIssues(tl.issues, maxProfileIssues)
		if prev, ok := prevHealth[name]; ok {
			prof.HealthTrend = Trend(prev, prof.HealthScore)
		}
		out = append(out, prof)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityName < out[j].EntityName })
	return out
}

// Trend compares a new health score against the previous one.
func Trend(previous, current float64) models.HealthTrend {
	switch d := current - previous; {
	case d >= trendDelta:
		return models.TrendImproving
	case d <= -trendDelta:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

func topIssues(counts map[string]int, n int) []models.IssueCount {
	out := make([]models.IssueCount, 0, len(counts))
	for issue, c := range counts {
		out = append(out, models.IssueCount{Issue: issue, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Issue < out[j].Issue
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
