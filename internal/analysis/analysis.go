// Package analysis combines the thread normalizer, fact extractor and
// pending resolver into one ThreadAnalysis per ticket.
package analysis

import (
	"time"

	"github.com/sahaib/ftex/internal/extract"
	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/pending"
	"github.com/sahaib/ftex/internal/thread"
)

type Analyzer struct {
	Extractor *extract.Extractor
	Now       func() time.Time
}

func New(e *extract.Extractor) *Analyzer {
	if e == nil {
		e = extract.New()
	}
	return &Analyzer{Extractor: e, Now: time.Now}
}

func (a *Analyzer) now() time.Time {
	if a.Now == nil {
		return time.Now().UTC()
	}
	return a.Now().UTC()
}

// Analyze builds a fresh analysis. It never fails; a ticket without
// conversations yields zero counters and a status-derived pending party.
func (a *Analyzer) Analyze(t models.Ticket) models.ThreadAnalysis {
	msgs := thread.Normalize(t.Conversations)
	counts := thread.CountRoles(msgs)

	ext := a.Extractor
	if ext == nil {
		ext = extract.New()
	}
	facts := ext.Extract(t, msgs)

	out := models.ThreadAnalysis{
		TicketID:         t.ID,
		TotalMessages:    len(msgs),
		CustomerMessages: counts.Customer,
		AgentResponses:   counts.Agent,
		InternalNotes:    counts.Notes,

		Issues:           facts.Issues,
		IssueCount:       len(facts.Issues),
		Decisions:        facts.Decisions,
		OptionsPresented: facts.Options,
		PendingDecisions: facts.PendingDecisions,
		Commitments:      facts.Commitments,

		EntitiesMentioned: facts.Entities,
		ProductsMentioned: facts.Products,
		ActionItems:       facts.Actions,
		OpenActions:       facts.OpenActions,

		BackAndForthCount: BackAndForth(msgs),
		PendingParty:      pending.Resolve(msgs, t.Status),
		AnalyzedAt:        a.now(),
	}
	out.IsMultiIssue = out.IssueCount > 1
	if out.IssueCount > 0 {
		out.PrimaryIssue = out.Issues[0].Title
	}

	gaps := ResponseGaps(msgs)
	if len(gaps) > 0 {
		var sum, longest float64
		for _, g := range gaps {
			sum += g
			longest = max(longest, g)
		}
		out.AvgResponseGapHours = sum / float64(len(gaps))
		out.LongestGapHours = longest
	}

	if last, ok := thread.LastDated(msgs); ok {
		ts := last.Time
		out.LastActivity = &ts
	}
	return out
}

// BackAndForth counts changes of speaker between customer messages and
// public agent replies. Internal notes do not take part.
func BackAndForth(msgs []thread.Normalized) int {
	var (
		exchanges int
		last      models.Role
	)
	for _, m := range msgs {
		if m.Role != models.RoleCustomer && m.Role != models.RoleAgentPublic {
			continue
		}
		if m.Role != last {
			if last != "" {
				exchanges++
			}
			last = m.Role
		}
	}
	return exchanges
}

// ResponseGaps returns the positive gaps, in hours, between consecutive
// messages that both carry a timestamp.
func ResponseGaps(msgs []thread.Normalized) []float64 {
	var gaps []float64
	for i := 1; i < len(msgs); i++ {
		prev, cur := msgs[i-1], msgs[i]
		if !prev.HasTime || !cur.HasTime {
			continue
		}
		if h := cur.Time.Sub(prev.Time).Hours(); h > 0 {
			gaps = append(gaps, h)
		}
	}
	return gaps
}
