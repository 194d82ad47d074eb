package analysis

import (
	"slices"
	"time"

	"github.com/sahaib/ftex/internal/models"
)

// ToIntelligence projects an analysis onto a fresh cache record. Category
// and enrichment scores are left for the categorizer and enrichers.
func ToIntelligence(a models.ThreadAnalysis, t models.Ticket, dataHash string) models.TicketIntelligence {
	rec := models.NewTicketIntelligence(t.ID)

	rec.Issues = make([]string, 0, len(a.Issues))
	for _, is := range a.Issues {
		rec.Issues = append(rec.Issues, is.Title)
	}
	rec.IssueCount = a.IssueCount
	rec.PrimaryIssue = a.PrimaryIssue

	rec.PendingParty = a.PendingParty
	if a.PendingParty != models.PendingUnknown && a.LastActivity != nil {
		rec.PendingSince = a.LastActivity.UTC().Format(time.RFC3339)
	}

	rec.Decisions = slices.Clone(a.Decisions)
	rec.Commitments = slices.Clone(a.Commitments)
	rec.Products = slices.Clone(a.ProductsMentioned)
	rec.EntitiesMentioned = slices.Clone(a.EntitiesMentioned)

	if !a.AnalyzedAt.IsZero() {
		rec.AnalyzedAt = a.AnalyzedAt.UTC().Format(time.RFC3339Nano)
	}
	rec.ConversationCount = len(t.Conversations)
	rec.DataHash = dataHash
	return rec
}
