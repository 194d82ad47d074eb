package ai

import (
	"context"
	"strconv"
	"time"

	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/utils"
)

// MockEnricher derives stable scores from the ticket id. Used in
// development and tests when no enrichment service is configured.
type MockEnricher struct {
	ModelVersion string
}

func (m MockEnricher) Enrich(ctx context.Context, t models.Ticket) (models.Enrichment, int64, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return models.Enrichment{}, 0, err
	}
	h := utils.HashStringToUint64(strconv.FormatInt(t.ID, 10))

	categories := []string{"Bug Report", "Configuration", "Integration/Sync", "Training"}
	sentiments := []string{"positive", "neutral", "negative"}
	risks := []float64{0.1, 0.25, 0.5, 0.8}
	frustration := []float64{0, 1, 2.5, 4}

	escalation := risks[int(h/7)%len(risks)]
	frust := frustration[int(h/13)%len(frustration)]
	resolution := 1 - escalation

	confidence := 0.75
	if h%5 == 0 {
		confidence = 0.62
	}

	e := models.Enrichment{
		TicketID:             t.ID,
		Category:             categories[int(h%uint64(len(categories)))],
		CategoryConfidence:   confidence,
		Sentiment:            sentiments[int(h/17)%len(sentiments)],
		EscalationRisk:       &escalation,
		CustomerFrustration:  &frust,
		ResolutionConfidence: &resolution,
		ModelVersion:         m.ModelVersion,
	}
	return e, time.Since(start).Milliseconds(), nil
}
