// Package ai holds the optional enrichment collaborators. Every one of them
// may be absent; the pipeline runs without them.
package ai

import (
	"context"

	"github.com/sahaib/ftex/internal/models"
)

// Enricher scores one ticket. The int64 is the call latency in
// milliseconds.
type Enricher interface {
	Enrich(ctx context.Context, t models.Ticket) (models.Enrichment, int64, error)
}

// Categorizer assigns categories to a batch of tickets. Tickets it could not
// place are absent from the result.
type Categorizer interface {
	Categorize(ctx context.Context, tickets []models.Ticket) (map[int64]string, error)
}
