// Package ingest turns helpdesk exports into models.Ticket values. It sits
// at the loader boundary: nothing downstream sees the raw export shape.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/sahaib/ftex/internal/models"
)

// Source yields the current ticket set.
type Source interface {
	Tickets(ctx context.Context) ([]models.Ticket, error)
}

// Getter is implemented by sources that can look up one ticket without
// loading the whole set.
type Getter interface {
	Ticket(ctx context.Context, id int64) (models.Ticket, error)
}

// Find looks up one ticket. Returns models.ErrTicketNotFound when absent.
func Find(ctx context.Context, src Source, id int64) (models.Ticket, error) {
	if g, ok := src.(Getter); ok {
		return g.Ticket(ctx, id)
	}
	tickets, err := src.Tickets(ctx)
	if err != nil {
		return models.Ticket{}, err
	}
	for _, t := range tickets {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Ticket{}, fmt.Errorf("ticket %d: %w", id, models.ErrTicketNotFound)
}

// Static serves a fixed ticket slice.
type Static []models.Ticket

func (s Static) Tickets(ctx context.Context) ([]models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

var ErrNoSource = errors.New("no ticket source configured")

// None is the source used when neither a file nor a database is configured.
type None struct{}

func (None) Tickets(context.Context) ([]models.Ticket, error) {
	return nil, ErrNoSource
}
