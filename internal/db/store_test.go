package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahaib/ftex/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	_, err = s.Pool.Exec(ctx, `TRUNCATE tickets, runs`)
	require.NoError(t, err)
	return s
}

func TestTicketRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	frt := 2.5
	in := models.Ticket{
		ID:                 11,
		Subject:            "Sync fails",
		Status:             models.StatusOpen,
		Priority:           models.PriorityHigh,
		CreatedAt:          time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
		FirstResponseHours: &frt,
		EntityName:         "Acme",
		Tags:               []string{"product:NavBox"},
		CustomFields:       map[string]any{"cf_company": "Acme"},
		Conversations:      []models.Message{{ID: 1, CreatedAt: "2024-02-01T10:00:00Z", Incoming: true, BodyText: "help"}},
	}
	n, err := s.UpsertTickets(ctx, []models.Ticket{in, {ID: 12}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Ticket(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, in.Subject, got.Subject)
	assert.Equal(t, in.CreatedAt, got.CreatedAt)
	assert.True(t, got.UpdatedAt.IsZero())
	require.NotNil(t, got.FirstResponseHours)
	assert.Equal(t, frt, *got.FirstResponseHours)
	assert.Nil(t, got.ResolutionHours)
	assert.Equal(t, in.Tags, got.Tags)
	assert.Equal(t, "Acme", got.CustomFields["cf_company"])
	assert.Equal(t, in.Conversations, got.Conversations)

	in.Status = models.StatusResolved
	_, err = s.UpsertTickets(ctx, []models.Ticket{in})
	require.NoError(t, err)

	all, err := s.Tickets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.StatusResolved, all[0].Status)

	_, err = s.Ticket(ctx, 999)
	assert.ErrorIs(t, err, models.ErrTicketNotFound)
}

func TestRunLog(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, s.CreateRun(ctx, id, RunStatusRunning))
	require.NoError(t, s.FinishRun(ctx, id, RunStatusFinished, []byte(`{"counts":{"analyzed":3}}`)))

	run, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, id.String(), run.ID)
	assert.Equal(t, RunStatusFinished, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.JSONEq(t, `{"counts":{"analyzed":3}}`, string(run.Summary))
}

func TestNullableHelpers(t *testing.T) {
	assert.Nil(t, nullTime(time.Time{}))
	now := time.Now()
	assert.Equal(t, now, *nullTime(now))
	assert.True(t, derefTime(nil).IsZero())
	assert.NotNil(t, nonNilMap(nil))
	assert.NotNil(t, nonNilMessages(nil))
}
