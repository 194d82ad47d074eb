package extract

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/thread"
)

func sampleTicket() models.Ticket {
	return models.Ticket{
		ID:         42,
		Subject:    "NavBox | Acme | Sync",
		Status:     models.StatusOpen,
		EntityName: "Acme Shipping",
		Tags:       []string{"product:GreenLogs", "vip"},
		CustomFields: map[string]any{
			"cf_products": "Logbook",
		},
		Conversations: []models.Message{
			{
				CreatedAt: "2024-03-01T10:00:00Z",
				Incoming:  true,
				BodyText:  "Hello team.\n1. Login page crashes on submit.\n2. Reports export is slow.\nCan you tell me why the sync keeps failing?",
			},
			{
				CreatedAt: "2024-03-01T11:00:00Z",
				BodyText:  "We will send a patch by end of the week. Please confirm the build number.",
			},
			{
				CreatedAt: "2024-03-01T12:00:00Z",
				Incoming:  true,
				BodyText:  "If not fixed we will escalate this to management.",
			},
		},
	}
}

func extractFrom(e *Extractor, t models.Ticket) Facts {
	return e.Extract(t, thread.Normalize(t.Conversations))
}

func TestExtractIssuesByTier(t *testing.T) {
	facts := extractFrom(New(), sampleTicket())

	require.Len(t, facts.Issues, 3)
	assert.Equal(t, models.Issue{Title: "Login page crashes on submit.", Confidence: ConfidenceNumbered, Status: IssueStatusOpen}, facts.Issues[0])
	assert.Equal(t, "Reports export is slow.", facts.Issues[1].Title)
	assert.Equal(t, models.Issue{Title: "Can you tell me why the sync keeps failing?", Confidence: ConfidenceQuestion, Status: IssueStatusOpen}, facts.Issues[2])
}

func TestPatternLimitCountsShortMatches(t *testing.T) {
	tk := models.Ticket{ID: 7, Conversations: []models.Message{{
		CreatedAt: "2024-03-01T10:00:00Z",
		Incoming:  true,
		BodyText:  "Why? How? Ok? Yes? Now? Can you explain why the export keeps failing?",
	}}}

	facts := extractFrom(New(), tk)
	assert.Empty(t, facts.Issues, "only the first five questions are considered, all too short")

	tk.Conversations[0].BodyText = "Why? Can you explain why the export keeps failing?"
	facts = extractFrom(New(), tk)
	require.Len(t, facts.Issues, 1)
	assert.Equal(t, "Can you explain why the export keeps failing?", facts.Issues[0].Title)
}

func TestExtractDecisionsAndCommitmentsUseAgentTextOnly(t *testing.T) {
	facts := extractFrom(New(), sampleTicket())

	require.Len(t, facts.Decisions, 1)
	assert.Equal(t, models.Decision{Topic: "Decision", Choice: "send a patch by end of the week", MadeBy: MadeByAgent}, facts.Decisions[0])

	require.Len(t, facts.Commitments, 2)
	assert.Equal(t, "by end of the week", facts.Commitments[0].What)
	assert.Equal(t, "send a patch by end of the week", facts.Commitments[1].What)
	assert.Contains(t, facts.Commitments[0].Context, "send a patch")
	for _, c := range facts.Commitments {
		assert.NotContains(t, c.What, "escalate", "customer text never yields commitments")
	}
}

func TestExtractActionsAndPendingDecisions(t *testing.T) {
	facts := extractFrom(New(), sampleTicket())

	assert.Equal(t, []string{"confirm the build number"}, facts.Actions)
	assert.Equal(t, []string{"confirm the build number"}, facts.OpenActions)
	assert.Equal(t, []string{"Please confirm"}, facts.PendingDecisions)
}

func TestExtractEntitiesAndProductsFromMetadata(t *testing.T) {
	facts := extractFrom(New(), sampleTicket())

	assert.Equal(t, []string{"Acme Shipping"}, facts.Entities)
	assert.Equal(t, []string{"Logbook", "NavBox", "GreenLogs"}, facts.Products)
}

func TestExtractCapsEntities(t *testing.T) {
	tk := models.Ticket{
		CustomFields: map[string]any{"cf_vesselname": "Ocean Star"},
		Tags:         []string{"entity:North Fleet"},
		Conversations: []models.Message{
			{CreatedAt: "2024-03-01T10:00:00Z", Incoming: true, BodyText: "Vessel OCEAN STAR reported a fault."},
		},
	}
	facts := extractFrom(New(), tk)
	assert.Equal(t, []string{"Ocean Star", "North Fleet"}, facts.Entities, "caps match duplicates the custom field case-insensitively")
}

func TestExtractOptions(t *testing.T) {
	tk := models.Ticket{Conversations: []models.Message{
		{CreatedAt: "2024-03-01T10:00:00Z", BodyText: "Option 1: Reinstall the agent\nOption 2 - Roll back to v3"},
	}}
	facts := extractFrom(New(), tk)

	assert.Equal(t, []string{"Option 1: Reinstall the agent", "Option 2: Roll back to v3"}, facts.Options)
	require.Len(t, facts.Decisions, 2)
	assert.Equal(t, "Option 1", facts.Decisions[0].Choice)
	assert.Equal(t, "Option 2", facts.Decisions[1].Choice)
}

func TestExtractDeduplicatesCaseInsensitively(t *testing.T) {
	tk := models.Ticket{Conversations: []models.Message{
		{CreatedAt: "2024-03-01T10:00:00Z", Incoming: true, BodyText: "1. Printer is offline today\n2. printer   IS offline TODAY"},
	}}
	facts := extractFrom(New(), tk)

	require.Len(t, facts.Issues, 1)
	assert.Equal(t, "Printer is offline today", facts.Issues[0].Title, "first occurrence wins")
}

func TestExtractDropsShortMatches(t *testing.T) {
	tk := models.Ticket{Conversations: []models.Message{
		{CreatedAt: "2024-03-01T10:00:00Z", Incoming: true, BodyText: "1. Help\n2. Why?\nPlease call."},
	}}
	facts := extractFrom(New(), tk)

	assert.Empty(t, facts.Issues)
	assert.Empty(t, facts.Actions)
}

func TestExtractCapsLists(t *testing.T) {
	var body bytes.Buffer
	for i := 1; i <= 15; i++ {
		body.WriteString("1. distinct numbered issue number ")
		body.WriteString(string(rune('a' + i)))
		body.WriteString("\n")
	}
	tk := models.Ticket{Conversations: []models.Message{
		{CreatedAt: "2024-03-01T10:00:00Z", Incoming: true, BodyText: body.String()},
	}}
	facts := extractFrom(New(), tk)
	assert.Len(t, facts.Issues, models.MaxIssues)
}

func TestExtractEmptyThread(t *testing.T) {
	facts := New().Extract(sampleTicket(), nil)

	assert.NotNil(t, facts.Issues)
	assert.Empty(t, facts.Issues)
	assert.Empty(t, facts.Decisions)
	assert.Empty(t, facts.Commitments)
	assert.Empty(t, facts.Entities)
}

func TestExtractIsIdempotent(t *testing.T) {
	e := New()
	tk := sampleTicket()
	assert.Equal(t, extractFrom(e, tk), extractFrom(e, tk))
}

// Known limitation: a resolution keyword anywhere in the thread closes every
// action, including ones that were never addressed.
func TestOpenActionsHeuristicClosesAllOnAnyResolutionKeyword(t *testing.T) {
	tk := models.Ticket{Conversations: []models.Message{
		{CreatedAt: "2024-03-01T10:00:00Z", BodyText: "Please restart the sync service."},
		{CreatedAt: "2024-03-01T11:00:00Z", Incoming: true, BodyText: "The upload completed for another vessel."},
	}}
	facts := extractFrom(New(), tk)

	assert.Equal(t, []string{"restart the sync service"}, facts.Actions)
	assert.Empty(t, facts.OpenActions)
}

func TestOverridePatternsAppendAndInvalidOnesAreLogged(t *testing.T) {
	p := config.DefaultProvider()
	p.Set("extraction.issue_patterns", []string{"([unclosed", `outage[:\s]+(.+)`})

	var logs bytes.Buffer
	e := New(WithProvider(p), WithLogger(zerolog.New(&logs)))

	tk := models.Ticket{Conversations: []models.Message{
		{CreatedAt: "2024-03-01T10:00:00Z", Incoming: true, BodyText: "Outage: east region offline"},
	}}
	facts := extractFrom(e, tk)

	require.Len(t, facts.Issues, 1)
	assert.Equal(t, models.Issue{Title: "east region offline", Confidence: ConfidenceKeyword, Status: IssueStatusOpen}, facts.Issues[0])
	assert.Contains(t, logs.String(), "skipping invalid extraction pattern")
	assert.Equal(t, 1, bytes.Count(logs.Bytes(), []byte("\n")), "one warning per bad pattern")
}

func TestCategorize(t *testing.T) {
	cats := config.DefaultProvider().Categories()

	name, conf, ok := Categorize("The app crashes with an error after the upgrade", cats)
	require.True(t, ok)
	assert.Equal(t, "Bug Report", name)
	assert.InDelta(t, 0.6, conf, 1e-9)

	_, _, ok = Categorize("lorem ipsum", cats)
	assert.False(t, ok)
}
