package models

import "time"

type PendingParty string

const (
	PendingInternal PendingParty = "internal"
	PendingExternal PendingParty = "external"
	PendingUnknown  PendingParty = "unknown"
)

func (p PendingParty) Valid() bool {
	switch p {
	case PendingInternal, PendingExternal, PendingUnknown:
		return true
	}
	return false
}

// Role classifies a normalized thread message.
type Role string

const (
	RoleCustomer     Role = "customer"
	RoleAgentPublic  Role = "agent_public"
	RoleInternalNote Role = "internal_note"
	RoleUnknown      Role = "unknown"
)

// List caps for ThreadAnalysis.
const (
	MaxIssues           = 10
	MaxDecisions        = 5
	MaxCommitments      = 10
	MaxEntities         = 20
	MaxProducts         = 10
	MaxActions          = 10
	MaxOptions          = 5
	MaxPendingDecisions = 3
)

type Issue struct {
	Title      string  `json:"title"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status"`
}

type Decision struct {
	Topic  string `json:"topic"`
	Choice string `json:"choice"`
	MadeBy string `json:"made_by"`
}

type Commitment struct {
	What    string `json:"what"`
	Context string `json:"context,omitempty"`
	ByWhom  string `json:"by_whom"`
}

// ThreadAnalysis is rebuilt on every analysis run and never patched in place.
type ThreadAnalysis struct {
	TicketID int64 `json:"ticket_id"`

	TotalMessages    int `json:"total_messages"`
	CustomerMessages int `json:"customer_messages"`
	AgentResponses   int `json:"agent_responses"`
	InternalNotes    int `json:"internal_notes"`

	Issues       []Issue `json:"issues"`
	IssueCount   int     `json:"issue_count"`
	IsMultiIssue bool    `json:"is_multi_issue"`
	PrimaryIssue string  `json:"primary_issue,omitempty"`

	Decisions        []Decision `json:"decisions"`
	OptionsPresented []string   `json:"options_presented"`
	PendingDecisions []string   `json:"pending_decisions"`

	Commitments []Commitment `json:"commitments"`

	EntitiesMentioned []string `json:"entities_mentioned"`
	ProductsMentioned []string `json:"products_mentioned"`

	ActionItems []string `json:"action_items"`
	OpenActions []string `json:"open_actions"`

	BackAndForthCount   int     `json:"back_and_forth_count"`
	AvgResponseGapHours float64 `json:"avg_response_gap_hours"`
	LongestGapHours     float64 `json:"longest_gap_hours"`

	PendingParty PendingParty `json:"pending_party"`
	LastActivity *time.Time   `json:"last_activity,omitempty"`
	AnalyzedAt   time.Time    `json:"analyzed_at"`
}

// PendingStatus extends the pending party with waiting time and per-role counts.
type PendingStatus struct {
	Party           PendingParty   `json:"party"`
	WaitingSince    *time.Time     `json:"waiting_since,omitempty"`
	WaitingDuration *time.Duration `json:"waiting_duration,omitempty"`
	LastMessageRole Role           `json:"last_message_role"`
	LastMessageBy   string         `json:"last_message_by,omitempty"`
	MessageCount    int            `json:"message_count"`
	CustomerCount   int            `json:"customer_messages"`
	AgentCount      int            `json:"agent_responses"`
	NoteCount       int            `json:"internal_notes"`
}
