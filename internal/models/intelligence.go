package models

import (
	"slices"
	"time"
)

type CategorySource string

const (
	SourceAI      CategorySource = "ai"
	SourceRule    CategorySource = "rule"
	SourceUser    CategorySource = "user"
	SourceUnknown CategorySource = "unknown"
)

func (s CategorySource) Valid() bool {
	switch s {
	case SourceAI, SourceRule, SourceUser, SourceUnknown:
		return true
	}
	return false
}

// TicketIntelligence is the long-lived cache record for one ticket.
//
// AnalyzedAt and PendingSince are stored as RFC 3339 strings exactly as
// persisted, so a record with a damaged timestamp still loads and is simply
// reported stale.
type TicketIntelligence struct {
	TicketID int64 `json:"ticket_id"`

	Category           string         `json:"category,omitempty"`
	CategoryConfidence float64        `json:"category_confidence"`
	CategorySource     CategorySource `json:"category_source"`

	Issues       []string `json:"issues"`
	IssueCount   int      `json:"issue_count"`
	PrimaryIssue string   `json:"primary_issue,omitempty"`

	PendingParty PendingParty `json:"pending_party"`
	PendingSince string       `json:"pending_since,omitempty"`

	Sentiment            string  `json:"sentiment,omitempty"`
	EscalationRisk       float64 `json:"escalation_risk"`
	CustomerFrustration  float64 `json:"customer_frustration"`
	ResolutionConfidence float64 `json:"resolution_confidence"`

	Decisions   []Decision   `json:"decisions"`
	Commitments []Commitment `json:"commitments"`

	Products          []string `json:"products"`
	EntitiesMentioned []string `json:"entities_mentioned"`

	AnalyzedAt        string `json:"analyzed_at,omitempty"`
	ConversationCount int    `json:"conversation_count"`
	DataHash          string `json:"data_hash,omitempty"`
}

// NewTicketIntelligence returns the default record created by a first
// partial write.
func NewTicketIntelligence(id int64) TicketIntelligence {
	return TicketIntelligence{
		TicketID:       id,
		CategorySource: SourceUnknown,
		PendingParty:   PendingUnknown,
	}
}

// AnalyzedTime parses AnalyzedAt. ok is false for empty or damaged values.
func (t TicketIntelligence) AnalyzedTime() (time.Time, bool) {
	if t.AnalyzedAt == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, t.AnalyzedAt)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Clone returns a deep copy so callers never alias cache-owned slices.
func (t TicketIntelligence) Clone() TicketIntelligence {
	t.Issues = slices.Clone(t.Issues)
	t.Decisions = slices.Clone(t.Decisions)
	t.Commitments = slices.Clone(t.Commitments)
	t.Products = slices.Clone(t.Products)
	t.EntitiesMentioned = slices.Clone(t.EntitiesMentioned)
	return t
}

type HealthTrend string

const (
	TrendImproving HealthTrend = "improving"
	TrendDeclining HealthTrend = "declining"
	TrendStable    HealthTrend = "stable"
)

type IssueCount struct {
	Issue string `json:"issue"`
	Count int    `json:"count"`
}

// EntityProfile aggregates intelligence for one named entity (customer,
// vessel, site). Rebuilt wholesale on every metrics recompute.
type EntityProfile struct {
	EntityName         string       `json:"entity_name"`
	EntityType         string       `json:"entity_type"`
	TotalTickets       int          `json:"total_tickets"`
	OpenTickets        int          `json:"open_tickets"`
	AvgResolutionHours float64      `json:"avg_resolution_hours"`
	EscalationRate     float64      `json:"escalation_rate"`
	HealthScore        float64      `json:"health_score"`
	HealthTrend        HealthTrend  `json:"health_trend"`
	TopIssues          []IssueCount `json:"top_issues"`
	UpdatedAt          string       `json:"updated_at,omitempty"`
}

func NewEntityProfile(name string) EntityProfile {
	return EntityProfile{
		EntityName:  name,
		EntityType:  "customer",
		HealthScore: 100,
		HealthTrend: TrendStable,
	}
}

func (p EntityProfile) Clone() EntityProfile {
	p.TopIssues = slices.Clone(p.TopIssues)
	return p
}

// CacheStats summarizes the intelligence cache.
type CacheStats struct {
	TicketsCached  int    `json:"tickets_cached"`
	EntitiesCached int    `json:"entities_cached"`
	CacheDir       string `json:"cache_dir"`
	LastUpdated    string `json:"last_updated,omitempty"`
}
