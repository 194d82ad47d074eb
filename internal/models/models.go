package models

import (
	"errors"
	"time"
)

var ErrTicketNotFound = errors.New("ticket not found")

// Ticket status codes as delivered by the helpdesk export.
const (
	StatusOpen     = 2
	StatusPending  = 3
	StatusResolved = 4
	StatusClosed   = 5
)

// Ticket priority codes.
const (
	PriorityLow    = 1
	PriorityMedium = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
)

// Message is one conversation entry on a ticket. CreatedAt is kept as the raw
// source string; the thread normalizer owns parsing it.
type Message struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"created_at"`
	Incoming  bool   `json:"incoming"`
	Private   bool   `json:"private"`
	UserID    int64  `json:"user_id,omitempty"`
	BodyText  string `json:"body_text"`
}

type Ticket struct {
	ID                 int64          `json:"id"`
	Subject            string         `json:"subject"`
	Description        string         `json:"description"`
	Status             int            `json:"status"`
	Priority           int            `json:"priority"`
	Category           string         `json:"category,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	ResolvedAt         time.Time      `json:"resolved_at"`
	FirstResponseHours *float64       `json:"first_response_hours,omitempty"`
	ResolutionHours    *float64       `json:"resolution_hours,omitempty"`
	ResponderID        int64          `json:"responder_id,omitempty"`
	ResponderName      string         `json:"responder_name,omitempty"`
	CompanyName        string         `json:"company_name,omitempty"`
	EntityName         string         `json:"entity_name,omitempty"`
	Conversations      []Message      `json:"conversations"`
	Tags               []string       `json:"tags"`
	CustomFields       map[string]any `json:"custom_fields"`
}

func (t Ticket) IsOpen() bool {
	return t.Status == StatusOpen || t.Status == StatusPending
}

func (t Ticket) IsResolved() bool {
	return t.Status == StatusResolved || t.Status == StatusClosed
}

func (t Ticket) StatusName() string {
	switch t.Status {
	case StatusOpen:
		return "Open"
	case StatusPending:
		return "Pending"
	case StatusResolved:
		return "Resolved"
	case StatusClosed:
		return "Closed"
	}
	return "Unknown"
}

func (t Ticket) PriorityName() string {
	switch t.Priority {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	case PriorityUrgent:
		return "Urgent"
	}
	return "Unknown"
}

// CustomString returns a custom field rendered as a string, or "" when the
// field is absent or empty.
func (t Ticket) CustomString(key string) string {
	v, ok := t.CustomFields[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

// Enrichment is what an optional AI collaborator contributes to a cached
// intelligence record. Every field is optional.
type Enrichment struct {
	TicketID             int64    `json:"ticket_id"`
	Category             string   `json:"category,omitempty"`
	CategoryConfidence   float64  `json:"category_confidence,omitempty"`
	Sentiment            string   `json:"sentiment,omitempty"`
	EscalationRisk       *float64 `json:"escalation_risk,omitempty"`
	CustomerFrustration  *float64 `json:"customer_frustration,omitempty"`
	ResolutionConfidence *float64 `json:"resolution_confidence,omitempty"`
	ModelVersion         string   `json:"model_version,omitempty"`
}
