// Package thread orders a ticket's conversation and tags each message with
// the role of its author.
package thread

import (
	"sort"
	"strings"
	"time"

	"github.com/sahaib/ftex/internal/models"
)

// Normalized is a message after ordering and role classification. It is the
// only message representation used downstream of the normalizer.
type Normalized struct {
	models.Message
	Role    models.Role
	Time    time.Time
	HasTime bool
	// Index is the position in the input list.
	Index int
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

// ParseTimestamp accepts the timestamp shapes seen in helpdesk exports.
// Values without a zone are taken as UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// Classify maps the incoming/private flags onto a role.
func Classify(m models.Message) models.Role {
	switch {
	case m.Incoming:
		return models.RoleCustomer
	case m.Private:
		return models.RoleInternalNote
	default:
		return models.RoleAgentPublic
	}
}

// Normalize returns the messages in ascending time order. Ties keep input
// order; messages whose timestamp is missing or unparseable are kept and
// placed after every dated message.
func Normalize(msgs []models.Message) []Normalized {
	out := make([]Normalized, len(msgs))
	for i, m := range msgs {
		ts, ok := ParseTimestamp(m.CreatedAt)
		out[i] = Normalized{
			Message: m,
			Role:    Classify(m),
			Time:    ts,
			HasTime: ok,
			Index:   i,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.HasTime != b.HasTime {
			return a.HasTime
		}
		if !a.HasTime {
			return false
		}
		return a.Time.Before(b.Time)
	})
	return out
}

// Counts tallies messages per role.
type Counts struct {
	Customer int
	Agent    int
	Notes    int
}

func (c Counts) Total() int {
	return c.Customer + c.Agent + c.Notes
}

func CountRoles(msgs []Normalized) Counts {
	var c Counts
	for _, m := range msgs {
		switch m.Role {
		case models.RoleCustomer:
			c.Customer++
		case models.RoleInternalNote:
			c.Notes++
		default:
			c.Agent++
		}
	}
	return c
}

// Filter selects messages for text extraction.
type Filter func(Normalized) bool

func All(Normalized) bool { return true }

func CustomerOnly(m Normalized) bool { return m.Role == models.RoleCustomer }

// AgentOnly covers public replies and internal notes.
func AgentOnly(m Normalized) bool { return m.Role != models.RoleCustomer }

// Text joins non-empty bodies of the selected messages with blank lines.
func Text(msgs []Normalized, keep Filter) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if !keep(m) || m.BodyText == "" {
			continue
		}
		parts = append(parts, m.BodyText)
	}
	return strings.Join(parts, "\n\n")
}

// Last returns the final message in normalized order.
func Last(msgs []Normalized) (Normalized, bool) {
	if len(msgs) == 0 {
		return Normalized{}, false
	}
	return msgs[len(msgs)-1], true
}

// LastDated returns the latest message that carries a parsed timestamp.
func LastDated(msgs []Normalized) (Normalized, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].HasTime {
			return msgs[i], true
		}
	}
	return Normalized{}, false
}
