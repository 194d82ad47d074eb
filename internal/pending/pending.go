// Package pending decides which side of a ticket is expected to act next.
package pending

import (
	"fmt"
	"time"

	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/thread"
)

// Resolve looks only at the last normalized message: a customer message or
// an internal note leaves the ticket with the support team, a public agent
// reply leaves it with the customer. With no messages the ticket status
// decides.
func Resolve(msgs []thread.Normalized, status int) models.PendingParty {
	last, ok := thread.Last(msgs)
	if !ok {
		return fromStatus(status)
	}
	return fromRole(last.Role)
}

func ForTicket(t models.Ticket) models.PendingParty {
	return Resolve(thread.Normalize(t.Conversations), t.Status)
}

func fromRole(r models.Role) models.PendingParty {
	switch r {
	case models.RoleCustomer, models.RoleInternalNote:
		return models.PendingInternal
	case models.RoleAgentPublic:
		return models.PendingExternal
	}
	return models.PendingUnknown
}

func fromStatus(status int) models.PendingParty {
	switch status {
	case models.StatusOpen:
		return models.PendingInternal
	case models.StatusPending:
		return models.PendingExternal
	}
	return models.PendingUnknown
}

// StatusFor extends Resolve with waiting time measured from the last dated
// message and per-role counts.
func StatusFor(t models.Ticket, now time.Time) models.PendingStatus {
	msgs := thread.Normalize(t.Conversations)
	counts := thread.CountRoles(msgs)

	st := models.PendingStatus{
		Party:           Resolve(msgs, t.Status),
		LastMessageRole: models.RoleUnknown,
		MessageCount:    counts.Total(),
		CustomerCount:   counts.Customer,
		AgentCount:      counts.Agent,
		NoteCount:       counts.Notes,
	}
	last, ok := thread.Last(msgs)
	if !ok {
		return st
	}
	st.LastMessageRole = last.Role
	if last.UserID != 0 {
		st.LastMessageBy = fmt.Sprintf("%d", last.UserID)
	}
	if dated, ok := thread.LastDated(msgs); ok {
		since := dated.Time
		wait := max(now.Sub(since), 0)
		st.WaitingSince = &since
		st.WaitingDuration = &wait
	}
	return st
}

// FormatWaiting renders a waiting duration the way dashboards show it.
func FormatWaiting(d *time.Duration) string {
	if d == nil {
		return "Unknown"
	}
	secs := int64(d.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", max(secs, 0))
	case secs < 3600:
		return fmt.Sprintf("%dm", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%dh", secs/3600)
	}
	days := secs / 86400
	hours := (secs % 86400) / 3600
	if hours > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}
