package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/sahaib/ftex/internal/models"
)

var (
	ErrUnknownField = errors.New("unknown intelligence field")
	ErrInvalidValue = errors.New("invalid value for intelligence field")
)

// Field names a partially writable column of TicketIntelligence.
type Field string

const (
	FieldCategory             Field = "category"
	FieldCategoryConfidence   Field = "category_confidence"
	FieldCategorySource       Field = "category_source"
	FieldSentiment            Field = "sentiment"
	FieldEscalationRisk       Field = "escalation_risk"
	FieldCustomerFrustration  Field = "customer_frustration"
	FieldResolutionConfidence Field = "resolution_confidence"
	FieldPendingParty         Field = "pending_party"
	FieldPendingSince         Field = "pending_since"
	FieldPrimaryIssue         Field = "primary_issue"
	FieldIssues               Field = "issues"
)

// Score ranges. Values outside are clamped on write.
const (
	MaxEscalationRisk       = 1.0
	MaxCustomerFrustration  = 5.0
	MaxResolutionConfidence = 1.0
)

var fields = map[Field]struct{}{
	FieldCategory: {}, FieldCategoryConfidence: {}, FieldCategorySource: {},
	FieldSentiment: {}, FieldEscalationRisk: {}, FieldCustomerFrustration: {},
	FieldResolutionConfidence: {}, FieldPendingParty: {}, FieldPendingSince: {},
	FieldPrimaryIssue: {}, FieldIssues: {},
}

func ParseField(s string) (Field, error) {
	f := Field(s)
	if _, ok := fields[f]; !ok {
		return "", fmt.Errorf("%q: %w", s, ErrUnknownField)
	}
	return f, nil
}

// SetField writes one field, creating a default record when none exists.
// Only an unknown field or a value of the wrong shape is an error; nothing
// is written in that case.
func (c *Cache) SetField(id int64, f Field, value any) error {
	if _, ok := fields[f]; !ok {
		return fmt.Errorf("%q: %w", f, ErrUnknownField)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.recordLocked(id)
	if err := applyField(&rec, f, value); err != nil {
		return err
	}
	rec.AnalyzedAt = c.stamp()
	c.tickets[id] = rec
	c.metrics.RecordCacheOp(storeTickets, "set_field")
	c.saveTicketsLocked()
	return nil
}

// BulkSet writes the same field for many tickets with a single disk write.
// Values are validated up front; one bad value rejects the whole batch.
func (c *Cache) BulkSet(values map[int64]any, f Field) error {
	if _, ok := fields[f]; !ok {
		return fmt.Errorf("%q: %w", f, ErrUnknownField)
	}
	if len(values) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	staged := make(map[int64]models.TicketIntelligence, len(values))
	for id, v := range values {
		rec := c.recordLocked(id)
		if err := applyField(&rec, f, v); err != nil {
			return fmt.Errorf("ticket %d: %w", id, err)
		}
		staged[id] = rec
	}
	at := c.stamp()
	for id, rec := range staged {
		rec.AnalyzedAt = at
		c.tickets[id] = rec
	}
	c.metrics.RecordCacheOp(storeTickets, "bulk_set")
	c.saveTicketsLocked()
	return nil
}

// SetCategory writes category, confidence and source together.
func (c *Cache) SetCategory(id int64, category string, confidence float64, source models.CategorySource) error {
	if !source.Valid() {
		return fmt.Errorf("category_source %q: %w", source, ErrInvalidValue)
	}
	c.Update(id, func(rec *models.TicketIntelligence) {
		rec.Category = category
		rec.CategoryConfidence = clamp(confidence, 0, 1)
		rec.CategorySource = source
	})
	return nil
}

// SetPendingParty writes the party and, when since is non-zero, the time
// the ticket started waiting.
func (c *Cache) SetPendingParty(id int64, party models.PendingParty, since time.Time) error {
	if !party.Valid() {
		return fmt.Errorf("pending_party %q: %w", party, ErrInvalidValue)
	}
	c.Update(id, func(rec *models.TicketIntelligence) {
		rec.PendingParty = party
		rec.PendingSince = ""
		if !since.IsZero() {
			rec.PendingSince = since.UTC().Format(time.RFC3339)
		}
	})
	return nil
}

// BulkSetCategories assigns categories from one source in a single write.
// Confidence is left as is.
func (c *Cache) BulkSetCategories(categories map[int64]string, source models.CategorySource) error {
	if !source.Valid() {
		return fmt.Errorf("category_source %q: %w", source, ErrInvalidValue)
	}
	if len(categories) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.stamp()
	for id, name := range categories {
		rec := c.recordLocked(id)
		rec.Category = name
		rec.CategorySource = source
		rec.AnalyzedAt = at
		c.tickets[id] = rec
	}
	c.metrics.RecordCacheOp(storeTickets, "bulk_set")
	c.saveTicketsLocked()
	return nil
}

func applyField(rec *models.TicketIntelligence, f Field, value any) error {
	switch f {
	case FieldCategory, FieldSentiment, FieldPrimaryIssue:
		s, ok := toString(value)
		if !ok {
			return invalid(f, value)
		}
		switch f {
		case FieldCategory:
			rec.Category = s
		case FieldSentiment:
			rec.Sentiment = s
		default:
			rec.PrimaryIssue = s
		}
	case FieldCategoryConfidence, FieldEscalationRisk, FieldCustomerFrustration, FieldResolutionConfidence:
		v, ok := toFloat(value)
		if !ok {
			return invalid(f, value)
		}
		switch f {
		case FieldCategoryConfidence:
			rec.CategoryConfidence = clamp(v, 0, 1)
		case FieldEscalationRisk:
			rec.EscalationRisk = clamp(v, 0, MaxEscalationRisk)
		case FieldCustomerFrustration:
			rec.CustomerFrustration = clamp(v, 0, MaxCustomerFrustration)
		default:
			rec.ResolutionConfidence = clamp(v, 0, MaxResolutionConfidence)
		}
	case FieldCategorySource:
		s, ok := toString(value)
		if !ok || !models.CategorySource(s).Valid() {
			return invalid(f, value)
		}
		rec.CategorySource = models.CategorySource(s)
	case FieldPendingParty:
		s, ok := toString(value)
		if !ok || !models.PendingParty(s).Valid() {
			return invalid(f, value)
		}
		rec.PendingParty = models.PendingParty(s)
	case FieldPendingSince:
		switch v := value.(type) {
		case time.Time:
			rec.PendingSince = ""
			if !v.IsZero() {
				rec.PendingSince = v.UTC().Format(time.RFC3339)
			}
		case string:
			if v != "" {
				if _, err := time.Parse(time.RFC3339Nano, v); err != nil {
					return invalid(f, value)
				}
			}
			rec.PendingSince = v
		default:
			return invalid(f, value)
		}
	case FieldIssues:
		issues, ok := toStrings(value)
		if !ok {
			return invalid(f, value)
		}
		rec.Issues = issues
		rec.IssueCount = len(issues)
		if len(issues) > 0 {
			rec.PrimaryIssue = issues[0]
		}
	default:
		return fmt.Errorf("%q: %w", f, ErrUnknownField)
	}
	return nil
}

func invalid(f Field, value any) error {
	return fmt.Errorf("%s=%v (%T): %w", f, value, value, ErrInvalidValue)
}

func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case models.CategorySource:
		return string(s), true
	case models.PendingParty:
		return string(s), true
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toStrings(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return append([]string{}, s...), true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// sanitize repairs enum and range violations in records read from disk or
// handed to Set. An empty source or party means unknown and is kept as is.
func sanitize(rec *models.TicketIntelligence) {
	if rec.CategorySource != "" && !rec.CategorySource.Valid() {
		rec.CategorySource = models.SourceUnknown
	}
	if rec.PendingParty != "" && !rec.PendingParty.Valid() {
		rec.PendingParty = models.PendingUnknown
	}
	rec.CategoryConfidence = clamp(rec.CategoryConfidence, 0, 1)
	rec.EscalationRisk = clamp(rec.EscalationRisk, 0, MaxEscalationRisk)
	rec.CustomerFrustration = clamp(rec.CustomerFrustration, 0, MaxCustomerFrustration)
	rec.ResolutionConfidence = clamp(rec.ResolutionConfidence, 0, MaxResolutionConfidence)
}
