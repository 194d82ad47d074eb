package extract

import (
	"strings"

	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/thread"
)

const (
	ruleBaseConfidence = 0.5
	ruleHitConfidence  = 0.1
	ruleMaxConfidence  = 0.9
)

// Categorize picks the category with the most keyword hits in text. Ties go
// to the category listed first. ok is false when nothing matched.
func Categorize(text string, cats []config.Category) (string, float64, bool) {
	lower := strings.ToLower(text)
	best, bestHits := "", 0
	for _, c := range cats {
		hits := 0
		for _, kw := range c.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = c.Name, hits
		}
	}
	if bestHits == 0 {
		return "", 0, false
	}
	conf := ruleBaseConfidence + ruleHitConfidence*float64(bestHits-1)
	return best, min(conf, ruleMaxConfidence), true
}

// TicketText is the text the rule categorizer reads for a ticket: subject,
// description and every message body.
func TicketText(t models.Ticket, msgs []thread.Normalized) string {
	parts := []string{t.Subject, t.Description}
	if body := thread.Text(msgs, thread.All); body != "" {
		parts = append(parts, body)
	}
	return strings.Join(parts, "\n\n")
}
