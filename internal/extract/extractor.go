// Package extract mines issues, decisions, commitments, entities, products
// and action items out of a normalized ticket thread with fixed pattern
// batteries. Extraction is deterministic and never fails; a pattern that
// finds nothing contributes an empty list.
package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/thread"
)

const (
	commitmentContext = 50
	optionDescRunes   = 50

	IssueStatusOpen = "open"
	MadeByAgent     = "agent"
)

// Facts is the raw extraction result for one thread.
type Facts struct {
	Issues           []models.Issue
	Decisions        []models.Decision
	Commitments      []models.Commitment
	Entities         []string
	Products         []string
	Actions          []string
	OpenActions      []string
	Options          []string
	PendingDecisions []string
}

func emptyFacts() Facts {
	return Facts{
		Issues:           []models.Issue{},
		Decisions:        []models.Decision{},
		Commitments:      []models.Commitment{},
		Entities:         []string{},
		Products:         []string{},
		Actions:          []string{},
		OpenActions:      []string{},
		Options:          []string{},
		PendingDecisions: []string{},
	}
}

type Extractor struct {
	Issues      PatternSet
	Decisions   PatternSet
	Commitments PatternSet
	Actions     PatternSet
	Entities    PatternSet

	resolutionWords    []string
	entityField        string
	entityCustomFields []string
	entityTagPrefix    string
	productField       string
	productTagPrefix   string
	subjectSeparator   string
}

type Option func(*options)

type options struct {
	provider *config.Provider
	log      zerolog.Logger
}

// WithProvider applies settings: pattern overrides (appended after the
// built-in batteries), resolution keywords and metadata field names.
func WithProvider(p *config.Provider) Option {
	return func(o *options) { o.provider = p }
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func New(opts ...Option) *Extractor {
	o := options{log: zerolog.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	p := o.provider

	e := &Extractor{
		Issues:      defaultIssuePatterns(),
		Decisions:   defaultDecisionPatterns(),
		Commitments: defaultCommitmentPatterns(),
		Actions:     defaultActionPatterns(),
		Entities:    defaultEntityPatterns(),

		resolutionWords:    p.StringSlice("extraction.resolution_keywords", []string{"done", "completed", "resolved", "finished", "closed"}),
		entityField:        p.String("industry.entity_field", "entity_name"),
		entityCustomFields: p.StringSlice("industry.entity_custom_fields", []string{"cf_vesselname"}),
		entityTagPrefix:    p.String("extraction.entity_tag_prefix", "entity:"),
		productField:       p.String("extraction.product_custom_field", "cf_products"),
		productTagPrefix:   p.String("extraction.product_tag_prefix", "product:"),
		subjectSeparator:   p.String("extraction.subject_separator", "|"),
	}

	e.Issues = append(e.Issues, compileOverrides(o.log, "issue", p.StringSlice("extraction.issue_patterns", nil),
		Pattern{Confidence: ConfidenceKeyword, MinLength: 11, Limit: 3})...)
	e.Decisions = append(e.Decisions, compileOverrides(o.log, "decision", p.StringSlice("extraction.decision_patterns", nil),
		Pattern{Confidence: 1, MinLength: 10})...)
	e.Commitments = append(e.Commitments, compileOverrides(o.log, "commitment", p.StringSlice("extraction.commitment_patterns", nil),
		Pattern{Confidence: 1, MinLength: 10})...)
	e.Actions = append(e.Actions, compileOverrides(o.log, "action", p.StringSlice("extraction.action_patterns", nil),
		Pattern{Confidence: 1, MinLength: 11, Limit: 5})...)
	e.Entities = append(e.Entities, compileOverrides(o.log, "entity", p.StringSlice("extraction.entity_patterns", nil),
		Pattern{Confidence: 1, MinLength: 5, Limit: 10})...)
	return e
}

// Extract runs every battery over the thread. Issues, options, pending
// decisions, entities and actions read the whole thread; decisions and
// commitments read agent text only.
func (e *Extractor) Extract(t models.Ticket, msgs []thread.Normalized) Facts {
	facts := emptyFacts()
	if len(msgs) == 0 {
		return facts
	}
	all := thread.Text(msgs, thread.All)
	agent := thread.Text(msgs, thread.AgentOnly)

	facts.Issues = e.extractIssues(all)
	facts.Decisions = e.extractDecisions(agent)
	facts.Options = extractOptions(all)
	facts.PendingDecisions = extractPendingDecisions(all)
	facts.Commitments = e.extractCommitments(agent)
	facts.Entities = e.extractEntities(all, t)
	facts.Products = e.extractProducts(t)
	facts.Actions = e.extractActions(all)
	facts.OpenActions = e.openActions(facts.Actions, all)
	return facts
}

func (e *Extractor) extractIssues(text string) []models.Issue {
	out := []models.Issue{}
	seen := map[string]struct{}{}
	for _, p := range e.Issues {
		for _, m := range p.find(text) {
			title := truncate(m.value, maxTitleRunes)
			if !markSeen(seen, title) {
				continue
			}
			out = append(out, models.Issue{
				Title:      title,
				Confidence: clamp01(p.Confidence),
				Status:     IssueStatusOpen,
			})
			if len(out) == models.MaxIssues {
				return out
			}
		}
	}
	return out
}

func (e *Extractor) extractDecisions(text string) []models.Decision {
	out := []models.Decision{}
	seen := map[string]struct{}{}
	for _, p := range e.Decisions {
		for _, m := range p.find(text) {
			choice := truncate(m.value, maxTitleRunes)
			if !markSeen(seen, choice) {
				continue
			}
			out = append(out, models.Decision{Topic: "Decision", Choice: choice, MadeBy: MadeByAgent})
			if len(out) == models.MaxDecisions {
				return out
			}
		}
	}
	return out
}

func (e *Extractor) extractCommitments(text string) []models.Commitment {
	out := []models.Commitment{}
	seen := map[string]struct{}{}
	for _, p := range e.Commitments {
		for _, m := range p.find(text) {
			what := truncate(m.value, maxTitleRunes)
			if !markSeen(seen, what) {
				continue
			}
			out = append(out, models.Commitment{
				What:    what,
				Context: surrounding(text, m.start, m.end, commitmentContext),
				ByWhom:  MadeByAgent,
			})
			if len(out) == models.MaxCommitments {
				return out
			}
		}
	}
	return out
}

func (e *Extractor) extractActions(text string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, p := range e.Actions {
		for _, m := range p.find(text) {
			action := truncate(m.value, maxTitleRunes)
			if !markSeen(seen, action) {
				continue
			}
			out = append(out, action)
			if len(out) == models.MaxActions {
				return out
			}
		}
	}
	return out
}

// openActions keeps every action unless a resolution keyword appears
// anywhere in the thread, in which case all of them count as closed. This
// is a coarse heuristic and produces false negatives on long threads.
func (e *Extractor) openActions(actions []string, text string) []string {
	lower := strings.ToLower(text)
	for _, w := range e.resolutionWords {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return []string{}
		}
	}
	return append([]string{}, actions...)
}

func (e *Extractor) extractEntities(text string, t models.Ticket) []string {
	var c collector
	c.add(t.EntityName)
	if e.entityField != "" && e.entityField != "entity_name" {
		c.add(t.CustomString(e.entityField))
	}
	for _, key := range e.entityCustomFields {
		c.add(t.CustomString(key))
	}
	for _, tag := range t.Tags {
		if e.entityTagPrefix != "" && strings.HasPrefix(tag, e.entityTagPrefix) {
			c.add(strings.TrimPrefix(tag, e.entityTagPrefix))
		}
	}
	for _, p := range e.Entities {
		for _, m := range p.find(text) {
			c.add(m.value)
		}
	}
	return c.take(models.MaxEntities)
}

func (e *Extractor) extractProducts(t models.Ticket) []string {
	var c collector
	c.add(t.CustomString(e.productField))
	if e.subjectSeparator != "" {
		if parts := strings.Split(t.Subject, e.subjectSeparator); len(parts) > 1 {
			c.add(parts[0])
		}
	}
	for _, tag := range t.Tags {
		if e.productTagPrefix != "" && strings.HasPrefix(tag, e.productTagPrefix) {
			c.add(strings.TrimPrefix(tag, e.productTagPrefix))
		}
	}
	return c.take(models.MaxProducts)
}

func extractOptions(text string) []string {
	out := []string{}
	for _, loc := range optionExpr.FindAllStringSubmatch(text, -1) {
		desc := strings.TrimSpace(loc[2])
		if desc == "" {
			continue
		}
		out = append(out, "Option "+loc[1]+": "+truncate(desc, optionDescRunes))
		if len(out) == models.MaxOptions {
			break
		}
	}
	return out
}

func extractPendingDecisions(text string) []string {
	out := []string{}
	for _, re := range pendingDecisionExprs {
		for _, m := range re.FindAllString(text, -1) {
			out = append(out, m)
			if len(out) == models.MaxPendingDecisions {
				return out
			}
		}
	}
	return out
}

// collector keeps first-seen order and drops case-insensitive duplicates.
type collector struct {
	items []string
	seen  map[string]struct{}
}

func (c *collector) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if c.seen == nil {
		c.seen = map[string]struct{}{}
	}
	if !markSeen(c.seen, v) {
		return
	}
	c.items = append(c.items, v)
}

func (c *collector) take(limit int) []string {
	if len(c.items) > limit {
		return c.items[:limit]
	}
	if c.items == nil {
		return []string{}
	}
	return c.items
}

// DedupKey is the normalized form used for case-insensitive deduplication.
func DedupKey(s string) string {
	return truncate(strings.Join(strings.Fields(strings.ToLower(s)), " "), maxTitleRunes)
}

func markSeen(seen map[string]struct{}, v string) bool {
	key := DedupKey(v)
	if _, ok := seen[key]; ok {
		return false
	}
	seen[key] = struct{}{}
	return true
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// surrounding returns up to n bytes of text either side of [start,end),
// widened to rune boundaries.
func surrounding(text string, start, end, n int) string {
	from := max(0, start-n)
	for from > 0 && !utf8.RuneStart(text[from]) {
		from--
	}
	to := min(len(text), end+n)
	for to < len(text) && !utf8.RuneStart(text[to]) {
		to++
	}
	return strings.TrimSpace(text[from:to])
}
