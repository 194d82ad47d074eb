package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Confidence tiers for issue patterns.
const (
	ConfidenceNumbered = 0.9
	ConfidenceQuestion = 0.7
	ConfidenceKeyword  = 0.6
)

const maxTitleRunes = 100

// Pattern is one matcher in a fact battery. The captured value is the last
// non-empty submatch, or the whole match when the expression has no groups.
// Limit caps the raw matches considered from a single pattern (0 means no
// limit); of those, matches shorter than MinLength runes are dropped. Format,
// when set, rewrites the captured value.
type Pattern struct {
	Name       string
	Expr       *regexp.Regexp
	Confidence float64
	MinLength  int
	Limit      int
	Format     func(string) string
}

// PatternSet is applied in order; earlier patterns win deduplication.
type PatternSet []Pattern

type match struct {
	value      string
	start, end int
}

func (p Pattern) find(text string) []match {
	if p.Expr == nil || text == "" {
		return nil
	}
	locs := p.Expr.FindAllStringSubmatchIndex(text, -1)
	if p.Limit > 0 && len(locs) > p.Limit {
		locs = locs[:p.Limit]
	}
	out := make([]match, 0, len(locs))
	for _, loc := range locs {
		value := text[loc[0]:loc[1]]
		for g := len(loc)/2 - 1; g >= 1; g-- {
			if loc[2*g] >= 0 && loc[2*g+1] > loc[2*g] {
				value = text[loc[2*g]:loc[2*g+1]]
				break
			}
		}
		value = strings.TrimSpace(value)
		if value == "" || runeLen(value) < p.MinLength {
			continue
		}
		if p.Format != nil {
			value = p.Format(value)
		}
		out = append(out, match{value: value, start: loc[0], end: loc[1]})
	}
	return out
}

func mustPattern(name, expr string, confidence float64, minLength, limit int) Pattern {
	return Pattern{
		Name:       name,
		Expr:       regexp.MustCompile(expr),
		Confidence: confidence,
		MinLength:  minLength,
		Limit:      limit,
	}
}

func defaultIssuePatterns() PatternSet {
	return PatternSet{
		mustPattern("numbered", `(?m)^\s*\d+[.)]\s*(.+?)\s*$`, ConfidenceNumbered, 10, 0),
		mustPattern("question", `([^.!?]+\?)`, ConfidenceQuestion, 21, 5),
		mustPattern("keyword", `(?im)(?:issue|problem|error|bug|request)[\s:]+(.+?)(?:\.|$)`, ConfidenceKeyword, 11, 3),
		mustPattern("need", `(?im)(?:need|require|want)(?:s|ing)?\s+(.+?)(?:\.|$)`, ConfidenceKeyword, 11, 3),
	}
}

func defaultDecisionPatterns() PatternSet {
	return PatternSet{
		{
			Name:       "option",
			Expr:       regexp.MustCompile(`(?i)(?:option|choice)\s*(\d+)`),
			Confidence: 1,
			Format:     func(n string) string { return "Option " + n },
		},
		mustPattern("verdict", `(?im)(?:selected|chose|decided|approved|rejected)\s+(.+?)(?:\.|$)`, 1, 10, 0),
		mustPattern("intent", `(?im)(?:we will|we'll|going with)\s+(.+?)(?:\.|$)`, 1, 10, 0),
	}
}

func defaultCommitmentPatterns() PatternSet {
	return PatternSet{
		mustPattern("end_of_period", `(?i)(by\s+(?:the\s+)?end\s+of\s+(?:the\s+)?(?:month|week|day))`, 1, 0, 0),
		mustPattern("within", `(?i)(within\s+\d+\s+(?:hours?|days?|weeks?))`, 1, 0, 0),
		mustPattern("date", `(\d{1,2}[./]\d{1,2}[./]\d{2,4})`, 1, 0, 0),
		mustPattern("promise", `(?im)(?:we will|we'll|shall|expect to)\s+(.+?)(?:\.|$)`, 1, 10, 0),
	}
}

func defaultActionPatterns() PatternSet {
	return PatternSet{
		mustPattern("please", `(?im)(?:please|kindly)\s+(.+?)(?:\.|$)`, 1, 11, 5),
		mustPattern("request", `(?im)(?:request(?:ing)?|awaiting)\s+(.+?)(?:\.|$)`, 1, 11, 5),
		mustPattern("need_to", `(?im)(?:need(?:s|ed)?)\s+to\s+(.+?)(?:\.|$)`, 1, 11, 5),
	}
}

func defaultEntityPatterns() PatternSet {
	return PatternSet{
		mustPattern("caps", `\b([A-Z][A-Z\s]{3,}[A-Z])\b`, 1, 5, 10),
	}
}

var (
	optionExpr           = regexp.MustCompile(`(?im)option\s*(\d+)[:\s-]+(.+?)$`)
	pendingDecisionExprs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:please|kindly)\s+(?:confirm|decide|choose|select)`),
		regexp.MustCompile(`(?i)(?:awaiting|waiting for)\s+(?:your|their)\s+(?:decision|approval|confirmation)`),
	}
)

// compileOverrides turns configured expressions into patterns carrying the
// template's tier settings. Invalid expressions are logged once and skipped.
func compileOverrides(log zerolog.Logger, kind string, exprs []string, tmpl Pattern) PatternSet {
	var out PatternSet
	for i, raw := range exprs {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		re, err := regexp.Compile("(?im)" + raw)
		if err != nil {
			log.Warn().Err(err).Str("kind", kind).Str("pattern", raw).Msg("skipping invalid extraction pattern")
			continue
		}
		p := tmpl
		p.Name = kind + "_override_" + strconv.Itoa(i)
		p.Expr = re
		out = append(out, p)
	}
	return out
}
