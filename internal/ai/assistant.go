package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sahaib/ftex/internal/models"
)

const (
	defaultBatchSize = 25
	promptAttempts   = 3
	subjectChars     = 100
	descriptionChars = 150
)

var (
	jsonObjectExpr = regexp.MustCompile(`(?s)\{[^{}]*\}`)
	lineExpr       = regexp.MustCompile(`(\d+)["\s:>\-]+([A-Za-z/\s]+)`)
)

// AssistantCategorizer asks an Assistant to place tickets into one of
// Categories, BatchSize tickets per prompt.
type AssistantCategorizer struct {
	Assistant  Assistant
	Categories []string
	BatchSize  int
}

func (c AssistantCategorizer) Categorize(ctx context.Context, tickets []models.Ticket) (map[int64]string, error) {
	size := c.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	system := []ChatMessage{{Role: "system", Content: c.systemPrompt()}}
	out := map[int64]string{}
	for i := 0; i < len(tickets); i += size {
		end := min(i+size, len(tickets))
		batch := tickets[i:end]

		answer, err := c.ask(ctx, batchPrompt(batch), system)
		if err != nil {
			return out, fmt.Errorf("categorize batch at %d: %w", i, err)
		}
		for id, cat := range parseCategories(answer, batch) {
			out[id] = cat
		}
	}
	return out, nil
}

// ask retries until the answer carries a JSON object. A rate limit or a
// cancelled context ends the attempts at once.
func (c AssistantCategorizer) ask(ctx context.Context, prompt string, system []ChatMessage) (string, error) {
	var (
		fallback string
		err      error
	)
	for attempt := 0; attempt < promptAttempts; attempt++ {
		var answer string
		answer, err = c.Assistant.Ask(ctx, prompt, system)
		if err != nil {
			var rl RateLimitError
			if errors.As(err, &rl) || ctx.Err() != nil {
				return "", err
			}
			continue
		}
		if strings.Contains(answer, "{") {
			return answer, nil
		}
		if fallback == "" {
			fallback = answer
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", err
}

func (c AssistantCategorizer) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are a support ticket categorization expert.\n")
	sb.WriteString("Assign each ticket ONE category from this list:\n")
	for _, name := range c.Categories {
		sb.WriteString("- ")
		sb.WriteString(name)
		sb.WriteString("\n")
	}
	sb.WriteString("\nRespond ONLY with a JSON object mapping ticket id to category, like:\n")
	sb.WriteString(`{"123": "Bug Report", "456": "Configuration"}`)
	return sb.String()
}

func batchPrompt(batch []models.Ticket) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Categorize these %d support tickets:\n\n", len(batch))
	for _, t := range batch {
		fmt.Fprintf(&sb, "ID %d: %s\n", t.ID, promptField(t.Subject, subjectChars))
		if desc := promptField(t.Description, descriptionChars); desc != "" {
			fmt.Fprintf(&sb, "  Description: %s\n", desc)
		}
	}
	return sb.String()
}

func promptField(s string, n int) string {
	s = strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), `"`, "'")
	r := []rune(strings.TrimSpace(s))
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

// parseCategories reads the first flat JSON object in answer, then falls
// back to "<id>: <category>" lines when fewer than half the batch was
// placed. Ids outside the batch are ignored.
func parseCategories(answer string, batch []models.Ticket) map[int64]string {
	inBatch := make(map[int64]struct{}, len(batch))
	for _, t := range batch {
		inBatch[t.ID] = struct{}{}
	}
	out := map[int64]string{}
	if obj := jsonObjectExpr.FindString(answer); obj != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(obj), &parsed); err == nil {
			for k, v := range parsed {
				id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
				if err != nil {
					continue
				}
				name, ok := v.(string)
				if _, in := inBatch[id]; in && ok && strings.TrimSpace(name) != "" {
					out[id] = strings.TrimSpace(name)
				}
			}
		}
	}
	if len(out) >= len(batch)/2 && len(out) > 0 {
		return out
	}
	for _, line := range strings.Split(answer, "\n") {
		m := lineExpr.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		name := strings.Trim(strings.TrimSpace(m[2]), `"'`)
		if _, in := inBatch[id]; !in || name == "" {
			continue
		}
		if _, done := out[id]; !done {
			out[id] = name
		}
	}
	return out
}
