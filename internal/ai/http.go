package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/thread"
)

const maxThreadChars = 4000

// HTTPEnricher posts a ticket to an enrichment service at BaseURL+"/enrich".
type HTTPEnricher struct {
	BaseURL string
	Client  *http.Client
}

type requestBody struct {
	TicketID    string `json:"ticket_id"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Thread      string `json:"thread"`
	Status      int    `json:"status"`
	Priority    int    `json:"priority"`
}

type responseBody struct {
	Category             string   `json:"category"`
	CategoryConfidence   float64  `json:"category_confidence"`
	Sentiment            string   `json:"sentiment"`
	EscalationRisk       *float64 `json:"escalation_risk"`
	CustomerFrustration  *float64 `json:"customer_frustration"`
	ResolutionConfidence *float64 `json:"resolution_confidence"`
	ModelVersion         string   `json:"model_version"`
}

func (h HTTPEnricher) Enrich(ctx context.Context, t models.Ticket) (models.Enrichment, int64, error) {
	if h.Client == nil {
		h.Client = &http.Client{Timeout: 15 * time.Second}
	}

	text := thread.Text(thread.Normalize(t.Conversations), thread.All)
	if len(text) > maxThreadChars {
		cut := len(text) - maxThreadChars
		for cut < len(text) && !utf8.RuneStart(text[cut]) {
			cut++
		}
		text = text[cut:]
	}
	payload := requestBody{
		TicketID:    strconv.FormatInt(t.ID, 10),
		Subject:     t.Subject,
		Description: t.Description,
		Thread:      text,
		Status:      t.Status,
		Priority:    t.Priority,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return models.Enrichment{}, 0, err
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/enrich", bytes.NewReader(b))
	if err != nil {
		return models.Enrichment{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.Client.Do(req)
	if err != nil {
		return models.Enrichment{}, time.Since(start).Milliseconds(), err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Enrichment{}, time.Since(start).Milliseconds(), fmt.Errorf("enrichment service error: %s", resp.Status)
	}

	var r responseBody
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return models.Enrichment{}, time.Since(start).Milliseconds(), fmt.Errorf("decode enrichment response: %w", err)
	}

	e := models.Enrichment{
		TicketID:             t.ID,
		Category:             r.Category,
		CategoryConfidence:   r.CategoryConfidence,
		Sentiment:            r.Sentiment,
		EscalationRisk:       r.EscalationRisk,
		CustomerFrustration:  r.CustomerFrustration,
		ResolutionConfidence: r.ResolutionConfidence,
		ModelVersion:         r.ModelVersion,
	}
	return e, time.Since(start).Milliseconds(), nil
}
