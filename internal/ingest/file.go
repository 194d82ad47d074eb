package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/thread"
)

// DefaultEntityField reads the entity from the company object.
const DefaultEntityField = "company.name"

// FileSource reads a JSON export from disk. The parsed set is kept until
// the file's size or modification time changes.
type FileSource struct {
	Path        string
	EntityField string
	Log         zerolog.Logger

	mu      sync.Mutex
	modTime time.Time
	size    int64
	tickets []models.Ticket
	byID    map[int64]int
}

func NewFileSource(path, entityField string, log zerolog.Logger) *FileSource {
	return &FileSource{Path: path, EntityField: entityField, Log: log}
}

func (f *FileSource) Tickets(ctx context.Context) ([]models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.refreshLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]models.Ticket, len(f.tickets))
	copy(out, f.tickets)
	return out, nil
}

func (f *FileSource) Ticket(ctx context.Context, id int64) (models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.refreshLocked(ctx); err != nil {
		return models.Ticket{}, err
	}
	i, ok := f.byID[id]
	if !ok {
		return models.Ticket{}, fmt.Errorf("ticket %d: %w", id, models.ErrTicketNotFound)
	}
	return f.tickets[i], nil
}

func (f *FileSource) refreshLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		return fmt.Errorf("stat tickets file: %w", err)
	}
	if f.tickets != nil && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return nil
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open tickets file: %w", err)
	}
	defer file.Close()

	start := time.Now()
	tickets, err := Parse(file, f.EntityField)
	if err != nil {
		return fmt.Errorf("parse %s: %w", f.Path, err)
	}
	f.tickets = tickets
	f.byID = make(map[int64]int, len(tickets))
	for i, t := range tickets {
		f.byID[t.ID] = i
	}
	f.modTime = info.ModTime()
	f.size = info.Size()
	f.Log.Info().Str("path", f.Path).Int("tickets", len(tickets)).Dur("elapsed", time.Since(start)).Msg("tickets loaded")
	return nil
}

type rawMessage struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"created_at"`
	Incoming  bool   `json:"incoming"`
	Private   bool   `json:"private"`
	UserID    int64  `json:"user_id"`
	BodyText  string `json:"body_text"`
	Body      string `json:"body"`
}

type rawTicket struct {
	ID              int64  `json:"id"`
	Subject         string `json:"subject"`
	Description     string `json:"description"`
	DescriptionText string `json:"description_text"`
	Status          int    `json:"status"`
	Priority        int    `json:"priority"`
	Type            string `json:"type"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
	Stats           struct {
		ResolvedAt string `json:"resolved_at"`
	} `json:"stats"`
	Company       json.RawMessage `json:"company"`
	ResponderID   *int64          `json:"responder_id"`
	ResponderName string          `json:"responder_name"`
	Conversations []rawMessage    `json:"conversations"`
	Tags          []string        `json:"tags"`
	CustomFields  map[string]any  `json:"custom_fields"`
}

// Parse reads an export holding a ticket array, or an object with the
// array under "tickets" or "data". entityField is either a custom field key
// or a dotted path into the raw record such as "company.name".
func Parse(r io.Reader, entityField string) ([]models.Ticket, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	items, err := ticketItems(data)
	if err != nil {
		return nil, err
	}
	out := make([]models.Ticket, 0, len(items))
	for i, item := range items {
		t, err := parseTicket(item, entityField)
		if err != nil {
			return nil, fmt.Errorf("ticket at index %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func ticketItems(data []byte) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	for _, key := range []string{"tickets", "data"} {
		if raw, ok := wrapper[key]; ok {
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			return items, nil
		}
	}
	return nil, nil
}

func parseTicket(item json.RawMessage, entityField string) (models.Ticket, error) {
	var raw rawTicket
	if err := json.Unmarshal(item, &raw); err != nil {
		return models.Ticket{}, err
	}
	description := raw.DescriptionText
	if strings.TrimSpace(description) == "" {
		description = CleanHTML(raw.Description)
	}
	t := models.Ticket{
		ID:            raw.ID,
		Subject:       strings.TrimSpace(raw.Subject),
		Description:   description,
		Status:        raw.Status,
		Priority:      raw.Priority,
		Category:      strings.TrimSpace(raw.Type),
		CompanyName:   companyName(raw.Company),
		ResponderName: raw.ResponderName,
		Tags:          raw.Tags,
		CustomFields:  raw.CustomFields,
		Conversations: make([]models.Message, 0, len(raw.Conversations)),
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.CustomFields == nil {
		t.CustomFields = map[string]any{}
	}
	if raw.ResponderID != nil {
		t.ResponderID = *raw.ResponderID
	}
	if ts, ok := thread.ParseTimestamp(raw.CreatedAt); ok {
		t.CreatedAt = ts
	}
	if ts, ok := thread.ParseTimestamp(raw.UpdatedAt); ok {
		t.UpdatedAt = ts
	}
	if ts, ok := thread.ParseTimestamp(raw.Stats.ResolvedAt); ok {
		t.ResolvedAt = ts
	}
	for _, m := range raw.Conversations {
		body := m.BodyText
		if strings.TrimSpace(body) == "" {
			body = CleanHTML(m.Body)
		}
		t.Conversations = append(t.Conversations, models.Message{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			Incoming:  m.Incoming,
			Private:   m.Private,
			UserID:    m.UserID,
			BodyText:  body,
		})
	}
	t.FirstResponseHours = firstResponseHours(t)
	if !t.CreatedAt.IsZero() && !t.ResolvedAt.IsZero() {
		h := hoursBetween(t.CreatedAt, t.ResolvedAt)
		t.ResolutionHours = &h
	}
	t.EntityName = entityName(item, raw.CustomFields, entityField)
	return t, nil
}

// firstResponseHours is the time from creation to the earliest dated public
// agent reply.
func firstResponseHours(t models.Ticket) *float64 {
	if t.CreatedAt.IsZero() {
		return nil
	}
	for _, m := range thread.Normalize(t.Conversations) {
		if m.Role != models.RoleAgentPublic || !m.HasTime {
			continue
		}
		h := hoursBetween(t.CreatedAt, m.Time)
		return &h
	}
	return nil
}

func hoursBetween(a, b time.Time) float64 {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return d.Hours()
}

func companyName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func entityName(item json.RawMessage, custom map[string]any, field string) string {
	if field == "" {
		field = DefaultEntityField
	}
	if !strings.Contains(field, ".") {
		return scalarString(custom[field])
	}
	var doc map[string]any
	if err := json.Unmarshal(item, &doc); err != nil {
		return ""
	}
	var cur any = doc
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[part]
	}
	return scalarString(cur)
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}
