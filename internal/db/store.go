package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sahaib/ftex/internal/models"
)

const (
	RunStatusRunning  = "RUNNING"
	RunStatusFinished = "FINISHED"
	RunStatusFailed   = "FAILED"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS tickets (
	id                   BIGINT PRIMARY KEY,
	subject              TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	status               INT NOT NULL DEFAULT 0,
	priority             INT NOT NULL DEFAULT 0,
	category             TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ,
	updated_at           TIMESTAMPTZ,
	resolved_at          TIMESTAMPTZ,
	first_response_hours DOUBLE PRECISION,
	resolution_hours     DOUBLE PRECISION,
	responder_id         BIGINT NOT NULL DEFAULT 0,
	responder_name       TEXT NOT NULL DEFAULT '',
	company_name         TEXT NOT NULL DEFAULT '',
	entity_name          TEXT NOT NULL DEFAULT '',
	tags                 TEXT[] NOT NULL DEFAULT '{}',
	custom_fields        JSONB NOT NULL DEFAULT '{}',
	conversations        JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS runs (
	id          UUID PRIMARY KEY,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	summary     JSONB
);
`

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return err
}

const upsertTicket = `
INSERT INTO tickets (id, subject, description, status, priority, category, created_at, updated_at, resolved_at,
	first_response_hours, resolution_hours, responder_id, responder_name, company_name, entity_name, tags, custom_fields, conversations)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (id) DO UPDATE SET
	subject = EXCLUDED.subject,
	description = EXCLUDED.description,
	status = EXCLUDED.status,
	priority = EXCLUDED.priority,
	category = EXCLUDED.category,
	created_at = EXCLUDED.created_at,
	updated_at = EXCLUDED.updated_at,
	resolved_at = EXCLUDED.resolved_at,
	first_response_hours = EXCLUDED.first_response_hours,
	resolution_hours = EXCLUDED.resolution_hours,
	responder_id = EXCLUDED.responder_id,
	responder_name = EXCLUDED.responder_name,
	company_name = EXCLUDED.company_name,
	entity_name = EXCLUDED.entity_name,
	tags = EXCLUDED.tags,
	custom_fields = EXCLUDED.custom_fields,
	conversations = EXCLUDED.conversations
`

// UpsertTickets writes tickets in one transaction, replacing existing rows.
func (s *Store) UpsertTickets(ctx context.Context, tickets []models.Ticket) (int, error) {
	if len(tickets) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, t := range tickets {
		custom, err := json.Marshal(nonNilMap(t.CustomFields))
		if err != nil {
			return 0, fmt.Errorf("ticket %d custom fields: %w", t.ID, err)
		}
		convs, err := json.Marshal(nonNilMessages(t.Conversations))
		if err != nil {
			return 0, fmt.Errorf("ticket %d conversations: %w", t.ID, err)
		}
		tags := t.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(upsertTicket,
			t.ID, t.Subject, t.Description, t.Status, t.Priority, t.Category,
			nullTime(t.CreatedAt), nullTime(t.UpdatedAt), nullTime(t.ResolvedAt),
			t.FirstResponseHours, t.ResolutionHours,
			t.ResponderID, t.ResponderName, t.CompanyName, t.EntityName,
			tags, custom, convs,
		)
	}
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, err
	}
	return len(tickets), nil
}

const selectTickets = `
SELECT id, subject, description, status, priority, category, created_at, updated_at, resolved_at,
	first_response_hours, resolution_hours, responder_id, responder_name, company_name, entity_name,
	tags, custom_fields, conversations
FROM tickets`

// Tickets returns every stored ticket ordered by id.
func (s *Store) Tickets(ctx context.Context) ([]models.Ticket, error) {
	rows, err := s.Pool.Query(ctx, selectTickets+` ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Ticket(ctx context.Context, id int64) (models.Ticket, error) {
	t, err := scanTicket(s.Pool.QueryRow(ctx, selectTickets+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, fmt.Errorf("ticket %d: %w", id, models.ErrTicketNotFound)
	}
	return t, err
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var (
		t                          models.Ticket
		created, updated, resolved *time.Time
		custom, convs              []byte
	)
	err := row.Scan(
		&t.ID, &t.Subject, &t.Description, &t.Status, &t.Priority, &t.Category,
		&created, &updated, &resolved,
		&t.FirstResponseHours, &t.ResolutionHours,
		&t.ResponderID, &t.ResponderName, &t.CompanyName, &t.EntityName,
		&t.Tags, &custom, &convs,
	)
	if err != nil {
		return models.Ticket{}, err
	}
	t.CreatedAt = derefTime(created)
	t.UpdatedAt = derefTime(updated)
	t.ResolvedAt = derefTime(resolved)
	if err := json.Unmarshal(custom, &t.CustomFields); err != nil {
		return models.Ticket{}, fmt.Errorf("ticket %d custom fields: %w", t.ID, err)
	}
	if err := json.Unmarshal(convs, &t.Conversations); err != nil {
		return models.Ticket{}, fmt.Errorf("ticket %d conversations: %w", t.ID, err)
	}
	return t, nil
}

// Run is one row of the processing run log.
type Run struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Summary    json.RawMessage `json:"summary,omitempty"`
}

func (s *Store) CreateRun(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO runs (id, status, started_at) VALUES ($1::uuid, $2, NOW())`, id.String(), status)
	return err
}

func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status string, summary []byte) error {
	_, err := s.Pool.Exec(ctx, `UPDATE runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3::uuid`, status, summary, id.String())
	return err
}

// LatestRun returns the most recently started run, or pgx.ErrNoRows.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	var r Run
	var summary []byte
	err := s.Pool.QueryRow(ctx, `SELECT id::text, status, started_at, finished_at, summary FROM runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&r.ID, &r.Status, &r.StartedAt, &r.FinishedAt, &summary)
	if err != nil {
		return Run{}, err
	}
	if len(summary) > 0 {
		r.Summary = json.RawMessage(summary)
	}
	return r, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilMessages(m []models.Message) []models.Message {
	if m == nil {
		return []models.Message{}
	}
	return m
}
