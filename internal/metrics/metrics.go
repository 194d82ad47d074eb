// Package metrics owns the dataset-wide rollups: dashboard, per-agent,
// per-entity and AI coverage. Every Recompute walks the full ticket set and
// replaces all four records; nothing is patched incrementally.
package metrics

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/observability"
	"github.com/sahaib/ftex/internal/pending"
	"github.com/sahaib/ftex/internal/persist"
)

const (
	File = "dataset_metrics.json"

	storeMetrics = "metrics"

	maxTopCategories = 5
	maxTopIssues     = 5
	recentWindow     = 7 * 24 * time.Hour
)

// IntelligenceReader is the read-only view of the intelligence cache the
// aggregator needs.
type IntelligenceReader interface {
	Has(id int64) bool
	Get(id int64) (models.TicketIntelligence, bool)
}

type snapshot struct {
	Dashboard *models.DashboardMetrics       `json:"dashboard"`
	Agents    map[string]models.AgentMetrics  `json:"agents"`
	Entities  map[string]models.EntityMetrics `json:"entities"`
	AI        *models.AIMetrics               `json:"ai"`
}

// Store holds the latest rollups. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	dashboard *models.DashboardMetrics
	agents    map[int64]models.AgentMetrics
	entities  map[string]models.EntityMetrics
	ai        *models.AIMetrics
	computed  bool

	file    persist.File
	log     zerolog.Logger
	now     func() time.Time
	metrics *observability.Metrics
}

type Option func(*Store)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithCompression(comp persist.Compression) Option {
	return func(s *Store) { s.file.Compression = comp }
}

// NewStore loads the last persisted rollups from dir. Loaded records are
// served by the getters but IsValid stays false until Recompute runs.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		agents:   map[int64]models.AgentMetrics{},
		entities: map[string]models.EntityMetrics{},
		file:     persist.File{Path: filepath.Join(dir, File)},
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.file.Now = s.now
	s.load()
	return s
}

// Recompute rebuilds every rollup from tickets and persists the result. p
// and r may be nil; built-in thresholds apply and every ticket counts as
// unanalyzed. The write lock is held from the first read of r to the disk
// write, so overlapping recomputes land in call order.
func (s *Store) Recompute(tickets []models.Ticket, p *config.Provider, r IntelligenceReader) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := s.now().UTC()
	c := newComputation(tickets, p, r, now)

	dashboard := c.dashboard()
	agents := c.agents()
	entities := c.entities()
	ai := c.ai()

	s.dashboard = &dashboard
	s.agents = agents
	s.entities = entities
	s.ai = &ai
	s.computed = true
	s.saveLocked()
	s.metrics.RecordRecompute(time.Since(start).Seconds())
	s.log.Info().Int("tickets", len(tickets)).Int("agents", len(agents)).Int("entities", len(entities)).Msg("metrics recomputed")
}

func (s *Store) Dashboard() (models.DashboardMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dashboard == nil {
		return models.DashboardMetrics{}, false
	}
	d := *s.dashboard
	d.Categories = cloneCounts(d.Categories)
	return d, true
}

func (s *Store) Agents() map[int64]models.AgentMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]models.AgentMetrics, len(s.agents))
	for id, a := range s.agents {
		a.TopCategories = append([]models.CategoryCount{}, a.TopCategories...)
		out[id] = a
	}
	return out
}

func (s *Store) Agent(id int64) (models.AgentMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return models.AgentMetrics{}, false
	}
	a.TopCategories = append([]models.CategoryCount{}, a.TopCategories...)
	return a, true
}

func (s *Store) Entities() map[string]models.EntityMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.EntityMetrics, len(s.entities))
	for name, e := range s.entities {
		e.TopIssues = append([]string{}, e.TopIssues...)
		out[name] = e
	}
	return out
}

func (s *Store) Entity(name string) (models.EntityMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[name]
	if !ok {
		return models.EntityMetrics{}, false
	}
	e.TopIssues = append([]string{}, e.TopIssues...)
	return e, true
}

func (s *Store) AI() (models.AIMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ai == nil {
		return models.AIMetrics{}, false
	}
	a := *s.ai
	a.CategoryDistribution = cloneCounts(a.CategoryDistribution)
	return a, true
}

// IsValid reports whether Recompute has run in this process.
func (s *Store) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.computed
}

// Invalidate drops every rollup and removes the persisted file.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dashboard = nil
	s.agents = map[int64]models.AgentMetrics{}
	s.entities = map[string]models.EntityMetrics{}
	s.ai = nil
	s.computed = false
	if err := s.file.Remove(); err != nil {
		s.log.Error().Err(err).Str("path", s.file.Path).Msg("failed to remove metrics file")
	}
}

func (s *Store) saveLocked() {
	snap := snapshot{
		Dashboard: s.dashboard,
		Agents:    make(map[string]models.AgentMetrics, len(s.agents)),
		Entities:  s.entities,
		AI:        s.ai,
	}
	for id, a := range s.agents {
		snap.Agents[strconv.FormatInt(id, 10)] = a
	}
	start := time.Now()
	err := s.file.Save(snap)
	s.metrics.RecordPersist(storeMetrics, err, time.Since(start).Seconds())
	if err != nil {
		s.log.Error().Err(err).Str("store", storeMetrics).Str("path", s.file.Path).Msg("cache write failed, keeping in-memory state")
	}
}

func (s *Store) load() {
	doc, err := s.file.Load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("store", storeMetrics).Str("path", s.file.Path).Msg("cache file unreadable, starting empty")
			s.metrics.RecordLoadFailure(storeMetrics)
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(doc.Records, &snap); err != nil {
		s.log.Warn().Err(err).Str("store", storeMetrics).Str("path", s.file.Path).Msg("cache file unreadable, starting empty")
		s.metrics.RecordLoadFailure(storeMetrics)
		return
	}
	s.dashboard = snap.Dashboard
	s.ai = snap.AI
	for key, a := range snap.Agents {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		a.AgentID = id
		s.agents[id] = a
	}
	for name, e := range snap.Entities {
		e.EntityName = name
		s.entities[name] = e
	}
}

// EntityName groups a ticket under a named entity: the ticket's own entity
// name, then the configured entity field, then the entity custom fields,
// then the company name. Tickets matching none are "Unknown".
func EntityName(t models.Ticket, p *config.Provider) string {
	if name := strings.TrimSpace(t.EntityName); name != "" {
		return name
	}
	if field := p.String("industry.entity_field", "entity_name"); field != "entity_name" {
		if name := strings.TrimSpace(t.CustomString(field)); name != "" {
			return name
		}
	}
	for _, field := range p.StringSlice("industry.entity_custom_fields", []string{"cf_vesselname", "cf_company"}) {
		if name := strings.TrimSpace(t.CustomString(field)); name != "" {
			return name
		}
	}
	if name := strings.TrimSpace(t.CompanyName); name != "" {
		return name
	}
	return "Unknown"
}

type computation struct {
	tickets []models.Ticket
	p       *config.Provider
	intel   map[int64]models.TicketIntelligence
	parties map[int64]models.PendingParty
	now     time.Time

	firstResponseSLA float64
	highRisk         float64
	mediumRisk       float64
}

func newComputation(tickets []models.Ticket, p *config.Provider, r IntelligenceReader, now time.Time) *computation {
	c := &computation{
		tickets:          tickets,
		p:                p,
		intel:            make(map[int64]models.TicketIntelligence, len(tickets)),
		parties:          make(map[int64]models.PendingParty, len(tickets)),
		now:              now,
		firstResponseSLA: p.Float("sla.first_response_hours", 12),
		highRisk:         p.Float("metrics.high_risk", 0.7),
		mediumRisk:       p.Float("metrics.medium_risk", 0.3),
	}
	for _, t := range tickets {
		if r != nil {
			if rec, ok := r.Get(t.ID); ok {
				c.intel[t.ID] = rec
			}
		}
		// The thread is the source of truth for who acts next; a cached
		// party only stands in when there is no thread to read.
		party := pending.ForTicket(t)
		if rec, ok := c.intel[t.ID]; ok && len(t.Conversations) == 0 && rec.PendingParty != "" && rec.PendingParty != models.PendingUnknown {
			party = rec.PendingParty
		}
		c.parties[t.ID] = party
	}
	return c
}

func (c *computation) category(t models.Ticket, fallback string) string {
	if rec, ok := c.intel[t.ID]; ok && rec.Category != "" {
		return rec.Category
	}
	if t.Category != "" {
		return t.Category
	}
	return fallback
}

func (c *computation) dashboard() models.DashboardMetrics {
	d := models.DashboardMetrics{
		TotalTickets: len(c.tickets),
		Categories:   map[string]int{},
		ComputedAt:   c.now,
	}
	since := c.now.Add(-recentWindow)
	var frt, resolution []float64
	slaMet := 0
	for _, t := range c.tickets {
		switch t.Status {
		case models.StatusOpen:
			d.OpenTickets++
		case models.StatusPending:
			d.PendingTickets++
		case models.StatusResolved:
			d.ResolvedTickets++
		case models.StatusClosed:
			d.ClosedTickets++
		}
		switch c.parties[t.ID] {
		case models.PendingInternal:
			d.PendingInternal++
		case models.PendingExternal:
			d.PendingExternal++
		default:
			d.PendingUnknown++
		}
		switch t.Priority {
		case models.PriorityUrgent:
			d.PriorityUrgent++
		case models.PriorityHigh:
			d.PriorityHigh++
		case models.PriorityMedium:
			d.PriorityMedium++
		case models.PriorityLow:
			d.PriorityLow++
		}
		if h, ok := positive(t.FirstResponseHours); ok {
			frt = append(frt, h)
			if h <= c.firstResponseSLA {
				slaMet++
			}
		}
		if h, ok := positive(t.ResolutionHours); ok {
			resolution = append(resolution, h)
		}
		if !t.CreatedAt.IsZero() && !t.CreatedAt.Before(since) {
			d.TicketsCreated7d++
		}
		if t.IsResolved() && !t.ResolvedAt.IsZero() && !t.ResolvedAt.Before(since) {
			d.TicketsResolved7d++
		}
		d.Categories[c.category(t, "Uncategorized")]++
	}
	d.AvgFirstResponseHours = mean(frt)
	d.AvgResolutionHours = mean(resolution)
	if d.TotalTickets > 0 {
		d.SLAComplianceRate = float64(slaMet) / float64(d.TotalTickets)
	}
	return d
}

func (c *computation) agents() map[int64]models.AgentMetrics {
	byAgent := map[int64][]models.Ticket{}
	for _, t := range c.tickets {
		if t.ResponderID != 0 {
			byAgent[t.ResponderID] = append(byAgent[t.ResponderID], t)
		}
	}
	out := make(map[int64]models.AgentMetrics, len(byAgent))
	for id, tickets := range byAgent {
		a := models.AgentMetrics{AgentID: id, TotalTickets: len(tickets), ComputedAt: c.now}
		var frt, resolution []float64
		slaMet := 0
		categories := map[string]int{}
		for _, t := range tickets {
			if a.AgentName == "" {
				a.AgentName = t.ResponderName
			}
			switch {
			case t.IsOpen():
				a.OpenTickets++
				switch c.parties[t.ID] {
				case models.PendingInternal:
					a.PendingInternal++
				case models.PendingExternal:
					a.PendingExternal++
				}
			case t.IsResolved():
				a.ResolvedTickets++
			}
			if h, ok := positive(t.FirstResponseHours); ok {
				frt = append(frt, h)
				if h <= c.firstResponseSLA {
					slaMet++
				}
			}
			if h, ok := positive(t.ResolutionHours); ok {
				resolution = append(resolution, h)
			}
			categories[c.category(t, "Other")]++
		}
		a.AvgFirstResponseHours = mean(frt)
		a.AvgResolutionHours = mean(resolution)
		a.SLAComplianceRate = float64(slaMet) / float64(a.TotalTickets)
		a.CurrentPending = a.OpenTickets
		a.TopCategories = topCounts(categories, maxTopCategories)
		out[id] = a
	}
	return out
}

func (c *computation) entities() map[string]models.EntityMetrics {
	byEntity := map[string][]models.Ticket{}
	for _, t := range c.tickets {
		name := EntityName(t, c.p)
		byEntity[name] = append(byEntity[name], t)
	}
	out := make(map[string]models.EntityMetrics, len(byEntity))
	for name, tickets := range byEntity {
		e := models.EntityMetrics{EntityName: name, TotalTickets: len(tickets), ComputedAt: c.now}
		var resolution []float64
		issues := map[string]int{}
		for _, t := range tickets {
			switch {
			case t.IsOpen():
				e.OpenTickets++
				switch c.parties[t.ID] {
				case models.PendingInternal:
					e.PendingInternal++
				case models.PendingExternal:
					e.PendingExternal++
				}
			case t.IsResolved():
				e.ResolvedTickets++
			}
			if h, ok := positive(t.ResolutionHours); ok {
				resolution = append(resolution, h)
			}
			if rec, ok := c.intel[t.ID]; ok && rec.PrimaryIssue != "" {
				issues[rec.PrimaryIssue]++
			}
		}
		e.AvgResolutionHours = mean(resolution)
		e.HealthScore = Health(e.OpenTickets, e.TotalTickets, e.PendingInternal)
		e.TopIssues = []string{}
		for _, ic := range topCounts(issues, maxTopIssues) {
			e.TopIssues = append(e.TopIssues, ic.Name)
		}
		out[name] = e
	}
	return out
}

// Health is 100 - open_ratio*50 - pending_internal*5, floored at 0.
func Health(open, total, pendingInternal int) float64 {
	if total <= 0 {
		return 100
	}
	score := 100 - float64(open)/float64(total)*50 - float64(pendingInternal)*5
	if score < 0 {
		return 0
	}
	return score
}

func (c *computation) ai() models.AIMetrics {
	a := models.AIMetrics{CategoryDistribution: map[string]int{}, ComputedAt: c.now}
	for _, t := range c.tickets {
		rec, ok := c.intel[t.ID]
		if !ok {
			a.TotalUnanalyzed++
			continue
		}
		a.TotalAnalyzed++
		if rec.Category != "" {
			a.CategoryDistribution[rec.Category]++
		}
		switch strings.ToLower(rec.Sentiment) {
		case "positive":
			a.SentimentPositive++
		case "negative":
			a.SentimentNegative++
		case "neutral":
			a.SentimentNeutral++
		}
		switch {
		case rec.EscalationRisk > c.highRisk:
			a.HighRiskCount++
		case rec.EscalationRisk > c.mediumRisk:
			a.MediumRiskCount++
		default:
			a.LowRiskCount++
		}
		if rec.IssueCount > 0 {
			a.TotalIssuesFound += rec.IssueCount
		}
		if rec.IssueCount > 1 {
			a.TicketsWithMultiIssues++
		}
	}
	return a
}

func positive(h *float64) (float64, bool) {
	if h == nil || *h <= 0 {
		return 0, false
	}
	return *h, true
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// topCounts orders by count descending, then name, and keeps n.
func topCounts(counts map[string]int, n int) []models.CategoryCount {
	out := make([]models.CategoryCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, models.CategoryCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
