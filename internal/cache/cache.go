// Package cache keeps derived ticket intelligence and entity profiles in
// memory and mirrors every mutation to disk before returning.
//
// The in-memory copy is authoritative for the process lifetime. A failed
// write is logged and counted but never rolls back memory; the next
// successful write brings the files back in line.
package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahaib/ftex/internal/models"
	"github.com/sahaib/ftex/internal/observability"
	"github.com/sahaib/ftex/internal/persist"
	"github.com/sahaib/ftex/internal/utils"
)

const (
	TicketsFile  = "ticket_intelligence.json"
	EntitiesFile = "entity_profiles.json"
	MetaFile     = "cache_meta.json"

	storeTickets  = "tickets"
	storeEntities = "entities"
	storeMeta     = "meta"
)

type meta struct {
	LastUpdated string `json:"last_updated,omitempty"`
}

// Cache is safe for concurrent use. Reads take the read lock, mutations the
// write lock, each for the full operation including the disk write.
type Cache struct {
	mu sync.RWMutex

	dir      string
	tickets  map[int64]models.TicketIntelligence
	entities map[string]models.EntityProfile
	meta     meta

	ticketsFile  persist.File
	entitiesFile persist.File
	metaFile     persist.File

	log      zerolog.Logger
	now      func() time.Time
	metrics  *observability.Metrics
	compress persist.Compression
}

type Option func(*Cache)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithCompression(comp persist.Compression) Option {
	return func(c *Cache) { c.compress = comp }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Open loads the cache from dir. It never fails: unreadable or corrupt files
// are logged and the affected store starts empty.
func Open(dir string, opts ...Option) *Cache {
	c := &Cache{
		dir:      dir,
		tickets:  map[int64]models.TicketIntelligence{},
		entities: map[string]models.EntityProfile{},
		log:      zerolog.Nop(),
		now:      time.Now,
		compress: persist.CompressionNone,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ticketsFile = persist.File{Path: filepath.Join(dir, TicketsFile), Compression: c.compress, Now: c.now}
	c.entitiesFile = persist.File{Path: filepath.Join(dir, EntitiesFile), Compression: c.compress, Now: c.now}
	c.metaFile = persist.File{Path: filepath.Join(dir, MetaFile), Now: c.now}

	c.loadTickets()
	c.loadEntities()
	c.loadMeta()
	c.metrics.SetCacheRecords(storeTickets, len(c.tickets))
	c.metrics.SetCacheRecords(storeEntities, len(c.entities))
	return c
}

func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) stamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

func (c *Cache) Get(id int64) (models.TicketIntelligence, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.metrics.RecordCacheOp(storeTickets, "get")
	rec, ok := c.tickets[id]
	if !ok {
		return models.TicketIntelligence{}, false
	}
	return rec.Clone(), true
}

// Set replaces the record wholesale and stamps analyzed_at.
func (c *Cache) Set(id int64, rec models.TicketIntelligence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec = rec.Clone()
	rec.TicketID = id
	sanitize(&rec)
	rec.AnalyzedAt = c.stamp()
	c.tickets[id] = rec
	c.metrics.RecordCacheOp(storeTickets, "set")
	c.saveTicketsLocked()
}

// SetMany replaces several records wholesale with a single disk write.
func (c *Cache) SetMany(records []models.TicketIntelligence) {
	c.writeMany(records, nil, "set_many")
}

// MergeFunc reconciles a record about to be written with the one currently
// cached for the same ticket. It runs under the write lock, so cur reflects
// every write that landed before the merge.
type MergeFunc func(cur models.TicketIntelligence, next *models.TicketIntelligence)

// MergeMany writes records in a single disk write like SetMany, first
// passing each one through merge when a record is already cached.
func (c *Cache) MergeMany(records []models.TicketIntelligence, merge MergeFunc) {
	c.writeMany(records, merge, "merge_many")
}

func (c *Cache) writeMany(records []models.TicketIntelligence, merge MergeFunc, op string) {
	if len(records) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.stamp()
	for _, rec := range records {
		rec = rec.Clone()
		if cur, ok := c.tickets[rec.TicketID]; ok && merge != nil {
			merge(cur.Clone(), &rec)
		}
		sanitize(&rec)
		rec.AnalyzedAt = at
		c.tickets[rec.TicketID] = rec
	}
	c.metrics.RecordCacheOp(storeTickets, op)
	c.saveTicketsLocked()
}

// Update applies fn to the record for id, creating a default record when
// none exists, then stamps analyzed_at and persists.
func (c *Cache) Update(id int64, fn func(*models.TicketIntelligence)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.recordLocked(id)
	fn(&rec)
	rec.TicketID = id
	sanitize(&rec)
	rec.AnalyzedAt = c.stamp()
	c.tickets[id] = rec
	c.metrics.RecordCacheOp(storeTickets, "update")
	c.saveTicketsLocked()
}

// UpdateMany applies fn to the record of each id under one lock and one
// disk write. fn reports whether it changed the record; unchanged records
// keep their analyzed_at. Returns the number changed.
func (c *Cache) UpdateMany(ids []int64, fn func(*models.TicketIntelligence) bool) int {
	if len(ids) == 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.stamp()
	changed := 0
	for _, id := range ids {
		rec := c.recordLocked(id)
		if !fn(&rec) {
			continue
		}
		rec.TicketID = id
		sanitize(&rec)
		rec.AnalyzedAt = at
		c.tickets[id] = rec
		changed++
	}
	if changed > 0 {
		c.metrics.RecordCacheOp(storeTickets, "update_many")
		c.saveTicketsLocked()
	}
	return changed
}

func (c *Cache) recordLocked(id int64) models.TicketIntelligence {
	if rec, ok := c.tickets[id]; ok {
		return rec.Clone()
	}
	return models.NewTicketIntelligence(id)
}

func (c *Cache) Has(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tickets[id]
	return ok
}

// Invalidate drops the record for id. Returns false when nothing was cached.
func (c *Cache) Invalidate(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tickets[id]; !ok {
		return false
	}
	delete(c.tickets, id)
	c.metrics.RecordCacheOp(storeTickets, "invalidate")
	c.saveTicketsLocked()
	return true
}

// UncachedIDs returns the ids without a record, in input order.
func (c *Cache) UncachedIDs(ids []int64) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []int64{}
	for _, id := range ids {
		if _, ok := c.tickets[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// StaleIDs returns the ids that are absent, older than maxAge, or whose
// analyzed_at cannot be read.
func (c *Cache) StaleIDs(ids []int64, maxAge time.Duration) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	out := []int64{}
	for _, id := range ids {
		rec, ok := c.tickets[id]
		if !ok {
			out = append(out, id)
			continue
		}
		at, ok := rec.AnalyzedTime()
		if !ok || now.Sub(at) > maxAge {
			out = append(out, id)
		}
	}
	return out
}

func (c *Cache) All() map[int64]models.TicketIntelligence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]models.TicketIntelligence, len(c.tickets))
	for id, rec := range c.tickets {
		out[id] = rec.Clone()
	}
	return out
}

// DataHash fingerprints the ticket fields whose change invalidates cached
// facts: id, status, updated_at and conversation count.
func DataHash(t models.Ticket) string {
	updated := ""
	if !t.UpdatedAt.IsZero() {
		updated = t.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return utils.Fingerprint(
		strconv.FormatInt(t.ID, 10),
		strconv.Itoa(t.Status),
		updated,
		strconv.Itoa(len(t.Conversations)),
	)
}

func (c *Cache) DataHash(t models.Ticket) string {
	return DataHash(t)
}

// NeedsReanalysis is advisory: true when nothing is cached for the ticket
// or the cached fingerprint no longer matches.
func (c *Cache) NeedsReanalysis(t models.Ticket) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.tickets[t.ID]
	if !ok {
		return true
	}
	return rec.DataHash != DataHash(t)
}

func (c *Cache) Stats() models.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.CacheStats{
		TicketsCached:  len(c.tickets),
		EntitiesCached: len(c.entities),
		CacheDir:       c.dir,
		LastUpdated:    c.meta.LastUpdated,
	}
}

// ClearAll wipes memory and removes every cache file.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickets = map[int64]models.TicketIntelligence{}
	c.entities = map[string]models.EntityProfile{}
	c.meta = meta{}
	for _, f := range []persist.File{c.ticketsFile, c.entitiesFile, c.metaFile} {
		if err := f.Remove(); err != nil {
			c.log.Error().Err(err).Str("path", f.Path).Msg("failed to remove cache file")
		}
	}
	c.metrics.RecordCacheOp(storeTickets, "clear")
	c.metrics.SetCacheRecords(storeTickets, 0)
	c.metrics.SetCacheRecords(storeEntities, 0)
}

func (c *Cache) saveTicketsLocked() {
	records := make(map[string]models.TicketIntelligence, len(c.tickets))
	for id, rec := range c.tickets {
		records[strconv.FormatInt(id, 10)] = rec
	}
	c.save(storeTickets, c.ticketsFile, records)
	c.metrics.SetCacheRecords(storeTickets, len(c.tickets))
	c.saveMetaLocked()
}

func (c *Cache) saveEntitiesLocked() {
	c.save(storeEntities, c.entitiesFile, c.entities)
	c.metrics.SetCacheRecords(storeEntities, len(c.entities))
	c.saveMetaLocked()
}

func (c *Cache) saveMetaLocked() {
	c.meta.LastUpdated = c.stamp()
	c.save(storeMeta, c.metaFile, c.meta)
}

func (c *Cache) save(store string, f persist.File, records any) {
	start := time.Now()
	err := f.Save(records)
	c.metrics.RecordPersist(store, err, time.Since(start).Seconds())
	if err != nil {
		c.log.Error().Err(err).Str("store", store).Str("path", f.Path).Msg("cache write failed, keeping in-memory state")
	}
}

// load reads a store file. Absent files are silent; anything else that goes
// wrong is logged once and reported as not loaded.
func (c *Cache) load(store string, f persist.File) (persist.Document, bool) {
	doc, err := f.Load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Warn().Err(err).Str("store", store).Str("path", f.Path).Msg("cache file unreadable, starting empty")
			c.metrics.RecordLoadFailure(store)
		}
		return persist.Document{}, false
	}
	return doc, true
}

func (c *Cache) loadTickets() {
	doc, ok := c.load(storeTickets, c.ticketsFile)
	if !ok {
		return
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(doc.Records, &raw); err != nil {
		c.log.Warn().Err(err).Str("store", storeTickets).Str("path", c.ticketsFile.Path).Msg("cache file unreadable, starting empty")
		c.metrics.RecordLoadFailure(storeTickets)
		return
	}
	skipped := 0
	for key, body := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			skipped++
			continue
		}
		rec := models.NewTicketIntelligence(id)
		if err := json.Unmarshal(body, &rec); err != nil {
			skipped++
			continue
		}
		rec.TicketID = id
		sanitize(&rec)
		c.tickets[id] = rec
	}
	if skipped > 0 {
		c.log.Warn().Str("store", storeTickets).Int("skipped", skipped).Msg("dropped unreadable cache records")
	}
}

func (c *Cache) loadEntities() {
	doc, ok := c.load(storeEntities, c.entitiesFile)
	if !ok {
		return
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(doc.Records, &raw); err != nil {
		c.log.Warn().Err(err).Str("store", storeEntities).Str("path", c.entitiesFile.Path).Msg("cache file unreadable, starting empty")
		c.metrics.RecordLoadFailure(storeEntities)
		return
	}
	for name, body := range raw {
		p := models.NewEntityProfile(name)
		if err := json.Unmarshal(body, &p); err != nil {
			continue
		}
		p.EntityName = name
		p.HealthScore = clamp(p.HealthScore, 0, 100)
		c.entities[name] = p
	}
}

func (c *Cache) loadMeta() {
	doc, ok := c.load(storeMeta, c.metaFile)
	if !ok {
		return
	}
	_ = json.Unmarshal(doc.Records, &c.meta)
}
