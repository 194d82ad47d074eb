package cache

import (
	"sort"

	"github.com/sahaib/ftex/internal/models"
)

func (c *Cache) EntityProfile(name string) (models.EntityProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.metrics.RecordCacheOp(storeEntities, "get")
	p, ok := c.entities[name]
	if !ok {
		return models.EntityProfile{}, false
	}
	return p.Clone(), true
}

func (c *Cache) SetEntityProfile(name string, p models.EntityProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = p.Clone()
	p.EntityName = name
	p.HealthScore = clamp(p.HealthScore, 0, 100)
	p.UpdatedAt = c.stamp()
	c.entities[name] = p
	c.metrics.RecordCacheOp(storeEntities, "set")
	c.saveEntitiesLocked()
}

// ReplaceEntityProfiles swaps the whole profile set in one write. Profiles
// are rebuilt wholesale, never patched.
func (c *Cache) ReplaceEntityProfiles(profiles []models.EntityProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.stamp()
	next := make(map[string]models.EntityProfile, len(profiles))
	for _, p := range profiles {
		if p.EntityName == "" {
			continue
		}
		p = p.Clone()
		p.HealthScore = clamp(p.HealthScore, 0, 100)
		p.UpdatedAt = at
		next[p.EntityName] = p
	}
	c.entities = next
	c.metrics.RecordCacheOp(storeEntities, "replace")
	c.saveEntitiesLocked()
}

// EntityProfiles returns every profile ordered by name.
func (c *Cache) EntityProfiles() []models.EntityProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.EntityProfile, 0, len(c.entities))
	for _, p := range c.entities {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityName < out[j].EntityName })
	return out
}
