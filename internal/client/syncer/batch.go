package syncer

import (
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/client/store"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
)

// tableGroup collapses the batch items of one table by entity id. The latest
// item for an id decides whether the entity is upserted or soft deleted, and
// every item of that id shares its outcome.
type tableGroup struct {
	items       map[string][]string
	latest      map[string]store.OutboxItem
	tombstoneAt map[string]time.Time
	upserts     []string
	deletes     []string
}

func group(batch []store.OutboxItem) map[models.TableName]*tableGroup {
	out := map[models.TableName]*tableGroup{}
	order := map[models.TableName][]string{}

	for _, it := range batch {
		g, ok := out[it.Table]
		if !ok {
			g = &tableGroup{
				items:       map[string][]string{},
				latest:      map[string]store.OutboxItem{},
				tombstoneAt: map[string]time.Time{},
			}
			out[it.Table] = g
		}

		entityID := it.ID
		var updatedAt time.Time
		if e, err := it.Entity(); err == nil {
			entityID = e.SyncMeta().ID
			updatedAt = e.SyncMeta().UpdatedAt
		}

		if _, seen := g.items[entityID]; !seen {
			order[it.Table] = append(order[it.Table], entityID)
		}
		g.items[entityID] = append(g.items[entityID], it.ID)
		g.latest[entityID] = it
		if it.Op == store.OpDelete {
			g.tombstoneAt[entityID] = updatedAt
		}
	}

	for table, g := range out {
		for _, entityID := range order[table] {
			if g.latest[entityID].Op == store.OpDelete {
				g.deletes = append(g.deletes, entityID)
			} else {
				g.upserts = append(g.upserts, entityID)
			}
		}
	}
	return out
}

func (g *tableGroup) fail(entityID string, failures map[string]error, err error) {
	for _, itemID := range g.items[entityID] {
		failures[itemID] = err
	}
}

func (g *tableGroup) failAll(failures map[string]error, err error) {
	for entityID := range g.items {
		g.fail(entityID, failures, err)
	}
}
