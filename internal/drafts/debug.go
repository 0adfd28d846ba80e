package drafts

import (
	"context"
	"sort"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/goph-drafts/internal/model"
)

// Debug exposes structural inspection and forced resets. Intended for tests
// and operator tooling only.
type Debug struct{ c *Coordinator }

// Debug returns the coordinator's debug surface.
func (c *Coordinator) Debug() Debug { return Debug{c: c} }

// RecordDump describes one draft record.
type RecordDump struct {
	Bucket     string `json:"bucket"`
	ItemID     string `json:"item_id"`
	ParentID   string `json:"parent_id,omitempty"`
	Saving     bool   `json:"saving"`
	Publishing bool   `json:"publishing"`
	Debouncing bool   `json:"debouncing"`
}

// Snapshot is a point-in-time copy of every coordinator map.
type Snapshot struct {
	Records       []RecordDump      `json:"records"`
	ParentIndex   map[string]string `json:"parent_index"`
	Ephemeral     []string          `json:"ephemeral"`
	Retiring      []string          `json:"retiring"`
	Pending       []string          `json:"pending"`
	Failed        []string          `json:"failed"`
	LastPublished map[string]string `json:"last_published"`
	Subscribers   int               `json:"subscribers"`
}

// Dump returns a Snapshot.
func (d Debug) Dump() Snapshot {
	c := d.c
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Records:       make([]RecordDump, 0, len(c.records)),
		ParentIndex:   make(map[string]string, len(c.parents)),
		Ephemeral:     idStrings(c.ephemeral),
		Retiring:      idStrings(c.retiring),
		LastPublished: make(map[string]string, len(c.lastPublished)),
		Subscribers:   len(c.subs),
	}
	for bucket, rec := range c.records {
		rd := RecordDump{
			Bucket:     bucket,
			ItemID:     rec.item.ID.String(),
			Saving:     rec.saving,
			Publishing: c.publishing[bucket],
		}
		if rec.parent != nil {
			rd.ParentID = rec.parent.ID.String()
		}
		if db, ok := c.debouncers[bucket]; ok {
			rd.Debouncing = db.Pending()
		}
		s.Records = append(s.Records, rd)
	}
	sort.Slice(s.Records, func(i, j int) bool { return s.Records[i].Bucket < s.Records[j].Bucket })
	for pid, bucket := range c.parents {
		s.ParentIndex[pid.String()] = bucket
	}
	for pid, id := range c.lastPublished {
		s.LastPublished[pid.String()] = id.String()
	}
	for bucket, ph := range c.phases {
		switch ph {
		case PhasePending:
			s.Pending = append(s.Pending, bucket)
		case PhaseFailed:
			s.Failed = append(s.Failed, bucket)
		}
	}
	sort.Strings(s.Pending)
	sort.Strings(s.Failed)
	return s
}

// Clear force-removes the bucket of key, or every bucket when key is empty,
// and makes a best-effort attempt to drop the underlying items from the store.
func (d Debug) Clear(ctx context.Context, key string) {
	c := d.c
	var (
		items []*model.ContentItem
		ds    []*debouncer
	)

	c.mu.Lock()
	buckets := make([]string, 0, len(c.records))
	if key != "" {
		buckets = append(buckets, BucketFor(key))
	} else {
		for b := range c.records {
			buckets = append(buckets, b)
		}
	}
	for _, b := range buckets {
		it, db := c.detachLocked(b)
		if it != nil {
			items = append(items, it)
		}
		if db != nil {
			ds = append(ds, db)
		}
	}
	if key == "" {
		for id, t := range c.retiring {
			t.Stop()
			delete(c.retiring, id)
		}
		clear(c.ephemeral)
		clear(c.phases)
		clear(c.lastPublished)
	}
	c.mu.Unlock()

	for _, db := range ds {
		db.Cancel()
	}

	var g errgroup.Group
	g.SetLimit(8)
	for _, it := range items {
		g.Go(func() error {
			if err := c.store.Remove(ctx, it, model.RemoveOptions{Drop: true}); err != nil {
				c.log.Warn("debug clear: remove failed", zap.String("item", it.ID.String()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	c.log.Debug("debug clear", zap.String("key", key), zap.Int("buckets", len(items)))
	c.notify()
}

func idStrings[V any](m map[uuid.UUID]V) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id.String())
	}
	sort.Strings(out)
	return out
}
