package cache

import (
	"context"
	"sort"
	"strings"
	"time"
)

// EntryItem is one live entry in a report.
type EntryItem struct {
	Hash       string     `json:"hash"`
	Args       string     `json:"args,omitempty"`
	Value      string     `json:"value"`
	CacheTime  time.Time  `json:"cacheTime"`
	ExpireTime *time.Time `json:"expireTime,omitempty"` // nil means never
}

// EntryGroup is the live entries sharing an ID.
type EntryGroup struct {
	ID     string      `json:"id"`
	Remark string      `json:"remark,omitempty"`
	Items  []EntryItem `json:"items"`
}

// Entries lists live entries grouped by ID, keeping those whose ID,
// fingerprint or remark contains filter. Groups are sorted by ID and
// items by cache time.
func (c *Cache) Entries(ctx context.Context, filter string) ([]EntryGroup, error) {
	if c == nil {
		return nil, ErrNilCache
	}
	all, err := c.store.Entries(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	groups := make(map[string]*EntryGroup)
	for _, e := range all {
		if e.Expired(now) {
			continue
		}
		if filter != "" && !strings.Contains(e.ID, filter) &&
			!strings.Contains(e.Fingerprint, filter) && !strings.Contains(e.Remark, filter) {
			continue
		}
		g, ok := groups[e.ID]
		if !ok {
			g = &EntryGroup{ID: e.ID, Remark: e.Remark}
			groups[e.ID] = g
		}
		g.Items = append(g.Items, toItem(e))
	}

	out := make([]EntryGroup, 0, len(groups))
	for _, g := range groups {
		sort.SliceStable(g.Items, func(i, j int) bool {
			if g.Items[i].CacheTime.Equal(g.Items[j].CacheTime) {
				return g.Items[i].Hash < g.Items[j].Hash
			}
			return g.Items[i].CacheTime.Before(g.Items[j].CacheTime)
		})
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func toItem(e *Entry) EntryItem {
	item := EntryItem{
		Hash:      e.Fingerprint,
		Args:      e.Args,
		Value:     string(e.Value),
		CacheTime: e.CreatedAt,
	}
	if e.Empty {
		item.Value = "<empty>"
	}
	if !e.Never() {
		exp := e.ExpiresAt
		item.ExpireTime = &exp
	}
	return item
}
