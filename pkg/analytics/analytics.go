package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bitter-oolong/telepage/pkg/store"
)

// EntityKind names what a counter is attached to.
type EntityKind string

const (
	KindPage    EntityKind = "page"
	KindButton  EntityKind = "button"
	KindCommand EntityKind = "command"
)

// Metric names what is being counted.
type Metric string

const (
	MetricView  Metric = "view"
	MetricClick Metric = "click"
	MetricUse   Metric = "use"
)

const dayFormat = "2006-01-02"

type counterKey struct {
	Kind   EntityKind
	ID     string
	Metric Metric
	Day    string // UTC day bucket
}

// Row is one line of a summary: an entity, a metric and its count.
type Row struct {
	Kind   EntityKind `json:"kind"`
	ID     string     `json:"id"`
	Metric Metric     `json:"metric"`
	Count  int64      `json:"count"`
}

type persistedRow struct {
	Kind   EntityKind `json:"kind"`
	ID     string     `json:"id"`
	Metric Metric     `json:"metric"`
	Day    string     `json:"day"`
	Count  int64      `json:"count"`
}

type analyticsDocument struct {
	Counters []persistedRow `json:"counters"`
}

// Collector keeps monotonically increasing counters keyed by entity,
// metric and UTC day. Increments update memory immediately and are
// persisted write-behind through the flusher; a counter write failure is
// never surfaced to the interaction that caused it.
type Collector struct {
	mu       sync.Mutex
	counters map[counterKey]int64
	st       store.Store
	flusher  *store.Flusher
	now      func() time.Time
}

// NewCollector creates a collector backed by st. flusher may be nil in tests.
func NewCollector(st store.Store, flusher *store.Flusher) *Collector {
	return &Collector{
		counters: make(map[counterKey]int64),
		st:       st,
		flusher:  flusher,
		now:      time.Now,
	}
}

// Load reads persisted counters. An unparsable document is a fatal
// startup error.
func (c *Collector) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doc analyticsDocument
	found, err := store.LoadValue(c.st, store.DomainAnalytics, &doc)
	if err != nil {
		return fmt.Errorf("analytics document is unreadable: %w", err)
	}
	if !found {
		return nil
	}
	for _, row := range doc.Counters {
		if _, err := time.Parse(dayFormat, row.Day); err != nil {
			return fmt.Errorf("analytics document is inconsistent: bad day %q", row.Day)
		}
		c.counters[counterKey{row.Kind, row.ID, row.Metric, row.Day}] += row.Count
	}
	return nil
}

// RecordView counts a page view.
func (c *Collector) RecordView(pageID string) {
	c.increment(KindPage, pageID, MetricView)
}

// RecordClick counts a button click.
func (c *Collector) RecordClick(buttonID string) {
	c.increment(KindButton, buttonID, MetricClick)
}

// RecordCommandUse counts an internal command invocation.
func (c *Collector) RecordCommandUse(name string) {
	c.increment(KindCommand, name, MetricUse)
}

func (c *Collector) increment(kind EntityKind, id string, metric Metric) {
	day := c.now().UTC().Format(dayFormat)
	c.mu.Lock()
	c.counters[counterKey{kind, id, metric, day}]++
	c.mu.Unlock()
	if c.flusher != nil {
		c.flusher.MarkDirty(store.DomainAnalytics)
	}
}

// Count sums a counter across all day buckets.
func (c *Collector) Count(kind EntityKind, id string, metric Metric) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for k, v := range c.counters {
		if k.Kind == kind && k.ID == id && k.Metric == metric {
			total += v
		}
	}
	return total
}

// Summary aggregates counters into rows ordered by count descending, then
// by entity. A zero since means all time; otherwise only day buckets at or
// after since (UTC) are included.
func (c *Collector) Summary(since time.Time) []Row {
	var cutoff string
	if !since.IsZero() {
		cutoff = since.UTC().Format(dayFormat)
	}

	c.mu.Lock()
	agg := make(map[counterKey]int64)
	for k, v := range c.counters {
		if cutoff != "" && k.Day < cutoff {
			continue
		}
		agg[counterKey{k.Kind, k.ID, k.Metric, ""}] += v
	}
	c.mu.Unlock()

	rows := make([]Row, 0, len(agg))
	for k, v := range agg {
		rows = append(rows, Row{Kind: k.Kind, ID: k.ID, Metric: k.Metric, Count: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

// Reset clears all counters. The only operation allowed to decrease them.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.counters = make(map[counterKey]int64)
	c.mu.Unlock()
	if c.flusher != nil {
		c.flusher.MarkDirty(store.DomainAnalytics)
	}
}

// Export serializes the counters; registered as the flusher source.
func (c *Collector) Export() (json.RawMessage, error) {
	c.mu.Lock()
	rows := make([]persistedRow, 0, len(c.counters))
	for k, v := range c.counters {
		rows = append(rows, persistedRow{Kind: k.Kind, ID: k.ID, Metric: k.Metric, Day: k.Day, Count: v})
	}
	c.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Day != rows[j].Day {
			return rows[i].Day < rows[j].Day
		}
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind
		}
		if rows[i].ID != rows[j].ID {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].Metric < rows[j].Metric
	})
	return json.MarshalIndent(analyticsDocument{Counters: rows}, "", "  ")
}
