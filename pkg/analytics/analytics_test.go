package analytics

import (
	"testing"
	"time"

	"github.com/bitter-oolong/telepage/pkg/store"
)

func newTestCollector(t *testing.T) (*Collector, store.Store) {
	t.Helper()
	st := store.NewFileStore(t.TempDir())
	return NewCollector(st, nil), st
}

func TestRepeatedRecordsAccumulate(t *testing.T) {
	c, _ := newTestCollector(t)

	for i := 0; i < 5; i++ {
		c.RecordView("main")
	}
	c.RecordClick("btn_1")
	c.RecordClick("btn_1")
	c.RecordCommandUse("show_analytics")

	if got := c.Count(KindPage, "main", MetricView); got != 5 {
		t.Fatalf("expected 5 views, got %d", got)
	}
	if got := c.Count(KindButton, "btn_1", MetricClick); got != 2 {
		t.Fatalf("expected 2 clicks, got %d", got)
	}
	if got := c.Count(KindCommand, "show_analytics", MetricUse); got != 1 {
		t.Fatalf("expected 1 use, got %d", got)
	}
}

func TestCountSpansDayBuckets(t *testing.T) {
	c, _ := newTestCollector(t)
	day1 := time.Date(2026, 8, 1, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute) // crosses into the next UTC day

	c.now = func() time.Time { return day1 }
	c.RecordView("main")
	c.now = func() time.Time { return day2 }
	c.RecordView("main")

	if got := c.Count(KindPage, "main", MetricView); got != 2 {
		t.Fatalf("count should span days, got %d", got)
	}
}

func TestSummarySinceFilter(t *testing.T) {
	c, _ := newTestCollector(t)
	old := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	c.now = func() time.Time { return old }
	c.RecordView("archive")
	c.RecordView("archive")
	c.now = func() time.Time { return recent }
	c.RecordView("fresh")

	all := c.Summary(time.Time{})
	if len(all) != 2 {
		t.Fatalf("all-time summary should have 2 rows, got %+v", all)
	}
	// Ordered by count descending.
	if all[0].ID != "archive" || all[0].Count != 2 {
		t.Fatalf("unexpected first row: %+v", all[0])
	}

	since := c.Summary(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if len(since) != 1 || since[0].ID != "fresh" || since[0].Count != 1 {
		t.Fatalf("since filter wrong: %+v", since)
	}
}

func TestResetClearsCounters(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordView("main")
	c.Reset()
	if got := c.Count(KindPage, "main", MetricView); got != 0 {
		t.Fatalf("reset did not clear, got %d", got)
	}
}

func TestExportLoadRoundTrip(t *testing.T) {
	c, st := newTestCollector(t)
	c.now = func() time.Time { return time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC) }
	c.RecordView("main")
	c.RecordView("main")
	c.RecordClick("btn_1")

	doc, err := c.Export()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if err := st.Save(store.DomainAnalytics, doc); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	c2 := NewCollector(st, nil)
	if err := c2.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := c2.Count(KindPage, "main", MetricView); got != 2 {
		t.Fatalf("views lost across reload: %d", got)
	}
	if got := c2.Count(KindButton, "btn_1", MetricClick); got != 1 {
		t.Fatalf("clicks lost across reload: %d", got)
	}
}

func TestLoadRejectsBadDay(t *testing.T) {
	st := store.NewFileStore(t.TempDir())
	bad := []byte(`{"counters":[{"kind":"page","id":"x","metric":"view","day":"not-a-day","count":1}]}`)
	if err := st.Save(store.DomainAnalytics, bad); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	c := NewCollector(st, nil)
	if err := c.Load(); err == nil {
		t.Fatalf("expected load to fail on a bad day bucket")
	}
}
