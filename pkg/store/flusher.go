package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bitter-oolong/telepage/pkg/alog"
)

// Source produces the current serialized document for a domain.
type Source func() (json.RawMessage, error)

// Flusher batches write-behind persistence: components mark a domain dirty
// after an in-memory mutation and the flusher saves a fresh snapshot after a
// short quiet period. In-memory state stays authoritative; a failed save is
// retried on the next cycle and a final synchronous flush runs on Close.
type Flusher struct {
	store Store
	delay time.Duration

	mu      sync.Mutex
	sources map[Domain]Source
	dirty   map[Domain]bool
	timer   *time.Timer
	closed  bool
}

// NewFlusher creates a flusher writing to store after delay of quiet time.
func NewFlusher(store Store, delay time.Duration) *Flusher {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Flusher{
		store:   store,
		delay:   delay,
		sources: make(map[Domain]Source),
		dirty:   make(map[Domain]bool),
	}
}

// Register binds the snapshot source for a domain. Must be called before
// the first MarkDirty for that domain.
func (f *Flusher) Register(domain Domain, source Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[domain] = source
}

// MarkDirty schedules a flush for domain, debouncing rapid mutations.
func (f *Flusher) MarkDirty(domain Domain) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.dirty[domain] = true
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.delay, f.flushDirty)
}

func (f *Flusher) flushDirty() {
	if failed := f.Flush(); failed > 0 {
		// Keep retrying until the store recovers.
		f.mu.Lock()
		if !f.closed {
			if f.timer != nil {
				f.timer.Stop()
			}
			f.timer = time.AfterFunc(f.delay, f.flushDirty)
		}
		f.mu.Unlock()
	}
}

// Flush synchronously saves every dirty domain, returning how many saves
// failed. Failed domains stay dirty.
func (f *Flusher) Flush() int {
	f.mu.Lock()
	pending := make([]Domain, 0, len(f.dirty))
	for domain := range f.dirty {
		pending = append(pending, domain)
	}
	sources := make(map[Domain]Source, len(pending))
	for _, domain := range pending {
		sources[domain] = f.sources[domain]
	}
	f.mu.Unlock()

	failed := 0
	for _, domain := range pending {
		source := sources[domain]
		if source == nil {
			alog.Warnf("no snapshot source registered for domain %s", domain)
			continue
		}
		doc, err := source()
		if err != nil {
			alog.ErrorWithErr("failed to snapshot domain "+string(domain), err)
			failed++
			continue
		}
		if err := f.store.Save(domain, doc); err != nil {
			alog.ErrorWithErr("failed to persist domain "+string(domain), err)
			failed++
			continue
		}
		f.mu.Lock()
		delete(f.dirty, domain)
		f.mu.Unlock()
		alog.Debugf("flushed domain %s (%d bytes)", domain, len(doc))
	}
	return failed
}

// Close stops the debounce timer and performs a final flush.
func (f *Flusher) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
	}
	f.mu.Unlock()
	f.Flush()
}
