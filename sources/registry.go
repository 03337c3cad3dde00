package sources

import (
	"log"
	"sync"
)

// Registry caches the active source set in memory so fetch cycles read a
// consistent snapshot without hitting the store. Reload is called at process
// start, after every source mutation, and at the top of each scheduled fetch
// cycle, so edits take effect without a restart.
type Registry struct {
	store *Store

	mu      sync.RWMutex
	feeds   []Source
	handles []Source
}

// NewRegistry creates a registry backed by the given store. The caller is
// expected to Reload once at startup.
func NewRegistry(store *Store) *Registry {
	return &Registry{store: store}
}

// Reload re-reads all active sources from the store. It never returns an
// error: on a store failure the previous in-memory lists are retained and
// the failure is logged, so fetchers keep serving the last-known-good
// source set.
func (r *Registry) Reload() {
	active := true

	feeds, err := r.store.List(SourceFilter{Kind: strPtr(KindRSS), Active: &active})
	if err != nil {
		log.Printf("source registry: feed reload failed, keeping previous list: %v", err)
		return
	}

	handles, err := r.store.List(SourceFilter{Kind: strPtr(KindTwitter), Active: &active})
	if err != nil {
		log.Printf("source registry: handle reload failed, keeping previous list: %v", err)
		return
	}

	r.mu.Lock()
	r.feeds = feeds
	r.handles = handles
	r.mu.Unlock()
}

// Feeds returns a snapshot of the active RSS sources.
func (r *Registry) Feeds() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, len(r.feeds))
	copy(out, r.feeds)
	return out
}

// Handles returns a snapshot of the active Twitter sources.
func (r *Registry) Handles() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, len(r.handles))
	copy(out, r.handles)
	return out
}

func strPtr(s string) *string { return &s }
