package api

import (
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jdholdren/classfeed/internal/feedstore"
)

var openStores = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "classfeed_api_viewer_stores",
	Help: "Viewer feed stores currently held in memory",
})

// stores keeps the most recently used viewer stores. A store that falls out is
// closed in the background.
type stores struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *feedstore.Store]
	build func(viewerID string) *feedstore.Store

	closing sync.WaitGroup
}

func newStores(size int, build func(viewerID string) *feedstore.Store) *stores {
	s := &stores{build: build}
	// Only errors on a non-positive size.
	s.cache, _ = lru.NewWithEvict(size, s.evicted)
	return s
}

// get returns the viewer's store, creating it on first use.
func (s *stores) get(viewerID string) *feedstore.Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.cache.Get(viewerID); ok {
		return st
	}

	st := s.build(viewerID)
	s.cache.Add(viewerID, st)
	openStores.Inc()
	return st
}

func (s *stores) remove(viewerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Remove(viewerID)
}

// closeAll closes every store and waits for them.
func (s *stores) closeAll() {
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()

	s.closing.Wait()
}

func (s *stores) evicted(viewerID string, st *feedstore.Store) {
	openStores.Dec()

	s.closing.Add(1)
	go func() {
		defer s.closing.Done()
		if err := st.Close(); err != nil {
			slog.Error("error closing viewer store", "viewer_id", viewerID, "error", err)
		}
	}()
}
