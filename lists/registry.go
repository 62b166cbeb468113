package lists

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lamplight/optin-backend/models"
)

// Fetcher is how the registry pulls list metadata from the backends.
type Fetcher interface {
	FetchAllLists() ([]models.MailingList, error)
}

type entry struct {
	list  models.MailingList
	delta int // Subscribers gained minus lost since process start.
}

// Registry is the process-wide cache of mailing lists, keyed by
// address. A refresh replaces the whole set; the per-list subscriber
// delta counters survive the replacement for lists that persist.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Replace swaps in a freshly fetched set of lists, carrying the delta
// counter over for any address that was already known.
func (r *Registry) Replace(fetched []models.MailingList) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[string]*entry, len(fetched))
	for _, list := range fetched {
		e := &entry{list: list}
		if old, ok := r.entries[list.Address]; ok {
			e.delta = old.delta
		}
		next[list.Address] = e
	}
	r.entries = next
}

// Refresh fetches the current lists and replaces the cache.
func (r *Registry) Refresh(f Fetcher) error {
	fetched, err := f.FetchAllLists()
	if err != nil {
		return err
	}
	r.Replace(fetched)
	return nil
}

// RunRefresh refreshes the registry every interval until stop is
// closed. Fetch failures are logged and the stale cache kept.
func (r *Registry) RunRefresh(f Fetcher, interval time.Duration, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}
		if err := r.Refresh(f); err != nil {
			log.Printf("list registry refresh failed: %v", err)
		}
	}
}

// Get returns the list registered under address.
func (r *Registry) Get(address string) (models.MailingList, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[address]
	if !ok {
		return models.MailingList{}, false
	}
	return e.list, true
}

// All returns every registered list, ordered by address.
func (r *Registry) All() []models.MailingList {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]models.MailingList, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e.list)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Address < all[j].Address })
	return all
}

// Increment bumps the subscriber delta for address and reports the new
// count, plus whether it just crossed a warn-every-N milestone.
func (r *Registry) Increment(address string) (count int, milestone bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[address]
	if !ok {
		return 0, false
	}
	e.delta++
	warn := e.list.WarnEvery
	return e.delta, warn > 0 && e.delta > 0 && e.delta%warn == 0
}

// Decrement lowers the subscriber delta for address and reports the
// new count. Losing subscribers never triggers a milestone.
func (r *Registry) Decrement(address string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[address]
	if !ok {
		return 0
	}
	e.delta--
	return e.delta
}
