package lists

import (
	"errors"
	"testing"

	"github.com/lamplight/optin-backend/models"
)

type mockFetcher struct {
	lists []models.MailingList
	err   error
}

func (m *mockFetcher) FetchAllLists() ([]models.MailingList, error) {
	return m.lists, m.err
}

func sampleLists() []models.MailingList {
	return []models.MailingList{
		{Address: "announce@lists.example.org", Name: "Announcements", Backend: "mailman", WarnEvery: 3},
		{Address: "dev@lists.example.org", Name: "Development", Backend: "mailman"},
	}
}

func TestRefreshAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Refresh(&mockFetcher{lists: sampleLists()}); err != nil {
		t.Fatal(err)
	}
	list, ok := r.Get("announce@lists.example.org")
	if !ok || list.Name != "Announcements" {
		t.Errorf("Get returned %+v, %v", list, ok)
	}
	if _, ok := r.Get("nosuch@lists.example.org"); ok {
		t.Error("Get should miss for unknown addresses")
	}
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	r := NewRegistry()
	r.Replace(sampleLists())
	if err := r.Refresh(&mockFetcher{err: errors.New("backend down")}); err == nil {
		t.Fatal("expected fetch error to propagate")
	}
	if _, ok := r.Get("announce@lists.example.org"); !ok {
		t.Error("a failed refresh should leave the stale cache in place")
	}
}

func TestAllIsSorted(t *testing.T) {
	r := NewRegistry()
	r.Replace(sampleLists())
	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 lists, got %d", len(all))
	}
	if all[0].Address > all[1].Address {
		t.Error("All should order lists by address")
	}
}

func TestIncrementMilestones(t *testing.T) {
	r := NewRegistry()
	r.Replace(sampleLists())
	addr := "announce@lists.example.org"
	for i := 1; i <= 2; i++ {
		if _, milestone := r.Increment(addr); milestone {
			t.Errorf("count %d should not be a milestone", i)
		}
	}
	count, milestone := r.Increment(addr)
	if count != 3 || !milestone {
		t.Errorf("third subscriber should hit the warn-every-3 milestone, got count=%d milestone=%v", count, milestone)
	}
	// Dip below and climb back: 3 is only reported when crossed again.
	r.Decrement(addr)
	count, milestone = r.Increment(addr)
	if count != 3 || !milestone {
		t.Errorf("re-crossing the milestone should report it again, got count=%d milestone=%v", count, milestone)
	}
}

func TestNoMilestoneWithoutThreshold(t *testing.T) {
	r := NewRegistry()
	r.Replace(sampleLists())
	for i := 0; i < 10; i++ {
		if _, milestone := r.Increment("dev@lists.example.org"); milestone {
			t.Fatal("a list without WarnEvery never milestones")
		}
	}
}

func TestReplacePreservesDeltas(t *testing.T) {
	r := NewRegistry()
	r.Replace(sampleLists())
	r.Increment("announce@lists.example.org")
	r.Increment("announce@lists.example.org")

	// Re-fetch drops dev@ and keeps announce@.
	r.Replace(sampleLists()[:1])
	count, _ := r.Increment("announce@lists.example.org")
	if count != 3 {
		t.Errorf("delta should survive a refresh, got %d want 3", count)
	}
	if _, ok := r.Get("dev@lists.example.org"); ok {
		t.Error("lists absent from the refresh should be gone")
	}
}

func TestCountersForUnknownList(t *testing.T) {
	r := NewRegistry()
	if count, milestone := r.Increment("nosuch@lists.example.org"); count != 0 || milestone {
		t.Error("incrementing an unknown list is a no-op")
	}
	if count := r.Decrement("nosuch@lists.example.org"); count != 0 {
		t.Error("decrementing an unknown list is a no-op")
	}
}
