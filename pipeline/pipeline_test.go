package pipeline

import (
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/lamplight/optin-backend/lists"
	"github.com/lamplight/optin-backend/models"
	"github.com/lamplight/optin-backend/ratelimit"
	"github.com/lamplight/optin-backend/token"
)

// mockAdapter keeps membership in a map and records calls.
type mockAdapter struct {
	mu             sync.Mutex
	members        map[string]bool // "list|email"
	subscribeCalls int
	failAll        bool
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{members: make(map[string]bool)}
}

func (m *mockAdapter) key(list models.MailingList, email string) string {
	return list.Address + "|" + email
}

func (m *mockAdapter) Subscribe(list models.MailingList, email string, name string) models.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeCalls++
	if m.failAll {
		return models.Outcome{Message: "backend exploded"}
	}
	m.members[m.key(list, email)] = true
	return models.Outcome{Success: true}
}

func (m *mockAdapter) Unsubscribe(list models.MailingList, email string) models.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return models.Outcome{Message: "backend exploded"}
	}
	if !m.members[m.key(list, email)] {
		return models.Outcome{NotFound: true}
	}
	delete(m.members, m.key(list, email))
	return models.Outcome{Success: true}
}

func (m *mockAdapter) CheckSubscribed(list models.MailingList, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[m.key(list, email)], nil
}

// mockMailer records notifications instead of sending them.
type mockMailer struct {
	mu               sync.Mutex
	confirmLinks     []string
	completed        int
	milestones       []int
	failConfirmation bool
}

func (m *mockMailer) SendConfirmation(req models.PendingRequest, list models.MailingList, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failConfirmation {
		return errors.New("smtp relay unavailable")
	}
	m.confirmLinks = append(m.confirmLinks, link)
	return nil
}

func (m *mockMailer) SendCompleted(req models.PendingRequest, list models.MailingList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
	return nil
}

func (m *mockMailer) SendMilestone(list models.MailingList, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.milestones = append(m.milestones, count)
	return nil
}

func (m *mockMailer) lastLink(t *testing.T) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.confirmLinks) == 0 {
		t.Fatal("no confirmation email was sent")
	}
	return m.confirmLinks[len(m.confirmLinks)-1]
}

const announceAddr = "announce@lists.example.org"

func testRegistry() *lists.Registry {
	r := lists.NewRegistry()
	r.Replace([]models.MailingList{
		{Address: announceAddr, Name: "Announcements", Backend: "mock", WarnEvery: 2},
	})
	return r
}

func startPipeline(t *testing.T, adapter *mockAdapter, mailer *mockMailer) *Pipeline {
	p := New(token.NewStore(), ratelimit.New(100, time.Hour), testRegistry(), adapter, mailer,
		Config{SiteURL: "https://lists.example.org"})
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func validSubmission(t *testing.T, p *Pipeline, email string, action models.Action) Submission {
	csrf, err := p.CSRF().IssueOrReuse("198.51.100.7")
	if err != nil {
		t.Fatal(err)
	}
	return Submission{
		Email:  email,
		List:   announceAddr,
		Action: action,
		IP:     "198.51.100.7",
		CSRF:   csrf,
	}
}

func tokenFromLink(t *testing.T, link string) string {
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("confirmation link %q is not a URL: %v", link, err)
	}
	key := u.Query().Get("token")
	if key == "" {
		t.Fatalf("confirmation link %q carries no token", link)
	}
	return key
}

func TestSubscribeEndToEnd(t *testing.T) {
	adapter := newMockAdapter()
	mailer := &mockMailer{}
	p := startPipeline(t, adapter, mailer)

	res := p.Submit(validSubmission(t, p, "a@example.com", models.ActionSubscribe))
	if res.Status != StatusConfirmationSent {
		t.Fatalf("Submit = %+v, want confirmation-sent", res)
	}
	key := tokenFromLink(t, mailer.lastLink(t))

	res = p.Confirm(key)
	if res.Status != StatusSubscribed {
		t.Fatalf("Confirm = %+v, want subscribed", res)
	}
	if adapter.subscribeCalls != 1 {
		t.Errorf("backend Subscribe called %d times, want exactly 1", adapter.subscribeCalls)
	}
	if subscribed, _ := adapter.CheckSubscribed(models.MailingList{Address: announceAddr}, "a@example.com"); !subscribed {
		t.Error("address should be subscribed on the backend")
	}
	if mailer.completed != 1 {
		t.Errorf("expected 1 completion notice, got %d", mailer.completed)
	}

	// Revisiting the same link must not re-subscribe.
	res = p.Confirm(key)
	if res.Status != StatusTokenInvalid {
		t.Errorf("second Confirm = %+v, want confirmation-error", res)
	}
	if adapter.subscribeCalls != 1 {
		t.Errorf("replayed link drove a second backend call")
	}
}

func TestDuplicateSubmissionSuppressed(t *testing.T) {
	adapter := newMockAdapter()
	mailer := &mockMailer{}
	p := startPipeline(t, adapter, mailer)

	if res := p.Submit(validSubmission(t, p, "a@example.com", models.ActionSubscribe)); res.Status != StatusConfirmationSent {
		t.Fatalf("first Submit = %+v", res)
	}
	if res := p.Submit(validSubmission(t, p, "a@example.com", models.ActionSubscribe)); res.Status != StatusPending {
		t.Fatalf("second Submit = %+v, want confirmation-pending", res)
	}
	if len(mailer.confirmLinks) != 1 {
		t.Errorf("expected exactly 1 confirmation email, got %d", len(mailer.confirmLinks))
	}
}

func TestAlreadySubscribedShortCircuit(t *testing.T) {
	adapter := newMockAdapter()
	mailer := &mockMailer{}
	p := startPipeline(t, adapter, mailer)
	adapter.Subscribe(models.MailingList{Address: announceAddr}, "a@example.com", "")
	adapter.subscribeCalls = 0

	res := p.Submit(validSubmission(t, p, "a@example.com", models.ActionSubscribe))
	if res.Status != StatusAlreadySubscribed {
		t.Fatalf("Submit = %+v, want already-subscribed", res)
	}
	if len(mailer.confirmLinks) != 0 {
		t.Error("no token or email should be issued for an existing member")
	}
}

func TestUnsubscribeNotSubscribedShortCircuit(t *testing.T) {
	p := startPipeline(t, newMockAdapter(), &mockMailer{})
	res := p.Submit(validSubmission(t, p, "ghost@example.com", models.ActionUnsubscribe))
	if res.Status != StatusNotSubscribed {
		t.Fatalf("Submit = %+v, want not-subscribed", res)
	}
}

func TestUnsubscribeEndToEnd(t *testing.T) {
	adapter := newMockAdapter()
	mailer := &mockMailer{}
	p := startPipeline(t, adapter, mailer)
	adapter.Subscribe(models.MailingList{Address: announceAddr}, "a@example.com", "")

	res := p.Submit(validSubmission(t, p, "a@example.com", models.ActionUnsubscribe))
	if res.Status != StatusConfirmationSent {
		t.Fatalf("Submit = %+v", res)
	}
	res = p.Confirm(tokenFromLink(t, mailer.lastLink(t)))
	if res.Status != StatusUnsubscribed {
		t.Fatalf("Confirm = %+v, want unsubscribed", res)
	}
	if subscribed, _ := adapter.CheckSubscribed(models.MailingList{Address: announceAddr}, "a@example.com"); subscribed {
		t.Error("address should be gone from the backend")
	}
}

func TestIntakeGates(t *testing.T) {
	p := startPipeline(t, newMockAdapter(), &mockMailer{})

	sub := validSubmission(t, p, "a@example.com", models.ActionSubscribe)
	sub.Honeypot = "http://spam.example.com"
	if res := p.Submit(sub); res.Status != StatusInvalid {
		t.Errorf("honeypot submission = %+v, want invalid", res)
	}

	sub = validSubmission(t, p, "not-an-email", models.ActionSubscribe)
	if res := p.Submit(sub); res.Status != StatusInvalid {
		t.Errorf("malformed email = %+v, want invalid", res)
	}

	sub = validSubmission(t, p, "a@example.com", models.ActionSubscribe)
	sub.CSRF = "bogus"
	if res := p.Submit(sub); res.Status != StatusRejected {
		t.Errorf("bad csrf = %+v, want rejected", res)
	}

	sub = validSubmission(t, p, "a@example.com", models.ActionSubscribe)
	sub.List = "nosuch@lists.example.org"
	if res := p.Submit(sub); res.Status != StatusInvalid {
		t.Errorf("unknown list = %+v, want invalid", res)
	}
}

func TestRateLimitRejects(t *testing.T) {
	p := New(token.NewStore(), ratelimit.New(2, time.Hour), testRegistry(),
		newMockAdapter(), &mockMailer{}, Config{SiteURL: "https://lists.example.org"})
	p.Start()
	defer p.Stop()

	csrf, _ := p.CSRF().IssueOrReuse("198.51.100.9")
	sub := Submission{Email: "a@example.com", List: announceAddr,
		Action: models.ActionSubscribe, IP: "198.51.100.9", CSRF: csrf}
	p.Submit(sub)
	p.Submit(sub)
	if res := p.Submit(sub); res.Status != StatusRejected {
		t.Errorf("third submission = %+v, want rejected by rate limit", res)
	}
}

func TestEmailFailureLeavesTokenPending(t *testing.T) {
	adapter := newMockAdapter()
	mailer := &mockMailer{failConfirmation: true}
	p := startPipeline(t, adapter, mailer)

	res := p.Submit(validSubmission(t, p, "a@example.com", models.ActionSubscribe))
	if res.Status != StatusEmailError {
		t.Fatalf("Submit with failing mailer = %+v, want email-error", res)
	}
	// The token was issued before the send failed and stays live, so a
	// retry is answered with "pending" rather than a fresh token.
	mailer.failConfirmation = false
	res = p.Submit(validSubmission(t, p, "a@example.com", models.ActionSubscribe))
	if res.Status != StatusPending {
		t.Errorf("resubmission = %+v, want confirmation-pending", res)
	}
}

func TestBackendFailureSpendsToken(t *testing.T) {
	adapter := newMockAdapter()
	mailer := &mockMailer{}
	p := startPipeline(t, adapter, mailer)

	p.Submit(validSubmission(t, p, "a@example.com", models.ActionSubscribe))
	key := tokenFromLink(t, mailer.lastLink(t))

	adapter.failAll = true
	res := p.Confirm(key)
	if res.Status != StatusBackendError {
		t.Fatalf("Confirm against failing backend = %+v, want backend-error", res)
	}
	// The token was consumed; the user must restart the flow.
	adapter.failAll = false
	if res := p.Confirm(key); res.Status != StatusTokenInvalid {
		t.Errorf("retry of a spent token = %+v, want confirmation-error", res)
	}
	if mailer.completed != 0 {
		t.Error("no completion notice should go out for a failed backend call")
	}
}

func TestMilestoneNotification(t *testing.T) {
	adapter := newMockAdapter()
	mailer := &mockMailer{}
	p := startPipeline(t, adapter, mailer)

	// WarnEvery is 2 on the test list: second subscriber milestones.
	for i, email := range []string{"a@example.com", "b@example.com"} {
		res := p.Submit(validSubmission(t, p, email, models.ActionSubscribe))
		if res.Status != StatusConfirmationSent {
			t.Fatalf("Submit %d = %+v", i, res)
		}
		if res := p.Confirm(tokenFromLink(t, mailer.lastLink(t))); res.Status != StatusSubscribed {
			t.Fatalf("Confirm %d = %+v", i, res)
		}
	}
	if len(mailer.milestones) != 1 || mailer.milestones[0] != 2 {
		t.Errorf("milestones = %v, want exactly [2]", mailer.milestones)
	}
}

func TestQueueFullIsRetryableRejection(t *testing.T) {
	// No workers running: the first job fills the capacity-1 queue and
	// the second submission runs out its grace period.
	p := New(token.NewStore(), ratelimit.New(100, time.Hour), testRegistry(),
		newMockAdapter(), &mockMailer{},
		Config{SiteURL: "https://lists.example.org", QueueCapacity: 1, EnqueueGrace: 20 * time.Millisecond})

	csrf, _ := p.CSRF().IssueOrReuse("198.51.100.7")
	sub := Submission{Email: "a@example.com", List: announceAddr,
		Action: models.ActionSubscribe, IP: "198.51.100.7", CSRF: csrf}

	go p.Submit(sub) // Parks on the reply channel after filling the queue.
	time.Sleep(50 * time.Millisecond)
	if res := p.Submit(sub); res.Status != StatusBusy {
		t.Errorf("submission against a full queue = %+v, want busy", res)
	}
}

func TestConfirmGarbageToken(t *testing.T) {
	p := startPipeline(t, newMockAdapter(), &mockMailer{})
	if res := p.Confirm("not-a-real-token"); res.Status != StatusTokenInvalid {
		t.Errorf("Confirm with unknown token = %+v, want confirmation-error", res)
	}
}

func TestCSRFTokenNotUsableAsConfirmation(t *testing.T) {
	p := startPipeline(t, newMockAdapter(), &mockMailer{})
	key, _ := p.CSRF().IssueOrReuse("198.51.100.7")
	if res := p.Confirm(key); res.Status != StatusTokenInvalid {
		t.Errorf("csrf token accepted as confirmation: %+v", res)
	}
}
