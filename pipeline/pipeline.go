package pipeline

import (
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	raven "github.com/getsentry/raven-go"

	"github.com/lamplight/optin-backend/backend"
	"github.com/lamplight/optin-backend/lists"
	"github.com/lamplight/optin-backend/models"
	"github.com/lamplight/optin-backend/ratelimit"
	"github.com/lamplight/optin-backend/token"
)

// Status names the terminal state of a submission or confirmation.
type Status string

// Possible values for Status.
const (
	// StatusInvalid: malformed email, unknown list, or honeypot hit.
	StatusInvalid Status = "invalid"
	// StatusRejected: rate limit exceeded or csrf check failed.
	StatusRejected Status = "rejected"
	// StatusBusy: the action queue is full; the request may be retried.
	StatusBusy Status = "busy"
	// StatusAlreadySubscribed / StatusNotSubscribed: duplicate state,
	// a defined outcome rather than an error.
	StatusAlreadySubscribed Status = "already-subscribed"
	StatusNotSubscribed     Status = "not-subscribed"
	// StatusPending: a confirmation of this type is already outstanding.
	StatusPending Status = "confirmation-pending"
	// StatusConfirmationSent: token issued, invitation email sent.
	StatusConfirmationSent Status = "confirmation-sent"
	// StatusEmailError: the invitation could not be sent.
	StatusEmailError Status = "email-error"
	// StatusTokenInvalid: missing, expired, mismatched or already-
	// consumed confirmation token. The user must restart the flow.
	StatusTokenInvalid Status = "confirmation-error"
	// StatusBackendError: the provider rejected or never received the
	// membership change.
	StatusBackendError Status = "backend-error"
	// StatusSubscribed / StatusUnsubscribed: the change was applied.
	StatusSubscribed   Status = "subscribed"
	StatusUnsubscribed Status = "unsubscribed"
)

// Result pairs a terminal status with a renderable message.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Submission is everything the HTTP layer extracted from a form POST.
type Submission struct {
	Email    string
	Name     string
	List     string // MailingList address.
	Action   models.Action
	IP       string
	CSRF     string
	Honeypot string // The hidden "website" field; must be empty.
}

// Mailer is the slice of the notification sender the pipeline uses.
type Mailer interface {
	SendConfirmation(req models.PendingRequest, list models.MailingList, link string) error
	SendCompleted(req models.PendingRequest, list models.MailingList) error
	SendMilestone(list models.MailingList, count int) error
}

// Defaults for the queuing discipline.
const (
	DefaultQueueCapacity = 10
	DefaultEnqueueGrace  = 100 * time.Millisecond
)

// Config carries the pipeline's tunables.
type Config struct {
	// SiteURL is the externally visible base URL confirmation links
	// are built against.
	SiteURL string
	// QueueCapacity bounds each per-action queue. <=0 selects the default.
	QueueCapacity int
	// EnqueueGrace is how long a producer waits on a full queue before
	// the submission is rejected as retryable. <=0 selects the default.
	EnqueueGrace time.Duration
}

type job struct {
	req   models.PendingRequest // Set for submissions.
	key   string                // Set for confirmations.
	reply chan Result
}

// Pipeline owns the subscription state machine: it gates submissions,
// issues confirmation tokens, and applies confirmed changes against
// the backend. Each of the four action types has its own bounded FIFO
// queue drained by exactly one worker, so processing within an action
// type is ordered and never overlaps.
type Pipeline struct {
	tokens   *token.Store
	limiter  *ratelimit.Limiter
	registry *lists.Registry
	adapter  backend.Adapter
	mailer   Mailer
	gate     *Gate

	siteURL string
	grace   time.Duration

	subscribeQ    chan job
	unsubscribeQ  chan job
	subConfirmQ   chan job
	unsubConfirmQ chan job

	stop chan struct{}
	wg   sync.WaitGroup
}

// New wires up a pipeline. Start must be called before it will accept
// submissions.
func New(tokens *token.Store, limiter *ratelimit.Limiter, registry *lists.Registry,
	adapter backend.Adapter, mailer Mailer, cfg Config) *Pipeline {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	grace := cfg.EnqueueGrace
	if grace <= 0 {
		grace = DefaultEnqueueGrace
	}
	return &Pipeline{
		tokens:        tokens,
		limiter:       limiter,
		registry:      registry,
		adapter:       adapter,
		mailer:        mailer,
		gate:          NewGate(tokens),
		siteURL:       cfg.SiteURL,
		grace:         grace,
		subscribeQ:    make(chan job, capacity),
		unsubscribeQ:  make(chan job, capacity),
		subConfirmQ:   make(chan job, capacity),
		unsubConfirmQ: make(chan job, capacity),
		stop:          make(chan struct{}),
	}
}

// CSRF exposes the csrf gate for the HTTP layer to issue form tokens.
func (p *Pipeline) CSRF() *Gate {
	return p.gate
}

// Start launches the four action workers.
func (p *Pipeline) Start() {
	p.wg.Add(4)
	go p.worker(p.subscribeQ, p.handleSubmission)
	go p.worker(p.unsubscribeQ, p.handleSubmission)
	go p.worker(p.subConfirmQ, func(j job) Result {
		return p.handleConfirmation(j.key, models.KindSubscribe)
	})
	go p.worker(p.unsubConfirmQ, func(j job) Result {
		return p.handleConfirmation(j.key, models.KindUnsubscribe)
	})
}

// Stop signals the workers to exit after their current job and waits
// for them. In-flight backend calls are never interrupted mid-flight.
func (p *Pipeline) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Pipeline) worker(q chan job, handle func(job) Result) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case j := <-q:
			j.reply <- handle(j)
		}
	}
}

// enqueue places a job on q and waits for its result. A queue that
// stays full past the grace period yields a retryable busy result;
// requests are never silently dropped.
func (p *Pipeline) enqueue(q chan job, j job) Result {
	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case q <- j:
		return <-j.reply
	case <-timer.C:
		return Result{StatusBusy, "the service is busy, please try again shortly"}
	}
}

// Submit runs a form submission through the intake gates and, if it
// survives, queues it for its action worker. The returned Result is
// the request's terminal state.
func (p *Pipeline) Submit(sub Submission) Result {
	if !p.limiter.Admit(sub.IP) {
		log.Printf("warning: rate limit exceeded for %s", sub.IP)
		return Result{StatusRejected, "too many requests from your address, please try again later"}
	}
	if !p.gate.Validate(sub.CSRF, sub.IP) {
		log.Printf("warning: csrf validation failed for %s", sub.IP)
		return Result{StatusRejected, "the form has expired, please reload and try again"}
	}
	if sub.Honeypot != "" {
		log.Printf("warning: honeypot field set in submission from %s", sub.IP)
		return Result{StatusInvalid, "invalid request"}
	}
	if !ValidEmail(sub.Email) {
		return Result{StatusInvalid, "invalid email address"}
	}
	j := job{
		req: models.PendingRequest{
			Email:  sub.Email,
			Name:   sub.Name,
			List:   sub.List,
			Action: sub.Action,
		},
		reply: make(chan Result, 1),
	}
	if sub.Action == models.ActionUnsubscribe {
		return p.enqueue(p.unsubscribeQ, j)
	}
	return p.enqueue(p.subscribeQ, j)
}

// Confirm resolves a visited confirmation link. The token is peeked
// here only to route the job; the worker performs the single atomic
// consume, so two concurrent visits race safely.
func (p *Pipeline) Confirm(key string) Result {
	t, ok := p.tokens.Peek(key, models.KindAny)
	if !ok || t.Kind == models.KindCSRF {
		return Result{StatusTokenInvalid, confirmationErrorMessage}
	}
	j := job{key: key, reply: make(chan Result, 1)}
	if t.Kind == models.KindUnsubscribe {
		return p.enqueue(p.unsubConfirmQ, j)
	}
	return p.enqueue(p.subConfirmQ, j)
}

const confirmationErrorMessage = "this confirmation link is invalid or has expired; please restart from the signup form"

// handleSubmission is the worker side of Submit: duplicate checks,
// token issuance, and the invitation email.
func (p *Pipeline) handleSubmission(j job) Result {
	req := j.req
	list, ok := p.registry.Get(req.List)
	if !ok {
		return Result{StatusInvalid, "unknown mailing list"}
	}
	subscribed, err := p.adapter.CheckSubscribed(list, req.Email)
	if err != nil {
		reportBackendError("check", list.Address, err.Error())
		return Result{StatusBackendError, "could not reach the mailing list backend, please try again later"}
	}
	kind := models.KindSubscribe
	if req.Action == models.ActionUnsubscribe {
		kind = models.KindUnsubscribe
	}
	if req.Action == models.ActionSubscribe && subscribed {
		return Result{StatusAlreadySubscribed, "this address is already subscribed"}
	}
	if req.Action == models.ActionUnsubscribe && !subscribed {
		return Result{StatusNotSubscribed, "this address is not subscribed"}
	}
	if p.tokens.HasPending(req.Email, kind) {
		return Result{StatusPending, "a confirmation email is already on its way, please check your inbox"}
	}
	key, err := p.tokens.Create(kind, models.TokenPayload{
		Email: req.Email,
		Name:  req.Name,
		List:  req.List,
	})
	if err != nil {
		raven.CaptureError(err, map[string]string{"stage": "token-create"})
		return Result{StatusEmailError, "could not issue a confirmation, please try again later"}
	}
	link := fmt.Sprintf("%s/api/confirm?token=%s", p.siteURL, url.QueryEscape(key))
	if err := p.mailer.SendConfirmation(req, list, link); err != nil {
		// The token stays live: a resubmission within its lifetime is
		// answered with StatusPending rather than a second email.
		log.Printf("could not send confirmation email to %s: %v", req.Email, err)
		raven.CaptureError(err, map[string]string{"stage": "confirmation-email"})
		return Result{StatusEmailError, "could not send the confirmation email, please try again later"}
	}
	return Result{StatusConfirmationSent, "confirmation sent, please check your inbox"}
}

// handleConfirmation is the worker side of Confirm: the atomic token
// consume, the backend call, counters, and final notifications.
func (p *Pipeline) handleConfirmation(key string, kind models.TokenKind) Result {
	t, ok := p.tokens.Consume(key, kind)
	if !ok {
		return Result{StatusTokenInvalid, confirmationErrorMessage}
	}
	list, ok := p.registry.Get(t.Payload.List)
	if !ok {
		return Result{StatusBackendError, "this mailing list is no longer offered"}
	}
	req := models.PendingRequest{
		Email:  t.Payload.Email,
		Name:   t.Payload.Name,
		List:   t.Payload.List,
		Action: models.ActionSubscribe,
	}
	var out models.Outcome
	if kind == models.KindUnsubscribe {
		req.Action = models.ActionUnsubscribe
		out = p.adapter.Unsubscribe(list, req.Email)
	} else {
		out = p.adapter.Subscribe(list, req.Email, req.Name)
	}
	if !out.Success {
		if out.NotFound {
			// 404 on unsubscribe: already absent, not a hard error.
			return Result{StatusNotSubscribed, "this address was not subscribed"}
		}
		// The token is spent; the user has to restart the flow.
		reportBackendError(string(req.Action), list.Address, out.Message)
		return Result{StatusBackendError,
			"the mailing list backend rejected the request, please restart from the signup form"}
	}
	if req.Action == models.ActionSubscribe {
		count, milestone := p.registry.Increment(list.Address)
		if milestone {
			if err := p.mailer.SendMilestone(list, count); err != nil {
				log.Printf("could not send milestone notification for %s: %v", list.Address, err)
			}
		}
	} else {
		p.registry.Decrement(list.Address)
	}
	// The change is applied; a failed final notice doesn't undo it.
	if err := p.mailer.SendCompleted(req, list); err != nil {
		log.Printf("could not send completion notice to %s: %v", req.Email, err)
	}
	if req.Action == models.ActionUnsubscribe {
		return Result{StatusUnsubscribed, "you have been unsubscribed"}
	}
	return Result{StatusSubscribed, "you are subscribed"}
}

func reportBackendError(action string, list string, detail string) {
	log.Printf("backend %s for %s failed: %s", action, list, detail)
	raven.CaptureMessage("mailing list backend call failed", map[string]string{
		"action": action,
		"list":   list,
		"detail": detail,
	})
}
