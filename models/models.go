package models

// Action distinguishes the two membership intents a visitor can express.
type Action string

// Possible values for Action.
const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
)

// MailingList describes one list advertised by a backend provider.
// The address is the unique key; everything else is display metadata.
type MailingList struct {
	Address     string `json:"address"`     // List posting address, e.g. announce@lists.example.org.
	Name        string `json:"name"`        // Human-readable display name.
	Description string `json:"description"` // Short blurb shown on the signup form.
	Backend     string `json:"-"`           // Name of the backend descriptor managing this list.
	Locale      string `json:"locale"`      // BCP 47 tag for outbound notifications.
	WarnEvery   int    `json:"-"`           // Notify the operator at every Nth subscriber. 0 disables.
}

// PendingRequest is the tuple flowing through the pipeline between
// form submission and confirmation-link visit. Its only durable trace
// is the payload of the confirmation token.
type PendingRequest struct {
	Email  string
	Name   string
	List   string // MailingList address.
	Action Action
}

// Outcome classifies one call against a backend provider.
type Outcome struct {
	Success  bool   // The provider acknowledged the change with a 2xx.
	NotFound bool   // 404 on unsubscribe: the address was never subscribed.
	Message  string // Best-effort human-readable detail from the provider.
}
