package backend

import (
	"net/url"

	"github.com/lamplight/optin-backend/models"
)

// Encoding selects how request parameters are put on the wire.
type Encoding int

// Supported request body encodings.
const (
	EncodeForm Encoding = iota // application/x-www-form-urlencoded
	EncodeJSON                 // application/json
)

// Descriptor captures everything provider-specific about one
// mailing-list backend: where its API lives, how to authenticate, which
// verb and encoding each action uses, and how to build the endpoints
// and parameters for a given list and subscriber. Adding a provider
// means writing a new Descriptor, never touching the call sites.
type Descriptor struct {
	// Name identifies this backend; MailingList.Backend refers to it.
	Name string
	// BaseURL is the API root, without a trailing slash.
	BaseURL string
	// AuthUser/AuthKey are the auth material. How they are applied is
	// up to Authorize: a header, a query parameter, or nothing.
	AuthUser string
	AuthKey  string
	// Verbs per action.
	SubscribeMethod   string
	UnsubscribeMethod string
	// Encoding of subscribe/unsubscribe request parameters.
	Encoding Encoding

	// SubscribeEndpoint builds the URL used to add a member.
	SubscribeEndpoint func(d *Descriptor, list models.MailingList) string
	// UnsubscribeEndpoint builds the URL used to remove a member.
	UnsubscribeEndpoint func(d *Descriptor, list models.MailingList, email string) string
	// CheckEndpoint builds the URL used to look up a membership.
	CheckEndpoint func(d *Descriptor, list models.MailingList, email string) string
	// Params builds the request parameters for subscribe/unsubscribe.
	// email is always set; name may be empty.
	Params func(d *Descriptor, list models.MailingList, email string, name string) url.Values
	// Authorize applies auth material to an outgoing request's header
	// and/or query. May be nil for unauthenticated backends.
	Authorize func(d *Descriptor, q url.Values, header map[string]string)
	// ValidCheckResponse classifies a CheckEndpoint response:
	// true means the address is subscribed.
	ValidCheckResponse func(status int, body []byte) bool

	// ListsEndpoint and ParseLists feed the list registry. Optional:
	// a backend without them simply contributes no lists.
	ListsEndpoint func(d *Descriptor) string
	ParseLists    func(d *Descriptor, body []byte) ([]models.MailingList, error)
}
