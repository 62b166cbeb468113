package models

import "time"

// TokenKind types a token by the action its consumption authorizes.
type TokenKind string

// Possible values for TokenKind. KindAny matches every kind on lookup.
const (
	KindAny         TokenKind = ""
	KindCSRF        TokenKind = "csrf"
	KindSubscribe   TokenKind = "subscribe-confirm"
	KindUnsubscribe TokenKind = "unsubscribe-confirm"
)

// TokenPayload is the typed data a token carries. IP is only set for
// csrf tokens; List is only set for confirmation tokens.
type TokenPayload struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	List  string `json:"list,omitempty"`
	IP    string `json:"ip,omitempty"`
}

// Token stores the state of a single-use opaque token.
type Token struct {
	Key     string       `json:"token"`   // Random URL-safe key we hand out.
	Kind    TokenKind    `json:"kind"`    // What consuming this token authorizes.
	Payload TokenPayload `json:"payload"` // Who/what the token is bound to.
	Created time.Time    `json:"created"` // When this token was issued.
	Expires time.Time    `json:"expires"` // When this token expires.
}

// Expired reports whether the token is past its lifetime at the given instant.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.Expires)
}

// Matches reports whether the token satisfies an expected kind.
// KindAny matches everything.
func (t Token) Matches(kind TokenKind) bool {
	return kind == KindAny || t.Kind == kind
}
