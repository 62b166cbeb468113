package pipeline

import (
	"sync"

	"github.com/lamplight/optin-backend/models"
	"github.com/lamplight/optin-backend/token"
)

// Gate issues and checks csrf tokens bound to the submitting client's
// IP. Unlike confirmation tokens, csrf tokens are never consumed on
// validation: the same token stays usable across repeated page loads
// and re-submissions until it expires.
type Gate struct {
	mu     sync.Mutex
	tokens *token.Store
	byIP   map[string]string // Live token key per IP, for reuse.
}

// NewGate returns a Gate backed by the given token store.
func NewGate(tokens *token.Store) *Gate {
	return &Gate{
		tokens: tokens,
		byIP:   make(map[string]string),
	}
}

// IssueOrReuse returns the live csrf token for ip, creating one only
// if none exists or the previous one has expired.
func (g *Gate) IssueOrReuse(ip string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if key, ok := g.byIP[ip]; ok {
		if t, live := g.tokens.Peek(key, models.KindCSRF); live && t.Payload.IP == ip {
			return key, nil
		}
	}
	key, err := g.tokens.Create(models.KindCSRF, models.TokenPayload{IP: ip})
	if err != nil {
		return "", err
	}
	g.byIP[ip] = key
	return key, nil
}

// Validate reports whether key is a live csrf token issued to ip.
func (g *Gate) Validate(key string, ip string) bool {
	if key == "" {
		return false
	}
	t, ok := g.tokens.Peek(key, models.KindCSRF)
	return ok && t.Payload.IP == ip
}
