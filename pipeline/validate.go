package pipeline

import (
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// Match RFC-shaped addresses: printable local part, dotted domain with
// an alphabetic TLD. Deliberately stricter than RFC 5321.
const matchEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9][a-zA-Z0-9.-]*\.[a-zA-Z]{2,}$`

var emailRegex = regexp.MustCompile(matchEmail)

// ValidEmail reports whether address looks like a deliverable email
// address. Doubled punctuation is rejected outright as a cheap
// heuristic against typos and probe garbage; internationalized domains
// are normalized to ASCII before the shape check.
func ValidEmail(address string) bool {
	for _, doubled := range []string{"..", "@@", "__", "--"} {
		if strings.Contains(address, doubled) {
			return false
		}
	}
	parts := strings.SplitN(address, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}
	ascii, err := idna.ToASCII(parts[1])
	if err != nil {
		return false
	}
	return emailRegex.MatchString(parts[0] + "@" + ascii)
}
