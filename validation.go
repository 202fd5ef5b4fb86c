package authcore

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLength = 48

// normalizeEmail trims and lower-cases a bare address. Display names and
// anything net/mail does not accept are rejected.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrBadRequest)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", ErrBadRequest)
	}
	return email, nil
}

// validatePassword enforces the length policy. Lengths are in bytes since
// bcrypt truncates beyond 72 bytes.
func (e *Engine) validatePassword(password string) error {
	n := len(password)
	if n < e.config.Account.MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrBadRequest, e.config.Account.MinPasswordLength)
	}
	if n > e.config.Account.MaxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrBadRequest, e.config.Account.MaxPasswordLength)
	}
	return nil
}

// slugify derives a URL-safe workspace slug: lower-case ASCII letters and
// digits separated by single dashes. Compatibility forms are folded and
// diacritics stripped first, so "Café Zoë" becomes "cafe-zoe". A name with
// no Latin letters or digits yields "".
func slugify(name string) string {
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if b.Len() >= maxSlugLength {
			break
		}
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func defaultWorkspaceName(firstName, email string) string {
	if name := strings.TrimSpace(firstName); name != "" {
		return name + "'s Workspace"
	}
	local, _, _ := strings.Cut(email, "@")
	return local + "'s Workspace"
}
