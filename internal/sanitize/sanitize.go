// Package sanitize cleans free text that reaches Landio from outside its own
// forms: display names asserted by an identity provider and the detail text
// written to the activity log. Uses bluemonday's strict policy so no markup
// survives, whatever client eventually renders the value.
package sanitize

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDisplayNameLength matches users.display_name VARCHAR(200).
const MaxDisplayNameLength = 200

// policy is the singleton strict policy. Initialized once via sync.Once for
// thread-safe lazy initialization.
var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

// getPolicy returns the shared sanitization policy, initializing it on first call.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Text strips every HTML element from input and collapses control characters
// and runs of whitespace into single spaces. Entities produced by the policy
// are decoded again so "O'Brien" stays "O'Brien" in storage.
func Text(input string) string {
	if input == "" {
		return ""
	}
	stripped := html.UnescapeString(getPolicy().Sanitize(input))

	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	for _, r := range stripped {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// DisplayName sanitizes an externally supplied display name and truncates it
// to the column width on a rune boundary.
func DisplayName(input string) string {
	name := Text(input)
	runes := []rune(name)
	if len(runes) <= MaxDisplayNameLength {
		return name
	}
	return strings.TrimSpace(string(runes[:MaxDisplayNameLength]))
}
