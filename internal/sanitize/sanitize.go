// Package sanitize strips markup and control characters from client supplied
// strings before the relay uses or forwards them.
package sanitize

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer cleans untrusted text.
type Sanitizer interface {
	Sanitize(s string) string
}

// Func adapts a plain function to the Sanitizer interface.
type Func func(string) string

// Sanitize calls f(s).
func (f Func) Sanitize(s string) string { return f(s) }

// Strict removes every HTML element and all control characters. Text content
// of ordinary elements is kept; script and style bodies are dropped.
type Strict struct {
	policy *bluemonday.Policy
}

// NewStrict returns a Strict sanitizer backed by bluemonday's strict policy.
func NewStrict() *Strict {
	return &Strict{policy: bluemonday.StrictPolicy()}
}

// Sanitize implements Sanitizer.
func (s *Strict) Sanitize(in string) string {
	if in == "" {
		return ""
	}
	return s.policy.Sanitize(stripControl(in))
}

func stripControl(in string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, in)
}

// Identity returns input unchanged. Useful in tests that exercise routing
// without caring about markup.
var Identity Sanitizer = Func(func(s string) string { return s })
