// Package guardrails validates chat prompts before a paid backend
// credit is spent on them. Rejections happen before the backend call,
// so a blocked prompt never costs the caller.
package guardrails

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLength bounds prompt size when no limit is configured.
const DefaultMaxLength = 2000

// Reason identifies why a prompt was rejected.
type Reason string

const (
	ReasonTooLong Reason = "too_long"
	ReasonEmpty   Reason = "empty"
	ReasonBinary  Reason = "binary"
	ReasonBlocked Reason = "blocked"
)

// Violation is the error returned for a rejected prompt. Message is
// safe to show the caller.
type Violation struct {
	Reason  Reason
	Message string
}

func (v *Violation) Error() string { return string(v.Reason) + ": " + v.Message }

// Policy screens prompts bound for the analytics backend.
type Policy struct {
	maxLength int
	blocked   []*regexp.Regexp
}

// NewPolicy builds a policy with the given length limit and optional
// blocked regex patterns. maxLength <= 0 selects DefaultMaxLength.
func NewPolicy(maxLength int, blockedPatterns []string) (*Policy, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	p := &Policy{maxLength: maxLength}
	for _, pat := range blockedPatterns {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return nil, fmt.Errorf("blocked pattern %q: %w", pat, err)
		}
		p.blocked = append(p.blocked, re)
	}
	return p, nil
}

// Check sanitizes the prompt and returns the cleaned form, or a
// *Violation describing the rejection.
func (p *Policy) Check(prompt string) (string, error) {
	clean := Sanitize(prompt)
	if clean == "" {
		return "", &Violation{Reason: ReasonEmpty, Message: "prompt is empty"}
	}
	if !utf8.ValidString(clean) {
		return "", &Violation{Reason: ReasonBinary, Message: "prompt contains invalid characters"}
	}
	if utf8.RuneCountInString(clean) > p.maxLength {
		return "", &Violation{
			Reason:  ReasonTooLong,
			Message: fmt.Sprintf("prompt exceeds %d characters", p.maxLength),
		}
	}
	for _, re := range p.blocked {
		if re.MatchString(clean) {
			return "", &Violation{Reason: ReasonBlocked, Message: "prompt contains blocked content"}
		}
	}
	return clean, nil
}

// Sanitize strips control characters except newlines and tabs and
// trims surrounding whitespace.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
