package extension

import (
	"fmt"
	"strings"
)

// Category buckets low-level failure detail into a small set of actionable
// kinds. Raw guest stack traces and transport errors never reach callers.
type Category string

const (
	CategoryNetwork      Category = "network_unreachable"
	CategoryTimeout      Category = "timed_out"
	CategoryNotFound     Category = "content_not_found"
	CategoryAccessDenied Category = "access_denied"
	CategoryServer       Category = "upstream_server_error"
	CategoryInternal     Category = "extension_internal_error"
	CategoryUnknown      Category = "unknown"
)

// Failure is a typed contract-call failure. It carries the mapped category
// plus the underlying message for logs; UIs present the category only.
type Failure struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Category, f.Message)
}

// NewFailure classifies a raw message into a typed failure.
func NewFailure(message string) *Failure {
	return &Failure{Category: Classify(message), Message: message}
}

// TimeoutFailure is the failure raised when the job pump hits its deadline.
func TimeoutFailure() *Failure {
	return &Failure{Category: CategoryTimeout, Message: "timeout"}
}

// matcher maps message substrings to a category. Order matters: earlier rows
// win, so the more specific patterns come first.
var matchers = []struct {
	category Category
	patterns []string
}{
	{CategoryTimeout, []string{
		"timeout", "timed out", "deadline exceeded",
	}},
	{CategoryNetwork, []string{
		"no such host", "connection refused", "connection reset",
		"network is unreachable", "dial tcp", "cancelled", "canceled",
		"tls handshake",
	}},
	{CategoryAccessDenied, []string{
		"403", "forbidden", "401", "unauthorized", "access denied",
		"cloudflare", "captcha",
	}},
	{CategoryNotFound, []string{
		"404", "not found", "no results", "gone",
	}},
	{CategoryServer, []string{
		"500", "502", "503", "504", "internal server error", "bad gateway",
		"service unavailable",
	}},
	{CategoryInternal, []string{
		"is not a function", "is not defined", "undefined", "null",
		"typeerror", "referenceerror", "syntaxerror", "rangeerror",
		"unexpected token", "json",
	}},
}

// Classify maps a raw failure message to a category by substring matching.
func Classify(message string) Category {
	lower := strings.ToLower(message)
	for _, m := range matchers {
		for _, p := range m.patterns {
			if strings.Contains(lower, p) {
				return m.category
			}
		}
	}
	return CategoryUnknown
}
