package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by lookups whose target does not exist upstream (HTTP 404).
var ErrNotFound = errors.New("not found")

// UserFriendlyError is what the CLI prints instead of a raw error chain.
type UserFriendlyError struct {
	Message    string // what went wrong
	Suggestion string // how to fix it, possibly several numbered lines
	DocsLink   string
	Details    error // underlying cause, kept for logs and errors.Is
}

func (e *UserFriendlyError) Error() string {
	parts := []string{e.Message}
	if e.Suggestion != "" {
		parts = append(parts, "How to fix:\n"+e.Suggestion)
	}
	if e.DocsLink != "" {
		parts = append(parts, "Documentation: "+e.DocsLink)
	}
	return strings.Join(parts, "\n\n")
}

func (e *UserFriendlyError) Unwrap() error { return e.Details }

// NewFriendlyError creates a user-friendly error
func NewFriendlyError(message, suggestion string) *UserFriendlyError {
	return &UserFriendlyError{Message: message, Suggestion: suggestion}
}

// WithDetails sets the underlying cause.
func (e *UserFriendlyError) WithDetails(err error) *UserFriendlyError {
	e.Details = err
	return e
}

// WithDocs adds a documentation link
func (e *UserFriendlyError) WithDocs(link string) *UserFriendlyError {
	e.DocsLink = link
	return e
}

// Friendly returns err as a *UserFriendlyError if one is in its chain.
func Friendly(err error) (*UserFriendlyError, bool) {
	var fe *UserFriendlyError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// hint maps substrings of a low-level error to a message and suggestion.
type hint struct {
	match      []string
	message    string
	suggestion string
}

// classify returns the first hint whose match list hits err, or fallback.
func classify(err error, hints []hint, fallback hint) *UserFriendlyError {
	h := fallback
	if err != nil {
		s := err.Error()
	outer:
		for _, c := range hints {
			for _, m := range c.match {
				if strings.Contains(s, m) {
					h = c
					break outer
				}
			}
		}
	}
	return &UserFriendlyError{Message: h.message, Suggestion: h.suggestion, Details: err}
}

var networkHints = []hint{
	{
		match:   []string{"no such host", "name resolution"},
		message: "Cannot resolve hostname - DNS lookup failed",
		suggestion: "1. Check your internet connection\n2. Verify DNS settings\n" +
			"3. If civitai.com is blocked, switch the network to civitai.work:\n  modshelf settings set network work",
	},
	{
		match:      []string{"connection refused"},
		message:    "Server refused connection",
		suggestion: "The server may be down or blocking requests. Try again later.",
	},
	{
		match:   []string{"timeout", "deadline exceeded"},
		message: "Connection timed out",
		suggestion: "Civitai is slow or unreachable. Try:\n1. Raise network.timeout_seconds in the config\n" +
			"2. Lower gallery.limit so fewer pages are fetched",
	},
	{
		match:      []string{"certificate", "x509"},
		message:    "SSL/TLS certificate verification failed",
		suggestion: "You may be behind a corporate proxy. Install its CA certificate in the system trust store.",
	},
}

// NetworkError explains a transport failure talking to Civitai.
func NetworkError(err error) *UserFriendlyError {
	return classify(err, networkHints, hint{
		message:    "Network error occurred",
		suggestion: "Check your internet connection and try again",
	})
}

// AuthError returns authentication-related errors with token setup guidance
func AuthError(host string, statusCode int, err error) *UserFriendlyError {
	fe := &UserFriendlyError{
		Message:    fmt.Sprintf("Authentication failed (%d)", statusCode),
		Suggestion: "Check your access token",
		Details:    err,
	}
	if strings.Contains(host, "civitai.") {
		fe.Message = "CivitAI authentication failed"
		fe.Suggestion = "1. Set your token: export CIVITAI_TOKEN=...\n" +
			"2. Get a token at: https://civitai.com/user/account\n" +
			"3. Point sources.civitai.token_env at that variable if it has another name"
	}
	return fe
}

// RateLimitError is returned once retries on HTTP 429 are exhausted.
func RateLimitError(host string, retryAfter time.Duration, err error) *UserFriendlyError {
	s := "Wait a minute and try again, or lower gallery.limit to make fewer requests"
	if retryAfter > 0 {
		s = fmt.Sprintf("The server asked to retry after %s. %s", retryAfter.Round(time.Second), s)
	}
	return &UserFriendlyError{
		Message:    fmt.Sprintf("Rate limited by %s", host),
		Suggestion: s,
		Details:    err,
	}
}

// NotFoundError wraps ErrNotFound with the thing that was looked up.
func NotFoundError(what string) *UserFriendlyError {
	return &UserFriendlyError{
		Message:    fmt.Sprintf("%s not found on CivitAI", what),
		Suggestion: "The file may be private, deleted, or a local merge that was never uploaded",
		Details:    ErrNotFound,
	}
}

// ConfigError points at a single config field.
func ConfigError(field, issue string) *UserFriendlyError {
	return &UserFriendlyError{
		Message:    fmt.Sprintf("Configuration error in field '%s': %s", field, issue),
		Suggestion: "Run 'modshelf config validate --strict' to check your configuration",
		DocsLink:   "https://github.com/jxwalker/modshelf#configuration",
	}
}

var databaseHints = []hint{
	{
		match:      []string{"locked", "busy"},
		message:    "Database is locked by another process",
		suggestion: "Close other modshelf instances (a scan may still be running) and try again",
	},
	{
		match:   []string{"corrupt", "malformed"},
		message: "Database is corrupted",
		suggestion: "1. modshelf db check\n2. modshelf db repair\n" +
			"3. If that fails, move <data_root>/state.db aside and run: modshelf scan --enrich",
	},
}

// DatabaseError explains a failure opening or writing the state database.
func DatabaseError(err error) *UserFriendlyError {
	return classify(err, databaseHints, hint{
		message:    "Database error",
		suggestion: "Try clearing caches: modshelf cache clear all",
	})
}
