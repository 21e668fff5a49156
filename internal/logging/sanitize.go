package logging

import (
	"net/url"
	"strings"
)

// SanitizeURL drops userinfo, query and fragment so tokens passed as query params never
// reach the log. Scheme, host and path are kept.
func SanitizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
