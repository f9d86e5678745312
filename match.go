package opvault

import (
	"net/url"
	"strings"
)

const defaultScheme = "https://"

// MatchURL reports whether a stored item URL and a query URL point at the
// same site for credential-suggestion purposes.
//
// Both values are normalized by prefixing the default scheme when none is
// present, then parsed into hostnames. Hostnames match when identical or
// when one is a dot-delimited suffix of the other, which covers both "item
// stored with subdomain, query is the bare domain" and the reverse. The
// suffix check requires a preceding dot, so "notexample.com" never matches
// "example.com". If either value fails to parse, matching falls back to
// case-insensitive substring containment in either direction as a
// permissive last resort.
func MatchURL(stored, query string) bool {
	storedHost, err1 := hostnameOf(stored)
	queryHost, err2 := hostnameOf(query)

	if err1 != nil || err2 != nil || storedHost == "" || queryHost == "" {
		a := strings.ToLower(stored)
		b := strings.ToLower(query)
		return strings.Contains(a, b) || strings.Contains(b, a)
	}

	if strings.EqualFold(storedHost, queryHost) {
		return true
	}
	return strings.HasSuffix(storedHost, "."+queryHost) ||
		strings.HasSuffix(queryHost, "."+storedHost)
}

// hostnameOf parses a possibly scheme-less URL into its lowercase hostname
func hostnameOf(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "://") {
		s = defaultScheme + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Hostname()), nil
}
