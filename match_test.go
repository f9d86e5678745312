package opvault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchURL(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		query  string
		want   bool
	}{
		{"exact host", "https://example.com", "https://example.com", true},
		{"path ignored", "https://www.example.com/login?next=/", "https://www.example.com/", true},
		{"scheme-less query", "https://example.com/login", "example.com", true},
		{"scheme-less stored", "example.com", "https://example.com", true},
		{"query is bare domain", "https://www.example.com", "example.com", true},
		{"stored is bare domain", "https://example.com", "sub.example.com", true},
		{"deep subdomain", "https://a.b.example.com", "example.com", true},
		{"case insensitive", "https://EXAMPLE.com", "https://example.COM", true},
		{"different domains", "https://example.com", "https://other.net", false},
		{"suffix needs dot boundary", "https://notexample.com", "example.com", false},
		{"reverse dot boundary", "https://example.com", "notexample.com", false},
		{"different tld", "https://example.com", "example.org", false},
		{"http scheme still matches", "http://example.com", "https://example.com", true},
		{"empty against empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchURL(tt.stored, tt.query))
		})
	}
}

func TestMatchURLFallback(t *testing.T) {
	// Unparseable values fall back to substring containment.
	assert.True(t, MatchURL("://bad stored value example", "example"))
	assert.False(t, MatchURL("://bad stored value", "unrelated"))
}
