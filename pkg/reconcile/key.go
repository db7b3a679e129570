package reconcile

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey canonicalizes an identity key: Unicode NFC, trimmed, lowercased.
// Both sources go through it before exclusion, duplicate handling and the join.
func NormalizeKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(raw)))
}

// domainMatcher tests keys against a domain-suffix blocklist.
type domainMatcher []string

func newDomainMatcher(domains []string) domainMatcher {
	var m domainMatcher
	for _, d := range domains {
		d = strings.TrimPrefix(NormalizeKey(d), "@")
		if d != "" {
			m = append(m, d)
		}
	}
	return m
}

// Excluded reports whether key's domain equals a blocked domain or is one of
// its subdomains.
func (m domainMatcher) Excluded(key string) bool {
	if len(m) == 0 {
		return false
	}
	at := strings.LastIndex(key, "@")
	if at < 0 {
		return false
	}
	domain := key[at+1:]
	for _, d := range m {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}
