package analyzer

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Classifier decides whether two URLs belong to the same party.
//
// The default rule compares the last two hostname labels, so
// cdn.example.com and www.example.com are first-party to each other, while
// a.example.co.uk and b.other.co.uk are too. Setting PublicSuffix compares
// registrable domains (eTLD+1) from the public suffix list instead.
type Classifier struct {
	PublicSuffix bool
}

var defaultClassifier = Classifier{}

// IsFirstParty reports whether candidate is served by the same party as
// page. A URL that cannot be parsed is treated as third-party.
func (c Classifier) IsFirstParty(candidate, page string) bool {
	candHost, ok := hostname(candidate)
	if !ok {
		return false
	}
	pageHost, ok := hostname(page)
	if !ok {
		return false
	}
	if candHost == pageHost {
		return true
	}
	return c.BaseDomain(candHost) == c.BaseDomain(pageHost)
}

// IsThirdPartyRequest is the capture-side tagging rule. Unlike IsFirstParty
// it flags an unparseable URL as third-party.
func (c Classifier) IsThirdPartyRequest(requestURL, page string) bool {
	reqHost, ok := hostname(requestURL)
	if !ok {
		return true
	}
	pageHost, ok := hostname(page)
	if !ok {
		return true
	}
	if reqHost == pageHost {
		return false
	}
	return c.BaseDomain(reqHost) != c.BaseDomain(pageHost)
}

// BaseDomain reduces host to the domain used for party comparison.
func (c Classifier) BaseDomain(host string) string {
	host = strings.ToLower(host)
	if c.PublicSuffix {
		if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			return etld1
		}
		return host
	}
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// IsFirstParty applies the two-label rule.
func IsFirstParty(candidate, page string) bool {
	return defaultClassifier.IsFirstParty(candidate, page)
}

// IsThirdPartyRequest applies the two-label capture-side rule.
func IsThirdPartyRequest(requestURL, page string) bool {
	return defaultClassifier.IsThirdPartyRequest(requestURL, page)
}

// BaseDomain returns the last two labels of host.
func BaseDomain(host string) string {
	return defaultClassifier.BaseDomain(host)
}

// ExtractDomain returns the hostname of rawURL, or rawURL itself when it
// cannot be parsed.
func ExtractDomain(rawURL string) string {
	host, ok := hostname(rawURL)
	if !ok {
		return rawURL
	}
	return host
}

// hostname parses an absolute URL and returns its lower-cased host.
func hostname(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return "", false
	}
	host := u.Hostname()
	if host == "" {
		return "", false
	}
	return strings.ToLower(host), true
}
