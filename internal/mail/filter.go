package mail

import "strings"

// Sender filter modes.
const (
	FilterOff      = "off"
	FilterContains = "contains"
	FilterEquals   = "equals"
	FilterDomain   = "domain"
)

// SenderFilter restricts which originators are ingested.
type SenderFilter struct {
	Mode  string
	Value string
}

// Match reports whether sender passes the filter. Unknown modes and empty
// values let everything through.
func (f SenderFilter) Match(sender string) bool {
	mode := strings.ToLower(strings.TrimSpace(f.Mode))
	value := strings.ToLower(strings.TrimSpace(f.Value))
	addr := strings.ToLower(strings.TrimSpace(sender))
	if mode == "" || mode == FilterOff || value == "" {
		return true
	}
	switch mode {
	case FilterContains:
		return strings.Contains(addr, value)
	case FilterEquals:
		return addr == value
	case FilterDomain:
		return DomainMatches(addr, strings.TrimPrefix(value, "@"))
	}
	return true
}

// DomainMatches reports whether addr belongs to domain or one of its subdomains.
func DomainMatches(addr, domain string) bool {
	addr = strings.ToLower(addr)
	domain = strings.ToLower(strings.TrimLeft(domain, "@."))
	if domain == "" {
		return false
	}
	return strings.HasSuffix(addr, "@"+domain) || strings.HasSuffix(addr, "."+domain)
}
