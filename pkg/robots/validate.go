package robots

import (
	"net"
	"strings"

	"webcrawl/pkg/utils"
)

// ValidateDomain rejects domains that would let a crawl reach internal
// infrastructure. It runs before any network activity and rejects on
// textual evidence alone: no DNS resolution, so a hostname that merely
// looks public still passes here and relies on the dialer's view of the
// network. The check is deliberately strict about what a hostname may
// look like; anything it cannot positively recognize is refused.
func ValidateDomain(domain string) error {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" {
		return utils.WrapErrorf(utils.ErrUnsafeDomain, "empty domain")
	}

	// Strip an explicit port before inspection.
	if host, _, err := net.SplitHostPort(d); err == nil {
		d = host
	}
	d = strings.Trim(d, "[]")

	if d == "localhost" || strings.HasSuffix(d, ".localhost") || strings.HasSuffix(d, ".local") {
		return utils.WrapErrorf(utils.ErrUnsafeDomain, "'%s' resolves to the local machine", domain)
	}

	if ip := net.ParseIP(d); ip != nil {
		if isPrivateOrLocalIP(ip) {
			return utils.WrapErrorf(utils.ErrUnsafeDomain, "'%s' is a private or local address", domain)
		}
		return nil
	}

	if !isPlausibleHostname(d) {
		return utils.WrapErrorf(utils.ErrUnsafeDomain, "'%s' is not a valid public hostname", domain)
	}
	return nil
}

// isPrivateOrLocalIP reports whether the address belongs to a loopback,
// link-local, unique-local, or RFC 1918 range.
func isPrivateOrLocalIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	return ip.IsPrivate()
}

// isPlausibleHostname applies a conservative grammar: dotted labels of
// letters, digits, and hyphens, with at least one dot and an alphabetic
// top-level label.
func isPlausibleHostname(host string) bool {
	if len(host) > 253 || !strings.Contains(host, ".") {
		return false
	}
	labels := strings.Split(host, ".")
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	tld := labels[len(labels)-1]
	for _, r := range tld {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return len(tld) >= 2
}
