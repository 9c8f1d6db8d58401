package sequencer

import (
	"net"
	"net/url"
	"strings"
)

// MatchURL reports whether the page at actual is the page a step expects.
// Host and path are compared; for local development hosts only the path is.
// Trailing slashes, query and fragment are ignored. An empty expected url
// matches every page.
func MatchURL(expected, actual string) bool {
	if strings.TrimSpace(expected) == "" {
		return true
	}
	e, err1 := url.Parse(expected)
	a, err2 := url.Parse(actual)
	if err1 != nil || err2 != nil {
		return strings.TrimRight(expected, "/") == strings.TrimRight(actual, "/")
	}
	if normPath(e.Path) != normPath(a.Path) {
		return false
	}
	if e.Host == "" || isLocal(e.Hostname()) || isLocal(a.Hostname()) {
		return true
	}
	return strings.EqualFold(e.Host, a.Host)
}

func normPath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

func isLocal(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}
