// Package origin implements the browser Origin allow-list shared by the
// signaling WebSocket and the HTTP API.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Wildcard in an allow-list accepts every origin.
const Wildcard = "*"

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port], default ports
// dropped) and the host[:port] portion for same-host comparisons. The opaque
// origin "null" is accepted and returned as-is with an empty host.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy decides whether a request's Origin may use the relay.
//
// With an empty allow-list only same-host origins are accepted. The scheme is
// not compared so that the relay works behind a TLS-terminating proxy.
type Policy struct {
	allowed []string
}

func NewPolicy(allowedOrigins []string) Policy {
	return Policy{allowed: allowedOrigins}
}

// AllowsAny reports whether the allow-list contains the wildcard.
func (p Policy) AllowsAny() bool {
	return lo.Contains(p.allowed, Wildcard)
}

// Allows reports whether a normalized origin may reach requestHost.
func (p Policy) Allows(normalizedOrigin, originHost, requestHost string) bool {
	if len(p.allowed) > 0 {
		return lo.Contains(p.allowed, Wildcard) || lo.Contains(p.allowed, normalizedOrigin)
	}

	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found || (scheme != "http" && scheme != "https") {
		return false
	}
	reqHost, ok := canonicalHost(requestHost, scheme)
	return ok && reqHost == originHost
}

// CheckRequest applies the policy to r. Requests without an Origin header are
// non-browser clients and always pass; present reports whether one was sent.
func (p Policy) CheckRequest(r *http.Request) (normalizedOrigin string, present, ok bool) {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return "", false, true
	}
	normalizedOrigin, originHost, valid := NormalizeHeader(header)
	if !valid {
		return "", true, false
	}
	return normalizedOrigin, true, p.Allows(normalizedOrigin, originHost, r.Host)
}

// canonicalHost lowercases an authority and drops the scheme's default port.
func canonicalHost(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(strings.TrimSpace(authority))
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literals come back without brackets.
// The port is not validated.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if rest, isV6 := strings.CutPrefix(authority, "["); isV6 {
		hostname, rest, found := strings.Cut(rest, "]")
		if !found {
			return "", "", false
		}
		if rest == "" {
			return hostname, "", true
		}
		port, found = strings.CutPrefix(rest, ":")
		if !found || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	hostname, port, found := strings.Cut(authority, ":")
	if !found {
		return authority, "", true
	}
	if hostname == "" || port == "" || strings.Contains(port, ":") {
		return "", "", false
	}
	return hostname, port, true
}
