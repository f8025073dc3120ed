package domain

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// Endpoint identifies a Sourcegraph instance by its base URL, e.g. "https://sourcegraph.com".
// Endpoints compare by string equality, so they should be built with NormalizeEndpoint.
type Endpoint string

// CloudEndpoint is the public Sourcegraph instance.
const CloudEndpoint Endpoint = "https://sourcegraph.com"

// String implements fmt.Stringer.
func (e Endpoint) String() string { return string(e) }

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool { return e == "" }

// NormalizeEndpoint parses raw as an instance base URL and returns its canonical form:
// lowercase scheme and host, ASCII (punycode) host, no trailing slash, no query or fragment.
// An empty or whitespace-only input yields the zero Endpoint and no error.
func NormalizeEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidEndpoint, raw)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, raw)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: %q: credentials are not allowed in the URL", ErrInvalidEndpoint, raw)
	}

	host, err := asciiHost(u.Hostname())
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, raw, err)
	}
	if port := u.Port(); port != "" {
		host = host + ":" + port
	}

	out := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   strings.TrimRight(u.Path, "/"),
	}
	return Endpoint(out.String()), nil
}

// asciiHost lowercases h and converts internationalized names to punycode.
// IP literals pass through, IPv6 re-bracketed.
func asciiHost(h string) (string, error) {
	if ip := net.ParseIP(h); ip != nil {
		if ip.To4() == nil {
			return "[" + ip.String() + "]", nil
		}
		return ip.String(), nil
	}
	return idna.Lookup.ToASCII(strings.ToLower(h))
}
