package search

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint is a search cluster address with credentials split out of the
// URL's userinfo section.
type Endpoint struct {
	Address  string
	Username string
	Password string
}

// ParseEndpoint parses scheme://[user[:pass]@]host[:port][/path]. The
// returned Address never contains credentials.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, fmt.Errorf("parsing search url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("search url %q: scheme must be http or https", u.Redacted())
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("search url %q: missing host", u.Redacted())
	}

	ep := Endpoint{}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	ep.Address = strings.TrimSuffix(u.String(), "/")
	return ep, nil
}

// String returns the address without credentials.
func (e Endpoint) String() string {
	return e.Address
}
