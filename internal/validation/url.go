package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// proxyMeta is rejected in a proxy target before parsing.
const proxyMeta = ";|`$<>\"'\\\n\r "

// ParseProxyTarget turns the configured upstream development server into an
// absolute URL. A bare "host:port" is treated as http.
func ParseProxyTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("proxy target cannot be empty")
	}
	if c, ok := firstMeta(raw, proxyMeta); ok {
		return nil, fmt.Errorf("proxy target contains dangerous character: %q", c)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy target: %w", err)
	}
	switch {
	case target.Scheme != "http" && target.Scheme != "https":
		return nil, fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", target.Scheme)
	case target.Hostname() == "":
		return nil, fmt.Errorf("proxy target must have a valid hostname")
	}
	if port := target.Port(); port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			return nil, fmt.Errorf("invalid proxy port %q: %w", port, err)
		}
	}
	return target, nil
}
