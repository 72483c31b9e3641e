package openrouter

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const defaultBaseURL = "https://openrouter.ai"

var defaultAllowedHosts = map[string]struct{}{
	"openrouter.ai":     {},
	"api.openrouter.ai": {},
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// ValidateBaseURL guards a user-supplied OpenRouter endpoint. The host must be
// in allowedHosts (or the default OpenRouter hosts when none are given) and
// the scheme must be https. Plain http is accepted only for loopback hosts that
// were allowed explicitly, which is how local proxies are configured.
func ValidateBaseURL(baseURL string, allowedHosts []string) error {
	baseURL = normalizeBaseURL(baseURL)
	bad := func(format string, args ...any) error {
		return fmt.Errorf("invalid OPENROUTER_BASE_URL %q: %s", baseURL, fmt.Sprintf(format, args...))
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid OPENROUTER_BASE_URL: %w", err)
	}
	switch {
	case !u.IsAbs() || u.Hostname() == "":
		return bad("absolute URL with host is required")
	case u.User != nil:
		return bad("userinfo is not allowed")
	case u.RawQuery != "" || u.Fragment != "":
		return bad("query and fragment are not allowed")
	}

	host := strings.ToLower(u.Hostname())
	allowed, explicit := normalizeAllowedHosts(allowedHosts)
	if _, ok := allowed[host]; !ok {
		return bad("host %q is not in OPENROUTER_ALLOWED_HOSTS", host)
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
		return nil
	case "http":
		if explicit && isLoopback(host) {
			return nil
		}
	}
	return bad("https is required")
}

// normalizeAllowedHosts reports explicit=false when it fell back to defaults.
func normalizeAllowedHosts(allowedHosts []string) (map[string]struct{}, bool) {
	out := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		v := strings.ToLower(strings.TrimSpace(h))
		v = strings.TrimPrefix(v, "http://")
		v = strings.TrimPrefix(v, "https://")
		v = strings.Trim(v, "/")
		if host, _, err := net.SplitHostPort(v); err == nil {
			v = host
		}
		if v != "" {
			out[v] = struct{}{}
		}
	}
	if len(out) == 0 {
		return defaultAllowedHosts, false
	}
	return out, true
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
