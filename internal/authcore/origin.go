package authcore

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// OriginResolution is the safe front-end destination chosen for a request.
type OriginResolution struct {
	FrontendURL  string
	CookieDomain string
	IsLocal      bool
}

// ResolveOrigin picks one allowed front-end origin for the request. It tries the
// explicit hint first, then the Origin and Referer headers, and falls back to the
// configured default. It never fails: an unacceptable candidate is skipped, not
// rejected, so an attacker-supplied origin can at worst select the default.
func ResolveOrigin(request *http.Request, preferredOrigin string, config ServerConfig) OriginResolution {
	candidates := []string{preferredOrigin}
	if request != nil {
		candidates = append(candidates, request.Header.Get("Origin"), request.Header.Get("Referer"))
	}

	chosen := strings.TrimRight(config.DefaultFrontendOrigin, "/")
	for _, candidate := range candidates {
		normalized, ok := normalizeOrigin(candidate)
		if !ok {
			continue
		}
		if acceptOrigin(normalized, config.AllowedFrontendOrigins) {
			chosen = normalized
			break
		}
	}

	requestHost := ""
	if request != nil {
		requestHost = hostWithoutPort(request.Host)
	}

	isLocal := isLocalHost(originHost(chosen)) || isLocalHost(requestHost)

	cookieDomain := requestHost
	if !isLocal && strings.TrimSpace(config.SharedCookieDomain) != "" {
		cookieDomain = config.SharedCookieDomain
	}

	return OriginResolution{
		FrontendURL:  chosen,
		CookieDomain: cookieDomain,
		IsLocal:      isLocal,
	}
}

// normalizeOrigin lower-cases scheme and authority and strips any path suffix.
func normalizeOrigin(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	parsed, parseErr := url.Parse(trimmed)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	return scheme + "://" + strings.ToLower(parsed.Host), true
}

// acceptOrigin applies the allow-list test: local origins are always fine,
// an empty allow-list means open mode.
func acceptOrigin(normalized string, allowed []string) bool {
	if isLocalHost(originHost(normalized)) {
		return true
	}
	if len(allowed) == 0 {
		return true
	}
	for _, entry := range allowed {
		allowedNormalized, ok := normalizeOrigin(entry)
		if ok && allowedNormalized == normalized {
			return true
		}
	}
	return false
}

func originHost(origin string) string {
	parsed, parseErr := url.Parse(origin)
	if parseErr != nil {
		return ""
	}
	return parsed.Hostname()
}

func hostWithoutPort(host string) string {
	if split, _, splitErr := net.SplitHostPort(host); splitErr == nil {
		return split
	}
	return host
}

func isLocalHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
