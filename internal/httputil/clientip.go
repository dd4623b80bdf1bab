package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP used for rate limiting.
// Proxy headers (CF-Connecting-IP, then the first X-Forwarded-For hop, then
// X-Real-IP) are honoured only when trustProxy is set; otherwise a caller
// could pick its own rate-limit bucket. IPv6 addresses keep no brackets.
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := cleanIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := cleanIP(first); ip != "" {
				return ip
			}
		}
		if ip := cleanIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return ip
}

func cleanIP(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		return host
	}
	return strings.Trim(value, "[]")
}
