package privacy

import (
	"net/http"
	"net/url"
	"strings"
)

// Redacted replaces the value of sensitive headers in logs
const Redacted = "REDACTED"

var sensitiveHeaders = map[string]bool{
	"x-inbox-key":   true,
	"authorization": true,
	"cookie":        true,
}

// MaskDeviceID keeps the chr_ prefix and the last 4 characters
// Example: "chr_a1b2c3d4e5f6" -> "chr_********e5f6"
func MaskDeviceID(deviceID string) string {
	return maskPrefixed(deviceID, 4)
}

// MaskItemID keeps the itm_ prefix and the last 6 characters
func MaskItemID(itemID string) string {
	return maskPrefixed(itemID, 6)
}

// MaskSecret hides a secret entirely, preserving only whether it was set
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***MASKED***"
}

// MaskURL reduces a URL to its origin so paths and query strings stay out of info logs
// Example: "https://example.com/private?token=x" -> "https://example.com/…"
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return maskString(raw, 0)
	}
	origin := u.Scheme + "://" + u.Host
	if u.Path == "" || u.Path == "/" {
		if u.RawQuery == "" && u.Fragment == "" {
			return origin
		}
	}
	return origin + "/…"
}

// RedactHeaders flattens request headers for logging, with sensitive values replaced
func RedactHeaders(h http.Header) map[string]string {
	result := make(map[string]string, len(h))
	for key, values := range h {
		lower := strings.ToLower(key)
		if sensitiveHeaders[lower] {
			result[lower] = Redacted
			continue
		}
		result[lower] = strings.Join(values, ", ")
	}
	return result
}

func maskPrefixed(id string, keepLast int) string {
	if id == "" {
		return ""
	}
	prefix := ""
	if i := strings.IndexByte(id, '_'); i > 0 && i < len(id)-1 {
		prefix, id = id[:i+1], id[i+1:]
	}
	return prefix + maskString(id, keepLast)
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "device_id", "deviceId":
			masked[k] = MaskDeviceID(s)
		case "item_id", "itemId":
			masked[k] = MaskItemID(s)
		case "url", "endpoint":
			masked[k] = MaskURL(s)
		case "inbox_key", "inboxKey", "key_hash", "keyHash", "token", "secret":
			masked[k] = MaskSecret(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
