package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		expectedIP string
	}{
		{
			name:       "RemoteAddr IPv4",
			remoteAddr: "192.0.2.10:5555",
			expectedIP: "192.0.2.10",
		},
		{
			name:       "RemoteAddr IPv6 with brackets",
			remoteAddr: "[2001:db8::2]:443",
			expectedIP: "2001:db8::2",
		},
		{
			name:       "RemoteAddr without port",
			remoteAddr: "192.0.2.11",
			expectedIP: "192.0.2.11",
		},
		{
			name:       "proxy headers ignored when untrusted",
			remoteAddr: "192.0.2.10:5555",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5", "CF-Connecting-IP": "198.51.100.1"},
			expectedIP: "192.0.2.10",
		},
		{
			name:       "CF-Connecting-IP wins when trusted",
			remoteAddr: "192.0.2.10:5555",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5", "CF-Connecting-IP": "198.51.100.1"},
			trustProxy: true,
			expectedIP: "198.51.100.1",
		},
		{
			name:       "X-Forwarded-For takes first hop",
			remoteAddr: "192.0.2.10:5555",
			headers:    map[string]string{"X-Forwarded-For": " 198.51.100.7, 203.0.113.9"},
			trustProxy: true,
			expectedIP: "198.51.100.7",
		},
		{
			name:       "X-Forwarded-For IPv6",
			remoteAddr: "192.0.2.10:5555",
			headers:    map[string]string{"X-Forwarded-For": "2001:db8::1, 203.0.113.9"},
			trustProxy: true,
			expectedIP: "2001:db8::1",
		},
		{
			name:       "X-Real-IP with port",
			remoteAddr: "192.0.2.10:5555",
			headers:    map[string]string{"X-Real-IP": "[2001:db8::3]:8080"},
			trustProxy: true,
			expectedIP: "2001:db8::3",
		},
		{
			name:       "empty forwarded hop falls through",
			remoteAddr: "192.0.2.10:5555",
			headers:    map[string]string{"X-Forwarded-For": " , 203.0.113.9"},
			trustProxy: true,
			expectedIP: "192.0.2.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "http://beam.test/v1/inbox/chr_abcdef", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.expectedIP, GetClientIP(r, tt.trustProxy))
		})
	}
}
