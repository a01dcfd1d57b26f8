package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildIPExtractor(t *testing.T) {
	extract := buildIPExtractor([]string{"10.0.0.0/8", "not-a-cidr"})

	tests := []struct {
		name   string
		remote string
		xff    string
		realIP string
		want   string
	}{
		{"direct client", "203.0.113.9:5000", "", "", "203.0.113.9"},
		{"untrusted peer headers ignored", "203.0.113.9:5000", "198.51.100.1", "198.51.100.2", "203.0.113.9"},
		{"trusted proxy real ip", "10.1.2.3:5000", "198.51.100.1", "198.51.100.2", "198.51.100.2"},
		{"trusted proxy forwarded", "10.1.2.3:5000", "198.51.100.1, 10.1.2.3", "", "198.51.100.1"},
		{"spoofed leftmost hop skipped", "10.1.2.3:5000", "192.0.2.77, 198.51.100.1", "", "198.51.100.1"},
		{"malformed real ip falls through", "10.1.2.3:5000", "198.51.100.1", "not-an-ip", "198.51.100.1"},
		{"malformed forwarded hop", "10.1.2.3:5000", "garbage", "", "10.1.2.3"},
		{"only trusted hops", "10.1.2.3:5000", "10.9.9.9, 10.1.2.3", "", "10.9.9.9"},
		{"trusted proxy no headers", "10.1.2.3:5000", "", "", "10.1.2.3"},
		{"mapped ipv4 peer", "[::ffff:203.0.113.9]:5000", "", "", "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, extract(req))
		})
	}
}
