package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPResolution(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("parse trusted proxies: %v", err)
	}

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		trusted *TrustedProxies
		want    string
	}{
		{
			name:    "nil allowlist trusts nobody",
			remote:  "10.0.0.20:1234",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5"},
			want:    "10.0.0.20",
		},
		{
			name:    "untrusted peer ignores forwarded headers",
			remote:  "198.51.100.10:1234",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5", "X-Real-IP": "203.0.113.6"},
			trusted: trusted,
			want:    "198.51.100.10",
		},
		{
			name:    "trusted peer takes forwarded client",
			remote:  "10.0.0.20:1234",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5"},
			trusted: trusted,
			want:    "203.0.113.5",
		},
		{
			name:    "chain walks past trusted hops",
			remote:  "10.0.0.20:1234",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.10"},
			trusted: trusted,
			want:    "203.0.113.5",
		},
		{
			name:    "x-real-ip fallback when the chain is garbage",
			remote:  "10.0.0.20:1234",
			headers: map[string]string{"X-Forwarded-For": "not-an-ip", "X-Real-IP": "203.0.113.7"},
			trusted: trusted,
			want:    "203.0.113.7",
		},
		{
			name:    "fully internal chain reports its edge",
			remote:  "10.0.0.20:1234",
			headers: map[string]string{"X-Forwarded-For": "10.0.0.5, 10.0.0.10"},
			trusted: trusted,
			want:    "10.0.0.5",
		},
		{
			name:    "v4-mapped peer is unmapped before matching",
			remote:  "[::ffff:10.0.0.20]:9000",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5"},
			trusted: trusted,
			want:    "203.0.113.5",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://photos.test/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	tp, err := NewTrustedProxies([]string{" 10.0.0.0/8 ", "", "192.168.1.1"})
	if err != nil {
		t.Fatalf("valid entries rejected: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil allowlist")
	}

	if tp, err := NewTrustedProxies(nil); err != nil || tp != nil {
		t.Fatalf("empty list = (%v, %v), want (nil, nil)", tp, err)
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatal("expected error for bad prefix")
	}
	if _, err := NewTrustedProxies([]string{"bad-ip"}); err == nil {
		t.Fatal("expected error for bad address")
	}
}
