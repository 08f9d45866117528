package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"http://Example.com", "http://example.com", true},
		{"HTTPS://example.com:8443/path?q=1", "https://example.com:8443", true},
		{"example.com", "", false},
		{"http://", "", false},
		{"://missing", "", false},
	}
	for _, tt := range tests {
		got, ok := normalizeOrigin(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("normalizeOrigin(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizeOriginsSkipsInvalid(t *testing.T) {
	got, allowAll := normalizeOrigins([]string{" http://a.test ", "", "bogus", "*"}, zap.NewNop())
	if !allowAll {
		t.Error("expected wildcard to set allowAll")
	}
	if len(got) != 1 || got[0] != "http://a.test" {
		t.Errorf("normalized = %v", got)
	}
}

func TestOriginPolicyCheck(t *testing.T) {
	p := newOriginPolicy([]string{"http://a.test"}, zap.NewNop())

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	if !p.checkOrigin(req("http://A.test")) {
		t.Error("expected allowed origin to pass")
	}
	if p.checkOrigin(req("http://b.test")) {
		t.Error("expected unlisted origin to fail")
	}
	if p.checkOrigin(req("")) {
		t.Error("expected missing origin to fail")
	}
}
