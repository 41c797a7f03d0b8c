package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newWebServer(t *testing.T, cfg *Config) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(newRouter(ctx, cfg, nil, make(chan error, 16)))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func noRedirects(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func TestStaticRoutes(t *testing.T) {
	t.Parallel()

	srv := newWebServer(t, newTestConfig())

	cases := []struct {
		path        string
		status      int
		contentType string
		contains    string
	}{
		{"/", http.StatusOK, "text/html", "Hand Cricket"},
		{"/healthz", http.StatusOK, "text/plain", "Ok"},
		{"/version", http.StatusOK, "text/plain", "handcricket v" + releaseVersion},
		{"/robots.txt", http.StatusOK, "text/plain", "Disallow: /play/"},
		{"/assets/app.js", http.StatusOK, "text/javascript", "WebSocket"},
		{"/assets/app.css", http.StatusOK, "text/css", ""},
		{"/assets/../go.mod", http.StatusNotFound, "", ""},
		{"/favicon.ico", http.StatusOK, "image/svg+xml", "<svg"},
	}

	for _, c := range cases {
		resp, body := get(t, srv.URL+c.path)
		if resp.StatusCode != c.status {
			t.Fatalf("%s status = %d, want %d", c.path, resp.StatusCode, c.status)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, c.contentType) {
			t.Fatalf("%s content type = %q", c.path, ct)
		}
		if !strings.Contains(body, c.contains) {
			t.Fatalf("%s body missing %q", c.path, c.contains)
		}
	}
}

func TestNewRoomRedirect(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig()
	cfg.prefix = "/hc"
	srv := newWebServer(t, cfg)

	client := &http.Client{CheckRedirect: noRedirects}
	for _, path := range []string{"/play", "/solo"} {
		resp, err := client.Get(srv.URL + "/hc" + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusTemporaryRedirect {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
		loc := resp.Header.Get("Location")
		id := strings.TrimPrefix(loc, "/hc"+path+"/")
		if id == loc || !validRoomID(id) {
			t.Fatalf("%s redirected to %q", path, loc)
		}
	}
}

func TestRoomPageSetsCookie(t *testing.T) {
	t.Parallel()

	srv := newWebServer(t, newTestConfig())

	resp, body := get(t, srv.URL+"/play/abc123")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "app.js") {
		t.Fatalf("room page status = %d", resp.StatusCode)
	}

	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == playerCookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("room page did not assign a player cookie")
	}

	if resp, _ := get(t, srv.URL+"/play/not-valid"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid room status = %d", resp.StatusCode)
	}
}

func TestRoomQRCode(t *testing.T) {
	t.Parallel()

	srv := newWebServer(t, newTestConfig())

	resp, body := get(t, srv.URL+"/solo/abc123/qr")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("qr status = %d, type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !bytes.HasPrefix([]byte(body), []byte("\x89PNG")) {
		t.Fatal("qr body is not a PNG")
	}
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	securityHeaders(newTestConfig(), w)
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "ws:") {
		t.Fatalf("csp = %q", csp)
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("hsts set without tls")
	}

	tls := newTestConfig()
	tls.tlsCert, tls.tlsKey = "c.pem", "k.pem"
	w = httptest.NewRecorder()
	securityHeaders(tls, w)
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("hsts missing with tls")
	}
}

func TestRealIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := realIP(r); got != "10.0.0.1:5555" {
		t.Fatalf("realIP = %q", got)
	}

	r.Header.Set("X-Real-IP", "203.0.113.9")
	if got := realIP(r); got != "203.0.113.9:5555" {
		t.Fatalf("realIP with X-Real-IP = %q", got)
	}

	r.Header.Set("CF-Connecting-IP", "2001:db8::1")
	if got := realIP(r); got != "[2001:db8::1]:5555" {
		t.Fatalf("realIP with CF-Connecting-IP = %q", got)
	}
}
