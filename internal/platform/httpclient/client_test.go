package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient() *Client {
	logger := zerolog.Nop()

	return New(100, 5*time.Second, &logger)
}

func TestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("expected User-Agent header")
		}

		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	body, err := testClient().Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if string(body) != "hello" {
		t.Errorf("Get() body = %q, want %q", body, "hello")
	}
}

func TestGet_ExtraHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Custom"); got != "yes" {
			t.Errorf("X-Custom header = %q, want %q", got, "yes")
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := testClient().Get(context.Background(), srv.URL, map[string]string{"X-Custom": "yes"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestGet_NotFoundIsNotRetried(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++

		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient().Get(context.Background(), srv.URL, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Get() error = %v, want StatusError", err)
	}

	if statusErr.Code != http.StatusNotFound {
		t.Errorf("StatusError.Code = %d, want %d", statusErr.Code, http.StatusNotFound)
	}

	if calls != 1 {
		t.Errorf("server called %d times, want 1 (no retries on 404)", calls)
	}
}

func TestPost_SendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}

		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := testClient().Post(context.Background(), srv.URL, "application/json", []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
}

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"name":"feed","count":3}`))
	}))
	defer srv.Close()

	var got struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	if err := testClient().FetchJSON(context.Background(), srv.URL, &got); err != nil {
		t.Fatalf("FetchJSON() error = %v", err)
	}

	if got.Name != "feed" || got.Count != 3 {
		t.Errorf("FetchJSON() = %+v, want {feed 3}", got)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		transient bool
		rateLtd   bool
		wantNil   bool
	}{
		{name: "ok", code: http.StatusOK, wantNil: true},
		{name: "no content", code: http.StatusNoContent, wantNil: true},
		{name: "server error", code: http.StatusInternalServerError, transient: true},
		{name: "bad gateway", code: http.StatusBadGateway, transient: true},
		{name: "too many requests", code: http.StatusTooManyRequests, rateLtd: true},
		{name: "not found", code: http.StatusNotFound},
		{name: "forbidden", code: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyStatus(&http.Response{StatusCode: tt.code, Header: http.Header{}})

			if tt.wantNil {
				if err != nil {
					t.Fatalf("classifyStatus(%d) = %v, want nil", tt.code, err)
				}

				return
			}

			if err == nil {
				t.Fatalf("classifyStatus(%d) = nil, want error", tt.code)
			}

			if got := errors.Is(err, ErrTransient); got != tt.transient {
				t.Errorf("errors.Is(err, ErrTransient) = %v, want %v", got, tt.transient)
			}

			if got := errors.Is(err, ErrRateLimited); got != tt.rateLtd {
				t.Errorf("errors.Is(err, ErrRateLimited) = %v, want %v", got, tt.rateLtd)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{name: "seconds", header: "7", want: 7 * time.Second},
		{name: "empty", header: "", want: 0},
		{name: "garbage", header: "soon", want: 0},
		{name: "negative", header: "-5", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.header); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestBrowserHeaders_RotatesAndCopies(t *testing.T) {
	first := BrowserHeaders(0)
	wrapped := BrowserHeaders(len(browserHeaderSets))

	if first["User-Agent"] != wrapped["User-Agent"] {
		t.Error("BrowserHeaders should wrap around the profile list")
	}

	second := BrowserHeaders(1)
	if second["User-Agent"] == first["User-Agent"] {
		t.Error("adjacent profiles should differ")
	}

	// Mutating the returned map must not affect the shared sets.
	first["User-Agent"] = "mutated"

	if BrowserHeaders(0)["User-Agent"] == "mutated" {
		t.Error("BrowserHeaders must return a copy")
	}
}

func TestHostLimiter_Reused(t *testing.T) {
	c := testClient()

	first := c.hostLimiter("example.com")
	second := c.hostLimiter("example.com")

	if first != second {
		t.Error("same host should share one limiter")
	}

	other := c.hostLimiter("other.com")
	if other == first {
		t.Error("different hosts should get distinct limiters")
	}
}

func TestExtractHost(t *testing.T) {
	tests := []struct {
		rawURL string
		want   string
	}{
		{rawURL: "https://Example.COM/path", want: "example.com"},
		{rawURL: "https://sub.example.com:8080/x", want: "sub.example.com:8080"},
		{rawURL: "://bad", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.rawURL, func(t *testing.T) {
			if got := extractHost(tt.rawURL); got != tt.want {
				t.Errorf("extractHost(%q) = %q, want %q", tt.rawURL, got, tt.want)
			}
		})
	}
}
