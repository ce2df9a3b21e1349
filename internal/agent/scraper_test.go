package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/karthikpremaram/mills-new/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScraper_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("<html>hello</html>"))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/throttled":
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	s := NewScraper(time.Second)
	ctx := context.Background()

	body, err := s.Fetch(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "<html>hello</html>", body)

	_, err = s.Fetch(ctx, srv.URL+"/missing")
	assert.True(t, domain.IsPermanent(err))

	_, err = s.Fetch(ctx, srv.URL+"/down")
	assert.True(t, domain.IsTransient(err))

	_, err = s.Fetch(ctx, srv.URL+"/throttled")
	assert.True(t, domain.IsTransient(err))
}

func TestScraper_FetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	s := NewScraper(time.Second)
	_, err := s.Fetch(context.Background(), srv.URL)
	assert.True(t, domain.IsTransient(err))
}

func TestScraper_Links(t *testing.T) {
	s := NewScraper(time.Second)

	html := `
		<a href="/about">About</a>
		<a href="/about">About again</a>
		<a href="https://example.com/pricing">Pricing</a>
		<a href="https://other.example.org/external">External</a>
		<a href="mailto:team@example.com">Mail</a>
		<a href="/contact#form">Contact</a>
		<a href="/careers">Careers</a>
	`

	links := s.Links("https://example.com", html, 3)
	assert.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/pricing",
		"https://example.com/contact",
	}, links)

	assert.Nil(t, s.Links("https://example.com", html, 0))
	assert.Nil(t, s.Links("://bad", html, 3))
}
