package ipaddr

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatCIDR(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"203.0.113.7", "203.0.113.7/32"},
		{"203.0.113.9/32", "203.0.113.9/32"},
		{"", "/32"},
		{"not-an-ip", "not-an-ip/32"},
		{"10.0.0.0/24", "10.0.0.0/24/32"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := FormatCIDR(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, strings.HasSuffix(got, "/32"))
			assert.Equal(t, got, FormatCIDR(got))
		})
	}
}

func TestDiscover(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, "203.0.113.7\n")
	}))
	defer srv.Close()

	d := &Discoverer{URL: srv.URL, Client: srv.Client()}
	ip, err := d.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.7", ip)
	assert.True(t, strings.HasPrefix(gotUA, "curl/"))
}

func TestDiscoverDoesNotValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "whatever")
	}))
	defer srv.Close()

	ip, err := (&Discoverer{URL: srv.URL}).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "whatever", ip)
}

func TestDiscoverHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := (&Discoverer{URL: srv.URL, Client: srv.Client()}).Discover(context.Background())
	assert.ErrorContains(t, err, "HTTP 503")
}

func TestDiscoverCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "203.0.113.7")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Discoverer{URL: srv.URL, Client: srv.Client()}).Discover(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCurrentUser(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		want    string
	}{
		{"logname first", map[string]string{"LOGNAME": "alice", "USER": "bob"}, "alice"},
		{"user", map[string]string{"USER": "bob", "USERNAME": "carol"}, "bob"},
		{"lname", map[string]string{"LNAME": "dave"}, "dave"},
		{"username", map[string]string{"USERNAME": "carol"}, "carol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CurrentUser(tt.environ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
