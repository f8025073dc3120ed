package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/sgurl/internal/sgurl/domain"
)

func endpointOf(t *testing.T, raw string) domain.Endpoint {
	t.Helper()
	e, err := domain.NormalizeEndpoint(raw)
	require.NoError(t, err)
	return e
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// fakeInstance serves a scripted GraphQL API and records the last request.
type fakeInstance struct {
	mu      sync.Mutex
	status  int
	body    string
	lastReq request
	lastHdr http.Header
	lastURL string
}

func (f *fakeInstance) server(t *testing.T) (*httptest.Server, domain.Endpoint) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastHdr = r.Header.Clone()
		f.lastURL = r.URL.String()
		_ = json.NewDecoder(r.Body).Decode(&f.lastReq)
		f.mu.Unlock()
		if f.status != 0 {
			w.WriteHeader(f.status)
		}
		_, _ = w.Write([]byte(f.body))
	}))
	t.Cleanup(srv.Close)
	return srv, endpointOf(t, srv.URL)
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr bool
	}{
		{name: "cloned", body: `{"data":{"repository":{"mirrorInfo":{"cloned":true}}}}`, want: true},
		{name: "not cloned", body: `{"data":{"repository":{"mirrorInfo":{"cloned":false}}}}`, want: false},
		{name: "unknown repository", body: `{"data":{"repository":null}}`, want: false},
		{name: "graphql error", body: `{"data":null,"errors":[{"message":"repo not found"}]}`, wantErr: true},
		{name: "empty data", body: `{}`, wantErr: true},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, wantErr: true},
		{name: "garbage", body: `<html>`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeInstance{status: tt.status, body: tt.body}
			_, endpoint := f.server(t)

			c := NewClient(Options{Token: "sgp_secret", Timeout: 2 * time.Second})
			got, err := c.Probe(context.Background(), endpoint, "github.com/acme/api")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			f.mu.Lock()
			defer f.mu.Unlock()
			assert.Equal(t, "/.api/graphql?ResolveRawRepoName", f.lastURL)
			assert.Equal(t, "github.com/acme/api", f.lastReq.Variables["repoName"])
			assert.Contains(t, f.lastReq.Query, "mirrorInfo")
			assert.Equal(t, "token sgp_secret", f.lastHdr.Get("Authorization"))
			assert.Equal(t, "application/json", f.lastHdr.Get("Content-Type"))
		})
	}
}

func TestProbe_NoTokenNoAuthHeader(t *testing.T) {
	f := &fakeInstance{body: `{"data":{"repository":null}}`}
	_, endpoint := f.server(t)

	_, err := NewClient(Options{}).Probe(context.Background(), endpoint, "r")
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Empty(t, f.lastHdr.Get("Authorization"))
	assert.Equal(t, "sgurl", f.lastHdr.Get("User-Agent"))
}

func TestProbe_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := endpointOf(t, srv.URL)
	srv.Close()

	_, err := NewClient(Options{Timeout: time.Second}).Probe(context.Background(), endpoint, "r")
	require.Error(t, err)
}

func TestProbe_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() { close(block); srv.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient(Options{}).Probe(ctx, endpointOf(t, srv.URL), "r")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{name: "ok", body: `{"data":{"site":{"productVersion":"5.1.0"}}}`, want: "5.1.0"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, wantErr: ErrEndpointAuth},
		{name: "forbidden", status: http.StatusForbidden, body: `{}`, wantErr: ErrEndpointAuth},
		{name: "not sourcegraph", status: http.StatusNotFound, body: `not found`, wantErr: ErrEndpointUnreachable},
		{name: "no site", body: `{"data":{"site":null}}`, wantErr: ErrEndpointUnreachable},
		{name: "graphql errors", body: `{"errors":[{"message":"nope"}]}`, wantErr: ErrEndpointUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeInstance{status: tt.status, body: tt.body}
			_, endpoint := f.server(t)

			got, err := NewClient(Options{}).CheckEndpoint(context.Background(), endpoint)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			f.mu.Lock()
			defer f.mu.Unlock()
			assert.Equal(t, "/.api/graphql?SiteProductVersion", f.lastURL)
		})
	}
}

func TestCheckEndpoint_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := endpointOf(t, srv.URL)
	srv.Close()

	_, err := NewClient(Options{Timeout: time.Second}).CheckEndpoint(context.Background(), endpoint)
	require.ErrorIs(t, err, ErrEndpointUnreachable)
}

func TestProbe_CustomTransport(t *testing.T) {
	var mu sync.Mutex
	var seen []*http.Request
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		seen = append(seen, r)
		mu.Unlock()
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"data":{"repository":{"mirrorInfo":{"cloned":true}}}}`)),
			Request:    r,
		}, nil
	})

	c := NewClient(Options{Token: " sgp_secret ", UserAgent: "sgurl/test", Transport: rt})
	for i := 0; i < 2; i++ {
		got, err := c.Probe(context.Background(), "https://sourcegraph.example.com", "github.com/acme/api")
		require.NoError(t, err)
		assert.True(t, got)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	for _, r := range seen {
		assert.Equal(t, "https://sourcegraph.example.com/.api/graphql?ResolveRawRepoName", r.URL.String())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "token sgp_secret", r.Header.Get("Authorization"))
		assert.Equal(t, "sgurl/test", r.Header.Get("User-Agent"))
		assert.Equal(t, "Sourcegraph", r.Header.Get("X-Requested-With"))
	}
}

func TestProbe_TransportErrorIsWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	rt := roundTripFunc(func(*http.Request) (*http.Response, error) { return nil, boom })

	_, err := NewClient(Options{Transport: rt}).Probe(context.Background(), "https://sourcegraph.example.com", "r")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "/.api/graphql?ResolveRawRepoName")
}
