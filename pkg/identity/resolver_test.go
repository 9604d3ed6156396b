package identity

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/appledex/appledex/pkg/cache"
	"github.com/appledex/appledex/pkg/types"
)

type fakeStore struct {
	tokenIdentity *types.Identity
	tokenErr      error
	ipIdentity    *types.Identity
	ipErr         error

	tokenLookups int
	ipLookups    int
	touched      chan string
}

func newFakeStore() *fakeStore {
	return &fakeStore{touched: make(chan string, 8)}
}

func (f *fakeStore) LookupToken(ctx context.Context, token string) (*types.Identity, error) {
	f.tokenLookups++
	return f.tokenIdentity, f.tokenErr
}

func (f *fakeStore) LookupIPIdentity(ctx context.Context, ip string) (*types.Identity, error) {
	f.ipLookups++
	return f.ipIdentity, f.ipErr
}

func (f *fakeStore) TouchIP(ctx context.Context, ip, userID string) {
	f.touched <- ip
}

func newRequest(headers map[string]string) *http.Request {
	req, _ := http.NewRequest(http.MethodPost, "/mcp", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestResolver_TokenTakesPrecedence(t *testing.T) {
	store := newFakeStore()
	store.tokenIdentity = &types.Identity{
		Kind:        types.IdentityToken,
		UserID:      "user-1",
		Plan:        types.PlanPro,
		TokenPrefix: "tok_abcd",
	}
	store.ipIdentity = &types.Identity{Kind: types.IdentityIP, UserID: "user-2", Plan: types.PlanHobby}

	r := NewResolver(store, nil)
	id := r.Resolve(context.Background(), newRequest(map[string]string{
		"Authorization": "Bearer tok_abcdef123456",
	}))

	if id.Kind != types.IdentityToken || id.UserID != "user-1" {
		t.Errorf("expected token identity for user-1, got %+v", id)
	}
	if store.ipLookups != 0 {
		t.Errorf("expected no ip lookup when token resolves, got %d", store.ipLookups)
	}
}

func TestResolver_TokenErrorDegradesToIP(t *testing.T) {
	store := newFakeStore()
	store.tokenErr = context.DeadlineExceeded
	store.ipIdentity = &types.Identity{Kind: types.IdentityIP, UserID: "user-2", Plan: types.PlanEnterprise}

	r := NewResolver(store, nil)
	id := r.Resolve(context.Background(), newRequest(map[string]string{
		"Authorization": "Bearer whatever",
	}))

	if id.Kind != types.IdentityIP || id.UserID != "user-2" {
		t.Errorf("expected ip identity after token failure, got %+v", id)
	}
}

func TestResolver_AnonymousFallback(t *testing.T) {
	store := newFakeStore()

	r := NewResolver(store, nil)
	id := r.Resolve(context.Background(), newRequest(nil))

	if id.Kind != types.IdentityAnon {
		t.Fatalf("expected anonymous identity, got %+v", id)
	}
	if id.UserID != "anon_192.0.2.10" {
		t.Errorf("expected anon_192.0.2.10, got %q", id.UserID)
	}
	if id.Plan != types.PlanHobby {
		t.Errorf("expected hobby plan, got %q", id.Plan)
	}
}

func TestResolver_IPErrorDegradesToAnonymous(t *testing.T) {
	store := newFakeStore()
	store.ipErr = context.DeadlineExceeded

	r := NewResolver(store, nil)
	id := r.Resolve(context.Background(), newRequest(nil))

	if id.Kind != types.IdentityAnon {
		t.Errorf("expected anonymous identity after store failure, got %+v", id)
	}
}

func TestResolver_CacheHitSkipsStoreAndTouches(t *testing.T) {
	store := newFakeStore()
	store.ipIdentity = &types.Identity{Kind: types.IdentityIP, UserID: "user-7", Plan: types.PlanPro}

	c := cache.NewMemoryCache(cache.DefaultConfig())
	defer func() { _ = c.Close() }()

	r := NewResolver(store, c)
	req := newRequest(nil)

	// First resolve populates the cache from the store.
	first := r.Resolve(context.Background(), req)
	if first.UserID != "user-7" || store.ipLookups != 1 {
		t.Fatalf("expected store-backed resolve, got %+v (lookups=%d)", first, store.ipLookups)
	}

	// Second resolve is served from cache and touches asynchronously.
	second := r.Resolve(context.Background(), req)
	if second.UserID != "user-7" {
		t.Fatalf("expected cached identity, got %+v", second)
	}
	if store.ipLookups != 1 {
		t.Errorf("expected cache hit to skip store, lookups = %d", store.ipLookups)
	}

	select {
	case ip := <-store.touched:
		if ip != "192.0.2.10" {
			t.Errorf("touched wrong ip: %s", ip)
		}
	case <-time.After(time.Second):
		t.Error("expected asynchronous touch after cache hit")
	}
}

func TestClientIP_HeaderPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name: "cloudflare wins",
			headers: map[string]string{
				"Cf-Connecting-Ip": "203.0.113.1",
				"X-Forwarded-For":  "198.51.100.2, 10.0.0.1",
				"X-Real-Ip":        "198.51.100.3",
			},
			want: "203.0.113.1",
		},
		{
			name: "first forwarded entry",
			headers: map[string]string{
				"X-Forwarded-For": " 198.51.100.2 , 10.0.0.1",
				"X-Real-Ip":       "198.51.100.3",
			},
			want: "198.51.100.2",
		},
		{
			name:    "real ip",
			headers: map[string]string{"X-Real-Ip": "198.51.100.3"},
			want:    "198.51.100.3",
		},
		{
			name:    "direct peer",
			headers: nil,
			want:    "192.0.2.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClientIP(newRequest(tt.headers))
			if got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP_Unknown(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "/mcp", nil)
	req.RemoteAddr = ""
	if got := ClientIP(req); got != "unknown" {
		t.Errorf("expected unknown, got %q", got)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		auth string
		want string
	}{
		{"", ""},
		{"Bearer tok_123", "tok_123"},
		{"bearer tok_123", "tok_123"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer ", ""},
	}

	for _, tt := range tests {
		req := newRequest(nil)
		if tt.auth != "" {
			req.Header.Set("Authorization", tt.auth)
		}
		if got := bearerToken(req); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.auth, got, tt.want)
		}
	}
}
