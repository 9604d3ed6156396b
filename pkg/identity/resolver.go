package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/appledex/appledex/pkg/cache"
	"github.com/appledex/appledex/pkg/types"
)

// ipCacheTTL bounds how long a resolved IP identity may be served from
// cache before the store is consulted again.
const ipCacheTTL = 300 * time.Second

// touchTimeout bounds the background last-used update.
const touchTimeout = 5 * time.Second

// IdentityStore is the subset of Store the resolver depends on.
type IdentityStore interface {
	LookupToken(ctx context.Context, token string) (*types.Identity, error)
	LookupIPIdentity(ctx context.Context, ip string) (*types.Identity, error)
	TouchIP(ctx context.Context, ip, userID string)
}

// Resolver determines the identity behind each request: bearer token
// first, then authorized IP, then anonymous. Store failures degrade to
// the next tier rather than failing the request.
type Resolver struct {
	store IdentityStore
	cache cache.Cache
}

// NewResolver builds a resolver. The cache may be nil, in which case
// every IP lookup hits the store.
func NewResolver(store IdentityStore, c cache.Cache) *Resolver {
	return &Resolver{store: store, cache: c}
}

// Resolve returns the request identity. It never fails: the weakest
// outcome is an anonymous identity keyed by client IP.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) types.Identity {
	ip := ClientIP(req)

	if token := bearerToken(req); token != "" {
		id, err := r.store.LookupToken(ctx, token)
		if err != nil {
			slog.Warn("token lookup failed, falling back to ip identity",
				slog.String("error", err.Error()))
		} else if id != nil {
			return *id
		}
	}

	if id := r.resolveIP(ctx, ip); id != nil {
		return *id
	}

	return types.Identity{
		Kind:   types.IdentityAnon,
		UserID: "anon_" + ip,
		Plan:   types.PlanHobby,
	}
}

// resolveIP checks the cache, then the store. A cache hit schedules an
// asynchronous last-used touch; a store hit populates the cache.
func (r *Resolver) resolveIP(ctx context.Context, ip string) *types.Identity {
	key := "ip_identity:" + ip

	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, key); err == nil {
			var id types.Identity
			if err := json.Unmarshal(raw, &id); err == nil {
				go func() {
					tctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
					defer cancel()
					r.store.TouchIP(tctx, ip, id.UserID)
				}()
				return &id
			}
		}
	}

	id, err := r.store.LookupIPIdentity(ctx, ip)
	if err != nil {
		slog.Warn("ip identity lookup failed, falling back to anonymous",
			slog.String("ip", ip),
			slog.String("error", err.Error()))
		return nil
	}
	if id == nil {
		return nil
	}

	if r.cache != nil {
		if raw, err := json.Marshal(id); err == nil {
			if err := r.cache.Set(ctx, key, raw, ipCacheTTL); err != nil {
				slog.Warn("failed to cache ip identity", slog.String("error", err.Error()))
			}
		}
	}
	return id
}

// ClientIP extracts the client address, preferring proxy headers in
// order: cf-connecting-ip, first x-forwarded-for entry, x-real-ip, then
// the direct peer address. Returns "unknown" when nothing is available.
func ClientIP(req *http.Request) string {
	if v := strings.TrimSpace(req.Header.Get("Cf-Connecting-Ip")); v != "" {
		return v
	}
	if v := req.Header.Get("X-Forwarded-For"); v != "" {
		first, _, _ := strings.Cut(v, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if v := strings.TrimSpace(req.Header.Get("X-Real-Ip")); v != "" {
		return v
	}
	if req.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
			return host
		}
		return req.RemoteAddr
	}
	return "unknown"
}

// bearerToken extracts the Authorization bearer token, if any.
func bearerToken(req *http.Request) string {
	auth := req.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
