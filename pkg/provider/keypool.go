package provider

import (
	"context"
	"log/slog"
	"sync"
)

// KeyStore persists API-key eviction so a key rejected by the provider is
// not retried after a restart.
type KeyStore interface {
	DeleteKey(ctx context.Context, key string) error
}

// KeyPool is an ordered collection of provider API keys. The head is the
// current key; eviction removes a key from the pool and from its
// persistent backing in the same critical section.
type KeyPool struct {
	mu    sync.Mutex
	keys  []string
	store KeyStore
}

// NewKeyPool builds a pool in insertion order. store may be nil when
// eviction should not be persisted.
func NewKeyPool(keys []string, store KeyStore) *KeyPool {
	kp := &KeyPool{store: store}
	kp.keys = make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kp.keys = append(kp.keys, k)
	}
	return kp
}

// Snapshot returns the current key order. The returned slice is a copy.
func (p *KeyPool) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len reports how many keys remain.
func (p *KeyPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Evict removes key from the pool and its persistent backing. Unknown
// keys are ignored.
func (p *KeyPool) Evict(ctx context.Context, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i, k := range p.keys {
		if k == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	p.keys = append(p.keys[:idx], p.keys[idx+1:]...)

	if p.store != nil {
		if err := p.store.DeleteKey(ctx, key); err != nil {
			slog.Warn("failed to persist key eviction",
				slog.String("key_prefix", prefix(key)),
				slog.String("error", err.Error()))
		}
	}
	slog.Warn("provider API key evicted",
		slog.String("key_prefix", prefix(key)),
		slog.Int("remaining", len(p.keys)))
}

func prefix(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
