package rbac

import (
	"context"
	"sync"
)

type principalContextKey struct{}

type memoContextKey struct{}

// ContextWithPrincipal stores the authorized principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the authorized principal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// requestMemo holds effective sets computed during one request.
type requestMemo struct {
	mu   sync.Mutex
	sets map[int64]EffectiveSet
}

// WithRequestMemo installs a per-request memo for effective sets. Calling
// it on a context that already carries one returns ctx unchanged.
func WithRequestMemo(ctx context.Context) context.Context {
	if memoFromContext(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, memoContextKey{}, &requestMemo{sets: make(map[int64]EffectiveSet)})
}

func memoFromContext(ctx context.Context) *requestMemo {
	m, _ := ctx.Value(memoContextKey{}).(*requestMemo)
	return m
}

func (m *requestMemo) get(principalID int64) (EffectiveSet, bool) {
	if m == nil {
		return EffectiveSet{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[principalID]
	return set, ok
}

func (m *requestMemo) put(principalID int64, set EffectiveSet) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[principalID] = set
}

func (m *requestMemo) reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets = make(map[int64]EffectiveSet)
}
