package perf

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dersa/ecoquality/internal/rbac"
	"github.com/dersa/ecoquality/internal/shared"
)

func seededService(tb testing.TB, opts ...rbac.Option) *rbac.Service {
	tb.Helper()
	ctx := context.Background()
	svc := rbac.NewService(rbac.NewMemoryStore(), opts...)
	if _, err := rbac.Bootstrap(ctx, svc, rbac.DefaultCatalog()); err != nil {
		tb.Fatalf("bootstrap: %v", err)
	}
	for i, key := range []string{"quality_technician", "production_manager"} {
		role, err := svc.GetRoleByKey(ctx, key)
		if err != nil {
			tb.Fatalf("role %s: %v", key, err)
		}
		if err := svc.AssignRole(ctx, 1, role.ID, 0); err != nil {
			tb.Fatalf("assign %d: %v", i, err)
		}
	}
	return svc
}

func TestDecisionLatencyTargets(t *testing.T) {
	svc := seededService(t)
	perms := []string{shared.PermLotView, shared.PermQualityTestApprove, shared.PermEnergyDelete, "unknown.thing"}

	samples := make([]time.Duration, 0, 400)
	for i := 0; i < 400; i++ {
		start := time.Now()
		svc.IsPermitted(context.Background(), 1, perms[i%len(perms)])
		samples = append(samples, time.Since(start))
	}
	if p95 := percentile95(samples); p95 > 20*time.Millisecond {
		t.Fatalf("cold decision latency regression: p95=%s", p95)
	}

	ctx := rbac.WithRequestMemo(context.Background())
	samples = samples[:0]
	for i := 0; i < 400; i++ {
		start := time.Now()
		svc.IsPermitted(ctx, 1, perms[i%len(perms)])
		samples = append(samples, time.Since(start))
	}
	if p95 := percentile95(samples); p95 > 2*time.Millisecond {
		t.Fatalf("memoised decision latency regression: p95=%s", p95)
	}
}

func BenchmarkIsPermittedStore(b *testing.B) {
	svc := seededService(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		svc.IsPermitted(ctx, 1, shared.PermLotView)
	}
}

func BenchmarkIsPermittedMemo(b *testing.B) {
	svc := seededService(b)
	ctx := rbac.WithRequestMemo(context.Background())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		svc.IsPermitted(ctx, 1, shared.PermLotView)
	}
}

func BenchmarkIsPermittedRedisCache(b *testing.B) {
	mr := miniredis.RunT(b)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	svc := seededService(b, rbac.WithCache(rbac.NewCache(client, time.Minute)))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		svc.IsPermitted(ctx, 1, shared.PermLotView)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted))*0.95+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
