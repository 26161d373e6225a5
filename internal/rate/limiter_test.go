package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterWindow(t *testing.T) {
	t.Parallel()
	l := NewMemoryLimiter(3, time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	l.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "acme.example.com")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("hit %d must be allowed", i+1)
		}
	}
	res, err := l.Allow(ctx, "acme.example.com")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if res.Allowed {
		t.Fatal("fourth hit must be rejected")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Fatalf("retry after out of range: %v", res.RetryAfter)
	}

	// otra clave no comparte la ventana
	if res, _ := l.Allow(ctx, "otro.example.com"); !res.Allowed {
		t.Fatal("distinct key must have its own window")
	}

	// la ventana siguiente resetea el contador
	base = base.Add(time.Minute)
	if res, _ := l.Allow(ctx, "acme.example.com"); !res.Allowed {
		t.Fatal("new window must reset hits")
	}
}
