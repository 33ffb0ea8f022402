package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterAdmitsUpToLimit(t *testing.T) {
	l := NewMemoryLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Admit(ctx, "caller-1")
		if err != nil {
			t.Fatalf("Admit %d failed: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("call %d rejected, want admitted", i)
		}
		if want := 3 - i - 1; d.Remaining != want {
			t.Fatalf("call %d remaining = %d, want %d", i, d.Remaining, want)
		}
	}

	d, err := l.Admit(ctx, "caller-1")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth call admitted, want rejected")
	}
	if d.Remaining != 0 {
		t.Fatalf("rejected remaining = %d, want 0", d.Remaining)
	}
	if d.ResetAt.IsZero() {
		t.Fatal("rejected decision has zero ResetAt")
	}
}

func TestMemoryLimiterIsolatesCallers(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	ctx := context.Background()

	if d, _ := l.Admit(ctx, "caller-1"); !d.Allowed {
		t.Fatal("caller-1 first call rejected")
	}
	if d, _ := l.Admit(ctx, "caller-1"); d.Allowed {
		t.Fatal("caller-1 second call admitted, want rejected")
	}
	if d, _ := l.Admit(ctx, "caller-2"); !d.Allowed {
		t.Fatal("caller-2 rejected by caller-1's window")
	}
}

func TestMemoryLimiterWindowSlides(t *testing.T) {
	now := time.Now()
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	l.Admit(ctx, "caller-1")
	l.Admit(ctx, "caller-1")
	if d, _ := l.Admit(ctx, "caller-1"); d.Allowed {
		t.Fatal("third call in window admitted, want rejected")
	}

	// Advance past the window; old markers fall out.
	now = now.Add(61 * time.Second)
	d, _ := l.Admit(ctx, "caller-1")
	if !d.Allowed {
		t.Fatal("call after window slide rejected, want admitted")
	}
	if d.Remaining != 1 {
		t.Fatalf("remaining after slide = %d, want 1", d.Remaining)
	}
}

func TestMemoryLimiterResetAtTracksOldestMarker(t *testing.T) {
	now := time.Now()
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	first := now
	l.Admit(ctx, "caller-1")

	now = now.Add(10 * time.Second)
	d, _ := l.Admit(ctx, "caller-1")

	want := first.Add(time.Minute)
	if !d.ResetAt.Equal(want) {
		t.Fatalf("ResetAt = %v, want %v (oldest marker + window)", d.ResetAt, want)
	}
}
