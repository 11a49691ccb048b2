package admission

import (
	"context"
	"sync"
	"testing"
)

func TestLocalLimiterBound(t *testing.T) {
	l := NewLocalLimiter(5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := l.TryAcquire(ctx, "cust_1")
		if err != nil || !ok {
			t.Fatalf("acquire %d = (%v, %v), want granted", i, ok, err)
		}
	}
	ok, err := l.TryAcquire(ctx, "cust_1")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if ok {
		t.Fatalf("6th acquire should be denied at limit 5")
	}
	if n, _ := l.ActiveCount(ctx, "cust_1"); n != 5 {
		t.Fatalf("ActiveCount = %d, want 5", n)
	}
}

func TestLocalLimiterConcurrentAcquire(t *testing.T) {
	l := NewLocalLimiter(5)
	ctx := context.Background()

	const callers = 32
	var wg sync.WaitGroup
	granted := make(chan struct{}, callers)
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := l.TryAcquire(ctx, "cust_1")
			if err != nil {
				t.Errorf("TryAcquire() error = %v", err)
				return
			}
			if ok {
				granted <- struct{}{}
			}
		}()
	}
	close(start)
	wg.Wait()
	close(granted)

	var got int
	for range granted {
		got++
	}
	if got != 5 {
		t.Fatalf("granted = %d, want exactly 5", got)
	}
	if n, _ := l.ActiveCount(ctx, "cust_1"); n != 5 {
		t.Fatalf("ActiveCount = %d, want 5", n)
	}
}

func TestLocalLimiterConservation(t *testing.T) {
	l := NewLocalLimiter(5)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := l.TryAcquire(ctx, "cust_1"); !ok {
			t.Fatalf("acquire %d denied below limit", i)
		}
	}
	for i := 0; i < 3; i++ {
		if err := l.Release(ctx, "cust_1"); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
	}
	if n, _ := l.ActiveCount(ctx, "cust_1"); n != 0 {
		t.Fatalf("count after balanced release = %d, want 0", n)
	}
}

func TestLocalLimiterReleaseClampsAtFloor(t *testing.T) {
	l := NewLocalLimiter(5)
	ctx := context.Background()

	if err := l.Release(ctx, "cust_1"); err != nil {
		t.Fatalf("floor release should not fail: %v", err)
	}
	if n, _ := l.ActiveCount(ctx, "cust_1"); n != 0 {
		t.Fatalf("count after floor release = %d, want 0", n)
	}
	// A later acquire still works normally.
	if ok, _ := l.TryAcquire(ctx, "cust_1"); !ok {
		t.Fatalf("acquire after floor release should be granted")
	}
	if n, _ := l.ActiveCount(ctx, "cust_1"); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestLocalLimiterTenantOverrideAndIsolation(t *testing.T) {
	l := NewLocalLimiter(5)
	l.SetTenantLimit("cust_big", 2)
	ctx := context.Background()

	if got := l.Limit("cust_big"); got != 2 {
		t.Fatalf("Limit(cust_big) = %d, want 2", got)
	}
	if got := l.Limit("cust_other"); got != 5 {
		t.Fatalf("Limit(cust_other) = %d, want default 5", got)
	}

	for i := 0; i < 2; i++ {
		if ok, _ := l.TryAcquire(ctx, "cust_big"); !ok {
			t.Fatalf("acquire %d denied below override limit", i)
		}
	}
	if ok, _ := l.TryAcquire(ctx, "cust_big"); ok {
		t.Fatalf("acquire above override limit should be denied")
	}
	// Another tenant's counters are untouched.
	if ok, _ := l.TryAcquire(ctx, "cust_other"); !ok {
		t.Fatalf("other tenant should be unaffected")
	}
}
