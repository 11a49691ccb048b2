package reliability

import (
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("status %d should not be retryable", code)
		}
	}
}

func TestIsRetryableEngineClose(t *testing.T) {
	if !IsRetryableEngineClose(1011) {
		t.Fatalf("1011 should be retryable")
	}
	if IsRetryableEngineClose(1000) {
		t.Fatalf("normal closure should not be retryable")
	}
}

func TestExponentialBackoffCaps(t *testing.T) {
	base := 100 * time.Millisecond
	cap := time.Second
	if d := ExponentialBackoff(0, base, cap); d != base {
		t.Fatalf("attempt 0 = %v, want %v", d, base)
	}
	if d := ExponentialBackoff(2, base, cap); d != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want 400ms", d)
	}
	if d := ExponentialBackoff(10, base, cap); d != cap {
		t.Fatalf("attempt 10 = %v, want cap %v", d, cap)
	}
}
