package reliability

import "time"

// IsRetryableHTTPStatus classifies retryable HTTP status codes from
// carrier or store APIs.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableEngineClose classifies websocket close codes from the
// speech engine that a later call could reasonably succeed against.
// A single call never retries; the classification feeds logs and metrics.
func IsRetryableEngineClose(code int) bool {
	switch code {
	case 1001, 1008, 1011, 1012, 1013:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration
// for out-of-call supervision paths.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
