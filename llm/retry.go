package llm

import "time"

// RetryConfig bounds retries against a single completion endpoint. Once an
// endpoint's attempts are exhausted the client advances along the
// capability's fallback chain rather than retrying further.
type RetryConfig struct {
	// MaxAttempts is the number of attempts per endpoint.
	MaxAttempts int

	// BackoffBase is the delay before the first retry. Rate-limited
	// completion endpoints rarely admit a request sooner than this.
	BackoffBase time.Duration

	// BackoffMultiplier grows the delay on each further retry.
	BackoffMultiplier float64

	// MaxBackoff caps the delay so one stalled endpoint cannot hold a
	// column task for the whole request timeout.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the retry defaults for completion requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        20 * time.Second,
	}
}
