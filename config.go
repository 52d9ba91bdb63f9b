package quartet

import "time"

// Config holds tunables for the workflow engine.
type Config struct {
	// MaxRetries is the number of retries after a step's first failed
	// attempt. A step runs at most MaxRetries+1 times.
	MaxRetries int

	// RetryDelay is the base delay between attempts. The engine's
	// default backoff is linear: the nth retry waits n * RetryDelay.
	RetryDelay time.Duration

	// MaxRetryDelay caps the backoff delay. Zero means no cap.
	MaxRetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    2,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}
