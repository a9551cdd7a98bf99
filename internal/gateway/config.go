package gateway

import "time"

const (
	DefaultBaseURL = "https://api.razorpay.com/v1"
	DefaultTimeout = 30 * time.Second
)

// Config carries the gateway credentials. It is passed to NewClient explicitly;
// nothing in this package reads the environment.
type Config struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
	// FetchRetries bounds automatic retries of GET requests. Writes are never retried.
	FetchRetries int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FetchRetries < 0 {
		c.FetchRetries = 0
	}
	return c
}
