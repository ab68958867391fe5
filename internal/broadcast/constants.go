package broadcast

import "time"

// Hub configuration constants
const (
	// Outbound frames queued per subscriber before it is dropped as too slow.
	SubscriberQueueSize = 64

	PingInterval = 20 * time.Second
	ReadTimeout  = 60 * time.Second
	WriteTimeout = 10 * time.Second

	// Inbound message rate limiting per connection
	RateLimitMessages = 20
	RateLimitWindow   = time.Second
)
