package rabbitmq

import "time"

type Config struct {
	URL                string
	Exchange           string
	DeadLetterExchange string
	Heartbeat          time.Duration
	ConnectionName     string
	// Prefetch bounds unacknowledged deliveries per consumer.
	Prefetch int
}

func (c Config) prefetch() int {
	if c.Prefetch <= 0 {
		return 1
	}
	return c.Prefetch
}
