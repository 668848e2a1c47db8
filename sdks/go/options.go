package goxeld

import "time"

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithDialTimeout bounds how long Dial waits to connect to the daemon's
// socket. Defaults to 5 seconds.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

// WithRequestTimeout bounds how long Call waits for a response before
// returning context.DeadlineExceeded, when the caller's context carries no
// deadline of its own. Defaults to 30 seconds.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}
