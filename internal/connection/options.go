package connection

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger. A "component" attribute is added.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.log = logger.With("component", "connection")
		}
	}
}

// WithDialer replaces the websocket dialer, e.g. to set a proxy or TLS config.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Connection) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithRateLimit caps outgoing requests at r per second with the given burst.
// r <= 0 disables limiting.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Connection) {
		if r <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithPingInterval enables websocket pings. A session that sees no traffic
// for three intervals is treated as lost.
func WithPingInterval(d time.Duration) Option {
	return func(c *Connection) {
		c.pingInterval = d
	}
}

// WithReconnectBackoff sets the delay bounds between reconnect attempts.
func WithReconnectBackoff(min, max time.Duration) Option {
	return func(c *Connection) {
		if min > 0 {
			c.backoffMin = min
		}
		if max >= c.backoffMin {
			c.backoffMax = max
		} else {
			c.backoffMax = c.backoffMin
		}
	}
}

// WithActiveDevice presets the active device so Connect does not query it.
func WithActiveDevice(id string) Option {
	return func(c *Connection) {
		c.activeDeviceID = id
	}
}
