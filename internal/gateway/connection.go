package gateway

import (
	"sync"
	"time"

	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
)

// Sink is the transport side of a connection.
type Sink interface {
	// Send queues a frame without blocking; false means the frame was dropped.
	Send(payload []byte) bool
	// Close terminates the transport with a machine-readable reason.
	Close(reason string)
}

// Connection is one authenticated client.
type Connection struct {
	ID          string
	Identity    auth.Identity
	ConnectedAt time.Time

	sink      Sink
	rooms     map[string]struct{}
	closeOnce sync.Once
}

// OrganizationID is the tenant the connection is bound to.
func (c *Connection) OrganizationID() string {
	return c.Identity.OrganizationID
}

func (c *Connection) close(reason string) {
	c.closeOnce.Do(func() {
		c.sink.Close(reason)
	})
}
