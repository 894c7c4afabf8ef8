package transport

import "sync"

// client is a buffered gateway.Sink shared by both transports.
type client struct {
	send   chan []byte
	closed chan string
	once   sync.Once
}

func newClient(buffer int) *client {
	if buffer <= 0 {
		buffer = 64
	}
	return &client{send: make(chan []byte, buffer), closed: make(chan string, 1)}
}

// Send implements gateway.Sink.
func (c *client) Send(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close implements gateway.Sink.
func (c *client) Close(reason string) {
	c.once.Do(func() {
		c.closed <- reason
	})
}
