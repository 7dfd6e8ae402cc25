package hub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/agent-collab/backend/internal/session"
	"github.com/agent-collab/backend/internal/wire"
)

// client is the per-connection state. It is owned by the connection's read
// goroutine; the write loop and broadcasters only touch send and closed.
type client struct {
	id        string
	sessionID string
	memberID  string
	conn      *wire.Conn

	// send is the bounded outbound queue. It is never closed; lifecycle is
	// carried by the closed channel so a blocked critical enqueue can always
	// be cancelled.
	send chan *session.Event

	closed    chan struct{}
	closeOnce sync.Once
}

func newClient(sessionID, memberID string, conn *wire.Conn, queueCap int) *client {
	return &client{
		id:        uuid.NewString(),
		sessionID: sessionID,
		memberID:  memberID,
		conn:      conn,
		send:      make(chan *session.Event, queueCap),
		closed:    make(chan struct{}),
	}
}

// signalClosed fires the closed signal exactly once. It unblocks the write
// loop and any broadcaster waiting on a critical enqueue.
func (c *client) signalClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}
