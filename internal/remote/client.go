package remote

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"golang.org/x/time/rate"

	"github.com/epoq/desktop/internal/bus"
)

// Session states. A session authenticates at most once: it either moves from
// connecting to authenticated on its first recognized frame, or it never
// authenticates at all.
type sessionState int

const (
	stateConnecting sessionState = iota
	stateAuthenticated
	stateClosed
)

const (
	// writeWait is the deadline for a single socket write.
	writeWait = 10 * time.Second

	// pingInterval is how often pings are sent to detect dead connections
	// and keep NAT/firewalls happy.
	pingInterval = 30 * time.Second

	// pongWait is how long to wait for any read (including pong replies)
	// before considering the connection dead.
	pongWait = 60 * time.Second

	// maxFrameSize caps inbound control frames. Commands are tiny; anything
	// bigger is garbage.
	maxFrameSize = 4 * 1024
)

// Client is one connected remote device: the ordered outbound queue (the
// handle the registry broadcasts into) plus the per-connection session state
// machine.
type Client struct {
	// id identifies the connection in logs.
	id string

	// conn is the underlying WebSocket connection.
	conn *websocket.Conn

	// send is the bounded outbound queue. writePump is the sole consumer and
	// drains it in FIFO order, which is what gives per-client delivery order.
	send chan []byte

	// done is closed to signal the client is dead or shutting down.
	// The broadcast pass treats a closed done as "prune this handle".
	done chan struct{}

	// closeOnce ensures done is only closed once. The write pump, the read
	// pump, Stop(), and the disconnect overflow policy may all try.
	closeOnce sync.Once

	// server is a reference back to the parent server.
	server *Server

	// state is the session state machine. It is written only by the client's
	// own readPump goroutine, so no lock is needed.
	state sessionState

	// sawFrame records that the first recognized (well-formed, actioned)
	// frame has been consumed. Only that first frame can authenticate.
	sawFrame bool

	// limiter rate-limits inbound frames; excess frames are dropped.
	limiter *rate.Limiter
}

// closeSend marks the handle dead exactly once. Safe to call from any
// goroutine; senders check done before queueing.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue attempts to queue a frame on the client's outbound queue.
// It never blocks. Returns false if the handle is dead, which tells the
// broadcast pass to prune it. A full queue is resolved by the server's
// overflow policy: drop the frame (handle stays live) or disconnect.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
	}

	// Queue full.
	if c.server.overflow == OverflowDisconnect {
		log.Printf("remote: client %s send queue full, disconnecting", c.id)
		c.closeSend()
		return false
	}
	log.Printf("remote: client %s send queue full, dropping message", c.id)
	return true
}

// writePump drains the outbound queue to the socket in arrival order and
// sends periodic pings. Any write failure makes the handle dead: the pump
// exits, and the next broadcast pass prunes the registry entry.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeSend()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			// Flush frames that were queued before death was signaled, so a
			// final auth_failed ack reaches the peer, then close.
			c.flushQueued()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("remote: client %s write error: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flushQueued writes whatever is already in the send queue, stopping at the
// first error or when the queue is empty.
func (c *Client) flushQueued() {
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump reads inbound frames and drives the session state machine.
//
// The first recognized frame is the single authentication opportunity: an
// authenticate action with a matching token moves the session to
// authenticated; a mismatch sends auth_failed and terminates the session.
// Commands are honored only in the authenticated state. Malformed frames and
// unknown actions are ignored without a response.
func (c *Client) readPump() {
	// The connection itself is closed by writePump, which must first flush
	// any queued frames (the auth_failed ack in particular) before sending
	// the close frame. Closing here would race that flush.
	defer func() {
		c.state = stateClosed
		c.server.removeClient(c)
		c.closeSend()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				log.Printf("remote: client %s read error: %v", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			log.Printf("remote: client %s rate limit exceeded, dropping frame", c.id)
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frames are ignored, not errors.
			continue
		}
		if msg.Action == "" {
			continue
		}

		first := !c.sawFrame
		c.sawFrame = true

		switch msg.Action {
		case ActionAuthenticate, actionAuthAlias:
			if !first || c.state != stateConnecting {
				// Authentication is attempted at most once, on the first
				// recognized frame.
				continue
			}
			if c.server.secrets.Verify(msg.Token) {
				c.state = stateAuthenticated
				c.enqueue(encodeStatus(StatusAuthenticated))
				log.Printf("remote: client %s authenticated", c.id)
			} else {
				c.enqueue(encodeStatus(StatusAuthFailed))
				log.Printf("remote: client %s failed authentication", c.id)
				return
			}

		case ActionStopTraining:
			if c.state != stateAuthenticated {
				log.Printf("remote: client %s sent %s before authenticating, ignored", c.id, msg.Action)
				continue
			}
			log.Printf("remote: client %s requested %s", c.id, msg.Action)
			c.server.bus.Emit(bus.EventMobileCommand, ActionStopTraining)

		default:
			// Unknown actions are ignored; the session continues.
		}
	}
}
