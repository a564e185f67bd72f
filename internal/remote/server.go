package remote

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"

	// gorilla/websocket is the most popular WebSocket library for Go.
	// It provides a complete implementation of the WebSocket protocol
	// with support for reading/writing messages, ping/pong, and close handling.
	"github.com/gorilla/websocket"

	// Rate limiting for inbound control frames to prevent message flooding.
	"golang.org/x/time/rate"

	"github.com/epoq/desktop/internal/bus"
	apperrors "github.com/epoq/desktop/internal/errors"
	"github.com/epoq/desktop/internal/pairing"
)

// defaultQueueSize is the buffer size for the broadcast queue and per-client
// send channels. This value balances memory usage against the ability to
// absorb bursts of log output without blocking the training process.
const defaultQueueSize = 256

// OverflowPolicy controls what happens to a client whose send queue is full.
type OverflowPolicy string

const (
	// OverflowDrop drops the message for that client and keeps the
	// connection open. This is the default.
	OverflowDrop OverflowPolicy = "drop"

	// OverflowDisconnect closes the slow client's connection.
	OverflowDisconnect OverflowPolicy = "disconnect"
)

// Options configures a control channel server. Secrets and Bus are required;
// everything else has a usable default.
type Options struct {
	// Addr is the address to listen on (e.g., "0.0.0.0:8765").
	Addr string

	// Secrets holds the current pairing secret that gates authentication.
	Secrets *pairing.SecretStore

	// Bus receives the "mobile_command" event when a client sends a
	// recognized command.
	Bus *bus.Bus

	// QueueSize caps each client's outbound queue. Zero means the default.
	QueueSize int

	// Overflow is the policy applied when a client's queue is full.
	// Empty means OverflowDrop.
	Overflow OverflowPolicy
}

// Server manages client connections and broadcasts training log lines to
// every connected client. It handles multiple concurrent clients without
// blocking the sender.
//
// The server, the secret store, and the bus are process-scoped objects passed
// in by reference; there is no package-level mutable state.
type Server struct {
	addr      string
	secrets   *pairing.SecretStore
	bus       *bus.Bus
	queueSize int
	overflow  OverflowPolicy

	// upgrader converts HTTP connections to WebSocket connections.
	// Any origin is accepted; the pairing secret is the access gate.
	upgrader websocket.Upgrader

	// clients tracks all connected clients. The map key is a pointer to the
	// client, value is always true. Using a map makes add/remove O(1).
	clients map[*Client]bool

	// mu protects the clients map and stopped flag. Registration takes the
	// write lock; the broadcast pass also takes the write lock because it
	// prunes dead handles while iterating. The lock is never held during
	// network I/O, only around map and channel operations.
	mu sync.RWMutex

	// stopped indicates whether the server has been stopped.
	// This prevents sending to a closed broadcast channel.
	stopped bool

	// broadcast receives log lines to fan out to all clients.
	// Using a channel decouples line production from delivery.
	broadcast chan string

	// httpServer is the underlying HTTP server for shutdown.
	httpServer *http.Server
}

// NewServer creates a control channel server. Call StartAsync to begin
// accepting connections.
func NewServer(opts Options) *Server {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	overflow := opts.Overflow
	if overflow == "" {
		overflow = OverflowDrop
	}

	return &Server{
		addr:      opts.Addr,
		secrets:   opts.Secrets,
		bus:       opts.Bus,
		queueSize: queueSize,
		overflow:  overflow,
		clients:   make(map[*Client]bool),
		broadcast: make(chan string, queueSize),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// createMux builds the HTTP routing for the server. The channel lives at the
// root path because the mobile app dials ws://ip:port with no path.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

// StartAsync starts the server in a goroutine and reports any startup error.
//
// The returned channel receives nil if startup succeeded, or a coded
// remote.bind_failed error if the listener could not be created (e.g., port
// already in use). A bind failure is fatal to the control channel only; the
// caller decides whether the rest of the application continues.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	mux := s.createMux()

	// Create the listener first to detect port conflicts immediately.
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- apperrors.Wrap(apperrors.CodeRemoteBindFailed,
			fmt.Sprintf("failed to listen on %s", s.addr), err)
		close(errCh)
		return errCh
	}

	s.httpServer = &http.Server{
		Handler: mux,
	}

	// Start the fan-out goroutine that delivers log lines to all clients.
	go s.runBroadcaster()

	go func() {
		log.Printf("remote: control channel listening on %s", ln.Addr())
		errCh <- nil
		close(errCh)

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("remote: server error: %v", err)
		}
	}()

	return errCh
}

// Stop shuts down the server: it signals every client to close, stops the
// broadcaster, and closes the listener. Safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true

	// Signal all clients to stop. writePump sends the close frame and closes
	// the connection when it sees the done channel; we never write to the
	// socket here to avoid racing with the pumps.
	for client := range s.clients {
		client.closeSend()
	}
	s.clients = make(map[*Client]bool)

	// Close the broadcast channel so runBroadcaster exits. This must happen
	// after stopped=true so concurrent Broadcast calls cannot panic.
	close(s.broadcast)

	s.mu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// ClientCount returns the number of currently registered clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// handleWebSocket upgrades an HTTP request and registers the new client.
//
// The client handle is registered with the registry before authentication
// happens, so broadcast lines may reach a not-yet-authenticated (or
// never-authenticated) socket. Commands, by contrast, are only honored after
// the session reaches the authenticated state; see readPump.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade failures terminate only this request; log with the coded
		// form so the channel's errors share one taxonomy.
		log.Printf("remote: %v", apperrors.Wrap(apperrors.CodeRemoteUpgradeFailed,
			"websocket upgrade failed", err))
		return
	}

	client := &Client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, s.queueSize),
		done:   make(chan struct{}),
		server: s,
		state:  stateConnecting,
		// Control frames are tiny; 100/sec with a small burst is far above
		// any legitimate phone client and below anything that hurts.
		limiter: rate.NewLimiter(rate.Limit(100), 20),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	log.Printf("remote: client %s connected (%d total)", client.id, total)

	go client.writePump()
	go client.readPump()
}

// removeClient drops a client from the registry if it is still present.
// Called from readPump teardown; the broadcast pass prunes independently.
func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	_, present := s.clients[c]
	if present {
		delete(s.clients, c)
	}
	remaining := len(s.clients)
	s.mu.Unlock()

	if present {
		log.Printf("remote: client %s disconnected (%d remaining)", c.id, remaining)
	}
}
