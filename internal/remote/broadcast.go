package remote

import "log"

// Broadcast queues a log line for delivery to every connected client.
// This is the entry point the host calls for each line the training job
// emits; it is synchronous, quick, and never fails the caller. The line is
// sent verbatim as a raw text frame, not JSON-wrapped.
//
// If the server has been stopped, the call does nothing.
func (s *Server) Broadcast(line string) {
	// Hold RLock while checking stopped AND sending, so Stop() cannot close
	// the channel between the check and the send.
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return
	}

	// Non-blocking: if the broadcast queue is full we drop the line rather
	// than stalling the training output goroutine.
	select {
	case s.broadcast <- line:
	default:
		log.Printf("remote: broadcast queue full, dropping line")
	}
}

// runBroadcaster drains the broadcast queue and fans each line out to every
// registered client. It runs in its own goroutine started by StartAsync and
// exits when Stop closes the queue.
//
// The whole fan-out pass holds the registry lock: each pass enqueues the line
// on every live handle, in a fixed iteration order, and prunes any handle
// found dead in that same pass. Enqueue is non-blocking, so the lock is held
// only for map and channel work, never for socket I/O. Serializing passes
// through this single goroutine is what gives every client the same
// inter-line order.
func (s *Server) runBroadcaster() {
	for line := range s.broadcast {
		frame := []byte(line)

		s.mu.Lock()
		for client := range s.clients {
			if !client.enqueue(frame) {
				// Handle is dead (socket write failed earlier, or it was
				// disconnected for overflow): prune on send.
				delete(s.clients, client)
				log.Printf("remote: pruned dead client %s (%d remaining)", client.id, len(s.clients))
			}
		}
		s.mu.Unlock()
	}
}
