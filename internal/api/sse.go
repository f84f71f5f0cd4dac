package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/athena-provd/athena-provd/internal/events"
	"github.com/athena-provd/athena-provd/internal/metrics"
)

const (
	sseClientBuffer = 256
	sseKeepalive    = 30 * time.Second
)

// sseFrame is one formatted server-sent event: the event name plus the
// JSON-encoded body, framed once in the hub and written verbatim to every
// subscribed client.
type sseFrame struct {
	id    string
	event string
	data  []byte
}

// sseClient receives frames for one connection. An empty types set means
// the client wants everything; otherwise frames are filtered by event name.
type sseClient struct {
	send  chan sseFrame
	types map[string]struct{}
}

func (c *sseClient) wants(event string) bool {
	if len(c.types) == 0 {
		return true
	}
	_, ok := c.types[event]
	return ok
}

// SSEHub fans bus events out to connected /events/stream clients.
type SSEHub struct {
	bus    *events.Bus
	logger *slog.Logger
	done   chan struct{}

	mu      sync.Mutex
	clients map[*sseClient]struct{}
}

// NewSSEHub creates a new SSE hub.
func NewSSEHub(bus *events.Bus, logger *slog.Logger) *SSEHub {
	return &SSEHub{
		bus:     bus,
		logger:  logger,
		done:    make(chan struct{}),
		clients: make(map[*sseClient]struct{}),
	}
}

// Run subscribes to the event bus and broadcasts until Stop is called or
// the bus shuts down. Each event is marshaled once, not per client.
func (h *SSEHub) Run() {
	ch := h.bus.Subscribe(500)
	defer h.bus.Unsubscribe(ch)

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Warn("failed to encode event for stream", "type", evt.Type, "error", err)
				continue
			}
			h.broadcast(sseFrame{id: evt.ID, event: string(evt.Type), data: data})
		case <-h.done:
			return
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *SSEHub) Stop() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*sseClient]struct{})
}

func (h *SSEHub) broadcast(frame sseFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(frame.event) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			// A full buffer means the client stopped reading; drop it
			// rather than stall the stream for everyone else.
			close(c.send)
			delete(h.clients, c)
			metrics.SSEConnections.Dec()
		}
	}
}

func (h *SSEHub) subscribe(types []string) *sseClient {
	c := &sseClient{send: make(chan sseFrame, sseClientBuffer)}
	if len(types) > 0 {
		c.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			c.types[t] = struct{}{}
		}
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.SSEConnections.Inc()
	return c
}

func (h *SSEHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
		metrics.SSEConnections.Dec()
	}
	h.mu.Unlock()
}

// handleSSE streams bus events as Server-Sent Events. An optional
// `types` query parameter (comma-separated event names) narrows the
// stream; EventSource consumers get named events they can addEventListener
// on, with the event ID carried for Last-Event-ID resumption by proxies.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var types []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := s.sseHub.subscribe(types)
	defer s.sseHub.unsubscribe(client)

	s.logger.Debug("SSE client connected", "remote", r.RemoteAddr, "types", types)

	// Comment lines keep idle connections alive through proxies
	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-client.send:
			if !ok {
				return
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", frame.id, frame.event, frame.data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}
