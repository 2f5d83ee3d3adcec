package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultHeartbeat = 15 * time.Second
	defaultClientBuf = 8
)

// Stream manages Server-Sent Events fan-out for multiple HTTP clients.
// Slow clients are dropped rather than allowed to stall the broadcast.
type Stream struct {
	heartbeat time.Duration
	clientBuf int
	nextID    atomic.Uint64
	clients   sync.Map // map[uint64]*subscriber
}

var _ Sink = (*Stream)(nil)

type subscriber struct {
	queue chan []byte
	once  sync.Once
}

func (c *subscriber) close() {
	c.once.Do(func() { close(c.queue) })
}

// NewStream constructs a broadcast-capable SSE stream.
func NewStream() *Stream {
	return &Stream{heartbeat: defaultHeartbeat, clientBuf: defaultClientBuf}
}

// SetHeartbeat sets the per-client heartbeat interval (<=0 disables).
func (s *Stream) SetHeartbeat(d time.Duration) {
	if d <= 0 {
		s.heartbeat = 0
		return
	}
	s.heartbeat = d
}

// ServeHTTP registers the caller as an SSE client and streams events until
// the request context is cancelled.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "event: response does not support streaming", http.StatusInternalServerError)
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")

	client := &subscriber{queue: make(chan []byte, s.clientBuf)}
	id := s.nextID.Add(1)
	s.clients.Store(id, client)
	defer func() {
		client.close()
		s.clients.Delete(id)
	}()

	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	var tick <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-client.queue:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case now := <-tick:
			if _, err := fmt.Fprintf(w, ": heartbeat %d\n\n", now.Unix()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Send broadcasts a single event to all connected clients.
func (s *Stream) Send(evt Event) error {
	if s == nil {
		return errors.New("event: stream is nil")
	}
	frame, err := encode(evt)
	if err != nil {
		return err
	}
	s.clients.Range(func(key, value any) bool {
		client := value.(*subscriber)
		select {
		case client.queue <- frame:
		default:
			client.close()
			s.clients.Delete(key)
		}
		return true
	})
	return nil
}

func encode(evt Event) ([]byte, error) {
	normalized := normalize(evt)
	if err := normalized.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("event: marshal SSE payload: %w", err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", normalized.Type, body)), nil
}
