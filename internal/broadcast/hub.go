package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/timmy/shotguess/internal/logger"
	"nhooyr.io/websocket"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 5 * time.Second
)

type subscriber struct {
	jobID string // empty receives every job
	ch    chan Snapshot
}

// Hub delivers snapshots to websocket subscribers. Each subscriber has a
// bounded buffer; one that falls behind is disconnected.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	accept *websocket.AcceptOptions
}

// HubConfig controls which browser origins may open a progress stream. The
// request's own host is always allowed.
type HubConfig struct {
	// AllowedOrigins are origins like "https://admin.example.com". Only the
	// host part is matched; it may contain filepath.Match wildcards.
	AllowedOrigins  []string
	AllowAllOrigins bool
}

// NewHub creates an empty Hub.
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		accept: acceptOptions(cfg),
	}
}

func acceptOptions(cfg HubConfig) *websocket.AcceptOptions {
	if cfg.AllowAllOrigins {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	opts := &websocket.AcceptOptions{}
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
		if host := originHost(origin); host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, host)
		}
	}
	return opts
}

// originHost reduces "https://host:port/" to "host:port".
func originHost(origin string) string {
	if strings.Contains(origin, "://") {
		u, err := url.Parse(origin)
		if err != nil {
			return ""
		}
		return u.Host
	}
	return strings.TrimSuffix(origin, "/")
}

// Subscribe registers a subscriber. Cancel releases it.
func (h *Hub) Subscribe(jobID string) (<-chan Snapshot, func()) {
	sub := &subscriber{jobID: jobID, ch: make(chan Snapshot, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub.ch, func() { h.remove(sub) }
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast never blocks.
func (h *Hub) Broadcast(ctx context.Context, s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.jobID != "" && sub.jobID != s.JobID {
			continue
		}
		select {
		case sub.ch <- s:
		default:
			delete(h.subs, sub)
			close(sub.ch)
			logger.CtxWarn(ctx, "Dropped slow progress subscriber")
		}
	}
}

// ServeHTTP upgrades the request and streams snapshots until either side goes away.
// The optional job_id query parameter filters to one job.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		logger.CtxWarn(r.Context(), "Websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	// Discard client messages; the returned context ends when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	ch, cancel := h.Subscribe(r.URL.Query().Get("job_id"))
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			payload, err := json.Marshal(s)
			if err != nil {
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}
