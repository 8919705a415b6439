package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/knowgraph/knowgraph-backend/internal/clients/redis"
	"github.com/knowgraph/knowgraph-backend/internal/logger"
)

// ChannelAll receives every job's progress events.
const ChannelAll = "*"

type Client struct {
	ID       uuid.UUID
	Channel  string
	Outbound chan redisclient.ProgressEvent
	done     chan struct{}
}

// ProgressHub fans ingestion progress events out to connected SSE
// clients. Events arrive from the redis forwarder, so every backend
// instance sees every job's progress.
type ProgressHub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
}

func NewProgressHub(log *logger.Logger) *ProgressHub {
	return &ProgressHub{
		log:           log.With("component", "ProgressHub"),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

// NewClient registers a subscriber. channel is a job id, or ChannelAll
// for the firehose.
func (h *ProgressHub) NewClient(channel string) *Client {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = ChannelAll
	}
	client := &Client{
		ID:       uuid.New(),
		Channel:  channel,
		Outbound: make(chan redisclient.ProgressEvent, 16),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	clients, ok := h.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[channel] = clients
	}
	clients[client] = true
	h.mu.Unlock()

	h.log.Debug("SSE client subscribed", "client_id", client.ID, "channel", channel)
	return client
}

func (h *ProgressHub) CloseClient(client *Client) {
	if client == nil {
		return
	}
	h.mu.Lock()
	if clients, ok := h.subscriptions[client.Channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscriptions, client.Channel)
		}
	}
	h.mu.Unlock()

	select {
	case <-client.done:
	default:
		close(client.done)
	}
	h.log.Debug("SSE client removed", "client_id", client.ID)
}

// Broadcast delivers an event to the job's subscribers and the
// firehose. Slow clients drop events rather than block the forwarder.
func (h *ProgressHub) Broadcast(ev redisclient.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, channel := range []string{ev.JobID, ChannelAll} {
		for c := range h.subscriptions[channel] {
			select {
			case c.Outbound <- ev:
			default:
				h.log.Warn("dropping SSE event; outbound buffer full", "client_id", c.ID)
			}
		}
	}
}

func (h *ProgressHub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev := <-client.Outbound:
			raw, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("SSE event marshal failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", raw)
			flusher.Flush()
		}
	}
}
