// Package notification delivers user-facing messages and permission
// diagnostics. Both surfaces are fed independently: the hub by the mutation
// router and bus handlers, the diagnostics recorder by the bus alone.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/erp/docsync/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultClientBuffer is the per-client queue length
const DefaultClientBuffer = 32

// Client is one open notification stream
type Client struct {
	ID      string
	OwnerID string
	C       <-chan shared.Notification

	ch chan shared.Notification
}

// Hub fans notifications out to the open streams of their owner. It keeps
// nothing for owners with no open stream.
type Hub struct {
	logger *zap.Logger
	buffer int
	clock  func() time.Time

	mu      sync.RWMutex
	clients map[string]map[string]*Client
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithHubLogger sets the logger
func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClientBuffer sets the per-client queue length
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewHub creates an empty hub
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger:  zap.NewNop(),
		buffer:  DefaultClientBuffer,
		clock:   time.Now,
		clients: make(map[string]map[string]*Client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Notify queues n for every open stream of n.OwnerID. A full client queue
// drops the notification for that client only.
func (h *Hub) Notify(_ context.Context, n shared.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = h.clock()
	}
	if n.OwnerID == "" {
		h.logger.Warn("dropping notification without owner", zap.String("code", n.Code))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients[n.OwnerID] {
		select {
		case c.ch <- n:
		default:
			h.logger.Warn("client queue full, dropping notification",
				zap.String("client_id", c.ID),
				zap.String("code", n.Code))
		}
	}
}

// Subscribe opens a stream for ownerID. cancel closes the client channel.
func (h *Hub) Subscribe(ownerID string) (*Client, func()) {
	ch := make(chan shared.Notification, h.buffer)
	c := &Client{ID: uuid.NewString(), OwnerID: ownerID, C: ch, ch: ch}

	h.mu.Lock()
	if h.clients[ownerID] == nil {
		h.clients[ownerID] = make(map[string]*Client)
	}
	h.clients[ownerID][c.ID] = c
	h.mu.Unlock()

	var once sync.Once
	return c, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients[ownerID], c.ID)
			if len(h.clients[ownerID]) == 0 {
				delete(h.clients, ownerID)
			}
			h.mu.Unlock()
			close(c.ch)
		})
	}
}

// ClientCount returns the number of open streams for ownerID
func (h *Hub) ClientCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerID])
}

var _ shared.Notifier = (*Hub)(nil)
