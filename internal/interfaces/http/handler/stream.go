package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/erp/docsync/internal/application/live"
	"github.com/erp/docsync/internal/application/notification"
	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/infrastructure/auth"
	"github.com/erp/docsync/internal/interfaces/http/dto"
	"github.com/erp/docsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SSE event names
const (
	EventConnected    = "connected"
	EventSnapshot     = "snapshot"
	EventError        = "error"
	EventHeartbeat    = "heartbeat"
	EventSignedOut    = "signed_out"
	EventNotification = "notification"
)

// SSEMessage represents a message to be sent to SSE clients
type SSEMessage struct {
	Event string `json:"event"`
	Data  string `json:"data"`
	ID    string `json:"id,omitempty"`
}

// SnapshotEvent carries the full mirror of a live collection
type SnapshotEvent struct {
	Resource string                 `json:"resource"`
	Count    int                    `json:"count"`
	Items    []dto.DocumentResponse `json:"items"`
}

// StreamErrorEvent reports why a live collection stopped
type StreamErrorEvent struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// StreamHandler serves live collections and notifications over SSE
type StreamHandler struct {
	BaseHandler
	manager     *live.Manager
	hub         *notification.Hub
	jwt         *auth.JWTService
	revocations auth.RevocationList
	logger      *zap.Logger
	heartbeat   time.Duration
	maxClients  int
	clients     atomic.Int64
	ctx         context.Context
	cancel      context.CancelFunc
}

// StreamOption is a functional option for configuring the handler
type StreamOption func(*StreamHandler)

// WithStreamLogger sets the logger for the handler
func WithStreamLogger(logger *zap.Logger) StreamOption {
	return func(h *StreamHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithStreamHeartbeat sets the heartbeat interval
func WithStreamHeartbeat(interval time.Duration) StreamOption {
	return func(h *StreamHandler) {
		if interval > 0 {
			h.heartbeat = interval
		}
	}
}

// WithStreamMaxClients sets the maximum number of concurrent streams
func WithStreamMaxClients(max int) StreamOption {
	return func(h *StreamHandler) {
		h.maxClients = max
	}
}

// WithStreamAuth lets streams end when their token expires or is revoked
func WithStreamAuth(jwt *auth.JWTService, revocations auth.RevocationList) StreamOption {
	return func(h *StreamHandler) {
		h.jwt = jwt
		h.revocations = revocations
	}
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(manager *live.Manager, hub *notification.Hub, opts ...StreamOption) *StreamHandler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &StreamHandler{
		manager:    manager,
		hub:        hub,
		logger:     zap.NewNop(),
		heartbeat:  30 * time.Second,
		maxClients: 10000,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Stop disconnects every open stream
func (h *StreamHandler) Stop() {
	h.cancel()
	h.logger.Info("Stream handler stopped")
}

// ClientCount returns the number of open streams
func (h *StreamHandler) ClientCount() int {
	return int(h.clients.Load())
}

// CollectionStream godoc
//
//	@Summary		Follow a collection
//	@Description	Streams the full matching collection on every change. The stream signs out when the token expires or is revoked.
//	@Tags			collections
//	@Produce		text/event-stream
//	@Param			resource	path		string		true	"Resource name"
//	@Param			order_by	query		string		false	"Order by field"
//	@Param			order_dir	query		string		false	"asc or desc"
//	@Param			where		query		[]string	false	"Filters"
//	@Success		200			{string}	string		"SSE stream"
//	@Failure		401			{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		404			{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		503			{object}	dto.Response{error=dto.ErrorInfo}
//	@Security		BearerAuth
//	@Router			/collections/{resource}/stream [get]
func (h *StreamHandler) CollectionStream(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		h.Unauthorized(c, "Sign in to continue")
		return
	}
	spec, ok := document.Lookup(c.Param("resource"))
	if !ok {
		h.NotFound(c, "Unknown resource "+c.Param("resource"))
		return
	}

	var req dto.PageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BindError(c, err, dto.ErrCodeBadRequest)
		return
	}
	shape, err := ParseShape(spec, req)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	if !h.acquire(c) {
		return
	}
	defer h.clients.Add(-1)

	session := auth.NewSessionFor(id)
	updates := make(chan []document.Snapshot, 1)
	failures := make(chan error, 1)

	coll := live.NewLiveCollection(h.manager, session, spec.Name, live.SnapshotDecoder,
		live.WithShape(shape),
		live.WithCollectionLogger(h.logger),
		live.WithErrorHandler(func(err error) {
			select {
			case failures <- err:
			default:
			}
		}),
	)
	cancelChange := coll.OnChange(func(items []document.Snapshot) { latest(updates, items) })
	defer cancelChange()

	reqCtx := c.Request.Context()
	if err := coll.Start(reqCtx); err != nil {
		coll.Stop()
		h.HandleError(c, err)
		return
	}
	defer coll.Stop()

	clientID := uuid.New().String()
	h.logger.Info("Collection stream connected",
		zap.String("client_id", clientID),
		zap.String("owner_id", id.OwnerID),
		zap.String("resource", string(spec.Name)))

	w := c.Writer
	setSSEHeaders(c)
	h.sendEvent(w, SSEMessage{
		Event: EventConnected,
		Data:  fmt.Sprintf(`{"client_id":"%s","timestamp":%d}`, clientID, time.Now().Unix()),
	})
	w.Flush()

	claims := middleware.GetJWTClaims(c)
	expired := h.expiry(claims)
	defer expired.Stop()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-reqCtx.Done():
			h.logger.Info("Collection stream disconnected", zap.String("client_id", clientID))
			return
		case <-h.ctx.Done():
			return
		case items := <-updates:
			h.sendJSON(w, EventSnapshot, SnapshotEvent{
				Resource: string(spec.Name),
				Count:    len(items),
				Items:    dto.ToDocumentResponses(items),
			})
			w.Flush()
		case err := <-failures:
			h.sendJSON(w, EventError, streamError(err))
			w.Flush()
			return
		case <-expired.C:
			h.signOut(w, session, clientID, "token expired")
			return
		case <-ticker.C:
			if h.revoked(reqCtx, claims) {
				h.signOut(w, session, clientID, "token revoked")
				return
			}
			h.sendEvent(w, SSEMessage{
				Event: EventHeartbeat,
				Data:  fmt.Sprintf(`{"timestamp":%d}`, time.Now().Unix()),
			})
			w.Flush()
		}
	}
}

// NotificationStream godoc
//
//	@Summary		Follow notifications
//	@Description	Streams notifications addressed to the caller's owner, including permission toasts
//	@Tags			notifications
//	@Produce		text/event-stream
//	@Success		200	{string}	string	"SSE stream"
//	@Failure		401	{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		503	{object}	dto.Response{error=dto.ErrorInfo}
//	@Security		BearerAuth
//	@Router			/notifications/stream [get]
func (h *StreamHandler) NotificationStream(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		h.Unauthorized(c, "Sign in to continue")
		return
	}
	if !h.acquire(c) {
		return
	}
	defer h.clients.Add(-1)

	client, unsubscribe := h.hub.Subscribe(id.OwnerID)
	defer unsubscribe()

	w := c.Writer
	setSSEHeaders(c)
	h.sendEvent(w, SSEMessage{
		Event: EventConnected,
		Data:  fmt.Sprintf(`{"client_id":"%s","timestamp":%d}`, client.ID, time.Now().Unix()),
	})
	w.Flush()

	claims := middleware.GetJWTClaims(c)
	expired := h.expiry(claims)
	defer expired.Stop()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	reqCtx := c.Request.Context()
	for {
		select {
		case <-reqCtx.Done():
			return
		case <-h.ctx.Done():
			return
		case n, ok := <-client.C:
			if !ok {
				return
			}
			h.sendJSON(w, EventNotification, n)
			w.Flush()
		case <-expired.C:
			h.signOut(w, nil, client.ID, "token expired")
			return
		case <-ticker.C:
			if h.revoked(reqCtx, claims) {
				h.signOut(w, nil, client.ID, "token revoked")
				return
			}
			h.sendEvent(w, SSEMessage{
				Event: EventHeartbeat,
				Data:  fmt.Sprintf(`{"timestamp":%d}`, time.Now().Unix()),
			})
			w.Flush()
		}
	}
}

func (h *StreamHandler) acquire(c *gin.Context) bool {
	if n := h.clients.Add(1); h.maxClients > 0 && n > int64(h.maxClients) {
		h.clients.Add(-1)
		h.ErrorWithCode(c, dto.ErrCodeTooManyStreams, "Maximum number of streams reached")
		return false
	}
	return true
}

// expiry fires when the token runs out. Without a token it never fires.
func (h *StreamHandler) expiry(claims *auth.Claims) *time.Timer {
	if h.jwt == nil || claims == nil || claims.ExpiresAt == nil {
		t := time.NewTimer(time.Hour)
		t.Stop()
		return t
	}
	return time.NewTimer(h.jwt.Remaining(claims))
}

func (h *StreamHandler) revoked(ctx context.Context, claims *auth.Claims) bool {
	if h.revocations == nil || claims == nil || claims.ID == "" {
		return false
	}
	revoked, err := h.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		h.logger.Warn("Revocation check failed", zap.Error(err))
		return false
	}
	return revoked
}

// signOut clears the stream's session, which detaches its listener and
// empties the mirror, then tells the client.
func (h *StreamHandler) signOut(w gin.ResponseWriter, session *auth.Session, clientID, reason string) {
	if session != nil {
		session.Clear()
	}
	h.logger.Info("Stream signed out", zap.String("client_id", clientID), zap.String("reason", reason))
	h.sendJSON(w, EventSignedOut, gin.H{"reason": reason})
	w.Flush()
}

func (h *StreamHandler) sendJSON(w io.Writer, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to marshal SSE event", zap.String("event", event), zap.Error(err))
		return
	}
	h.sendEvent(w, SSEMessage{Event: event, Data: string(data)})
}

// sendEvent writes an SSE event to the response writer
func (h *StreamHandler) sendEvent(w io.Writer, msg SSEMessage) {
	if msg.Event != "" {
		fmt.Fprintf(w, "event: %s\n", msg.Event)
	}
	if msg.ID != "" {
		fmt.Fprintf(w, "id: %s\n", msg.ID)
	}
	fmt.Fprintf(w, "data: %s\n\n", msg.Data)
}

func setSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(200)
}

// latest replaces whatever is queued with items so a slow client only
// ever receives the newest mirror.
func latest(ch chan []document.Snapshot, items []document.Snapshot) {
	for {
		select {
		case ch <- items:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func streamError(err error) StreamErrorEvent {
	var f *document.Failure
	if errors.As(err, &f) {
		return StreamErrorEvent{
			Code:      dto.ErrorCodeForKind(f.Kind),
			Message:   failureMessage(f),
			Retryable: f.Kind == document.FailureTransient,
		}
	}
	return StreamErrorEvent{Code: dto.ErrCodeInternal, Message: "Live collection ended"}
}
