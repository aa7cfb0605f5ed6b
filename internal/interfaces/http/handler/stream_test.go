package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erp/docsync/internal/application/live"
	"github.com/erp/docsync/internal/application/mutation"
	"github.com/erp/docsync/internal/application/notification"
	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/shared"
	"github.com/erp/docsync/internal/infrastructure/auth"
	"github.com/erp/docsync/internal/infrastructure/config"
	"github.com/erp/docsync/internal/infrastructure/persistence"
	"github.com/erp/docsync/internal/interfaces/http/dto"
	"github.com/erp/docsync/internal/interfaces/http/middleware"
	"github.com/erp/docsync/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	name string
	data string
}

// readEvents parses SSE frames from body until it closes
func readEvents(body *bufio.Scanner, out chan<- sseEvent) {
	defer close(out)
	var evt sseEvent
	for body.Scan() {
		line := body.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			evt.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			evt.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			out <- evt
			evt = sseEvent{}
		}
	}
}

func nextEvent(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			require.True(t, ok, "stream closed before %q", name)
			if evt.name == name {
				return evt
			}
		case <-timeout:
			t.Fatalf("no %q event", name)
		}
	}
}

type streamEnv struct {
	server   *httptest.Server
	store    document.Store
	hub      *notification.Hub
	jwt      *auth.JWTService
	revoked  *auth.MemoryRevocationList
	pipeline *mutation.Pipeline
}

func newStreamEnv(t *testing.T, opts ...StreamOption) *streamEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := persistence.NewMemoryDocumentStore()
	hub := notification.NewHub()
	jwtService := auth.NewJWTService(config.JWTConfig{
		Secret:                "stream-test-secret-at-least-32-bytes",
		AccessTokenExpiration: time.Hour,
		Issuer:                "docsync-test",
	})
	revoked := auth.NewMemoryRevocationList()
	manager := live.NewManager(store, nil, nil)
	t.Cleanup(manager.Close)

	h := NewStreamHandler(manager, hub, append([]StreamOption{
		WithStreamAuth(jwtService, revoked),
		WithStreamHeartbeat(20 * time.Millisecond),
	}, opts...)...)
	t.Cleanup(h.Stop)

	engine := gin.New()
	engine.Use(middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
		JWTService:      jwtService,
		Revocations:     revoked,
		AllowQueryToken: true,
	}))
	engine.GET("/collections/:resource/stream", h.CollectionStream)
	engine.GET("/notifications/stream", h.NotificationStream)

	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	return &streamEnv{
		server:   server,
		store:    store,
		hub:      hub,
		jwt:      jwtService,
		revoked:  revoked,
		pipeline: mutation.NewPipeline(store),
	}
}

func (e *streamEnv) token(t *testing.T, owner string) (string, *auth.Claims) {
	t.Helper()
	tok, err := e.jwt.GenerateToken(testutil.IdentityFor(owner))
	require.NoError(t, err)
	claims, err := e.jwt.ValidateToken(tok.AccessToken)
	require.NoError(t, err)
	return tok.AccessToken, claims
}

func (e *streamEnv) open(t *testing.T, path, token string) (*http.Response, <-chan sseEvent) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.server.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	events := make(chan sseEvent, 64)
	if resp.StatusCode == http.StatusOK {
		go readEvents(bufio.NewScanner(resp.Body), events)
	} else {
		close(events)
	}
	return resp, events
}

func TestCollectionStream_PushesSnapshots(t *testing.T) {
	env := newStreamEnv(t)
	token, _ := env.token(t, "acme")

	resp, events := env.open(t, "/collections/invoices/stream?order_by=party&order_dir=asc", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	nextEvent(t, events, EventConnected)
	first := nextEvent(t, events, EventSnapshot)
	var snap SnapshotEvent
	require.NoError(t, json.Unmarshal([]byte(first.data), &snap))
	assert.Equal(t, "invoices", snap.Resource)
	assert.Zero(t, snap.Count)

	res := env.pipeline.Create(testutil.OwnerContext(), mutation.CreateRequest{
		Identity: testutil.IdentityFor("acme"),
		Resource: document.ResourceInvoices,
		ID:       "inv-1",
		Data:     document.Record{"party": "Acme Ltd"},
	})
	require.True(t, res.OK(), "%v", res.Err)

	for {
		evt := nextEvent(t, events, EventSnapshot)
		require.NoError(t, json.Unmarshal([]byte(evt.data), &snap))
		if snap.Count == 1 {
			break
		}
	}
	assert.Equal(t, "inv-1", snap.Items[0].ID)
}

func TestCollectionStream_OtherOwnersAreInvisible(t *testing.T) {
	env := newStreamEnv(t)
	token, _ := env.token(t, "globex")

	_, events := env.open(t, "/collections/invoices/stream", token)
	nextEvent(t, events, EventSnapshot)

	res := env.pipeline.Create(testutil.OwnerContext(), mutation.CreateRequest{
		Identity: testutil.IdentityFor("acme"),
		Resource: document.ResourceInvoices,
		Data:     document.Record{"party": "Acme Ltd"},
	})
	require.True(t, res.OK(), "%v", res.Err)

	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case evt := <-events:
			if evt.name == EventSnapshot {
				var snap SnapshotEvent
				require.NoError(t, json.Unmarshal([]byte(evt.data), &snap))
				assert.Zero(t, snap.Count)
			}
		case <-deadline:
			return
		}
	}
}

func TestCollectionStream_SignsOutOnRevocation(t *testing.T) {
	env := newStreamEnv(t)
	token, claims := env.token(t, "acme")

	_, events := env.open(t, "/collections/invoices/stream", token)
	nextEvent(t, events, EventSnapshot)

	require.NoError(t, env.revoked.Revoke(context.Background(), claims.ID, time.Minute))

	evt := nextEvent(t, events, EventSignedOut)
	assert.Contains(t, evt.data, "token revoked")

	select {
	case _, ok := <-events:
		for ok {
			_, ok = <-events
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end after sign-out")
	}
}

func TestCollectionStream_Rejections(t *testing.T) {
	env := newStreamEnv(t)
	token, _ := env.token(t, "acme")

	resp, _ := env.open(t, "/collections/widgets/stream", token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.open(t, "/collections/invoices/stream", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamHandler_MaxClients(t *testing.T) {
	env := newStreamEnv(t, WithStreamMaxClients(1))
	token, _ := env.token(t, "acme")

	resp, events := env.open(t, "/notifications/stream", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	nextEvent(t, events, EventConnected)

	resp, _ = env.open(t, "/collections/invoices/stream", token)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body dto.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Error)
	assert.Equal(t, dto.ErrCodeTooManyStreams, body.Error.Code)
}

func TestNotificationStream_DeliversOwnNotifications(t *testing.T) {
	env := newStreamEnv(t)
	token, _ := env.token(t, "acme")

	_, events := env.open(t, "/notifications/stream", token)
	nextEvent(t, events, EventConnected)
	testutil.RequireEventually(t, func() bool { return env.hub.ClientCount("acme") == 1 },
		time.Second, 5*time.Millisecond)

	env.hub.Notify(context.Background(), shared.Notification{OwnerID: "globex", Code: "OTHER"})
	env.hub.Notify(context.Background(), shared.Notification{
		OwnerID: "acme",
		Level:   shared.NotificationError,
		Code:    "PERMISSION_DENIED",
		Title:   "Permission denied",
	})

	evt := nextEvent(t, events, EventNotification)
	var n shared.Notification
	require.NoError(t, json.Unmarshal([]byte(evt.data), &n))
	assert.Equal(t, "PERMISSION_DENIED", n.Code)
	assert.Equal(t, "acme", n.OwnerID)
}

func TestLatest_KeepsNewest(t *testing.T) {
	ch := make(chan []document.Snapshot, 1)
	latest(ch, []document.Snapshot{{ID: "a"}})
	latest(ch, []document.Snapshot{{ID: "b"}})

	got := <-ch
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
	assert.Empty(t, ch)
}
