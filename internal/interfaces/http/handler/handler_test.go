package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erp/docsync/internal/application/listing"
	"github.com/erp/docsync/internal/application/mutation"
	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/identity"
	"github.com/erp/docsync/internal/infrastructure/persistence"
	"github.com/erp/docsync/internal/interfaces/http/dto"
	"github.com/erp/docsync/internal/interfaces/http/middleware"
	"github.com/erp/docsync/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ownerHeader = "X-Test-Owner"

type testEnv struct {
	store  *testutil.FaultyStore
	events *testutil.EventRecorder
	notes  *testutil.NotificationRecorder
	engine *gin.Engine
}

// signIn stands in for the JWT middleware
func signIn(c *gin.Context) {
	if owner := c.GetHeader(ownerHeader); owner != "" {
		id := testutil.IdentityFor(owner)
		c.Set(middleware.IdentityKey, id)
		c.Request = c.Request.WithContext(identity.WithContext(c.Request.Context(), id))
	}
	c.Next()
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		store:  testutil.NewFaultyStore(persistence.NewMemoryDocumentStore()),
		events: testutil.NewEventRecorder(),
		notes:  testutil.NewNotificationRecorder(),
	}
	router := mutation.NewRouter(env.events, env.notes, nil)
	pipeline := mutation.NewPipeline(env.store, mutation.WithRetry(mutation.RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}))
	pager := listing.NewPager(env.store, router, 2, nil)
	h := NewCollectionHandler(pipeline, pager, router, 50, nil)

	env.engine = gin.New()
	env.engine.Use(signIn)
	g := env.engine.Group("/collections")
	g.GET("/:resource", h.List)
	g.POST("/:resource", h.Create)
	g.GET("/:resource/:id", h.Get)
	g.PUT("/:resource/:id", h.Update)
	g.DELETE("/:resource/:id", h.Delete)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func invoiceBody() map[string]any {
	return map[string]any{
		"party": "Acme Ltd",
		"items": []any{
			map[string]any{"name": "Widget", "unitPrice": 10, "quantity": 2},
			map[string]any{"name": "Bolt", "unitPrice": 5, "quantity": 1},
		},
	}
}

func TestCollectionHandler_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/collections/invoices?id=inv-1", "acme", invoiceBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	doc := testutil.AssertSuccess(t, w.Body.Bytes()).Document(t)
	assert.Equal(t, "inv-1", doc.ID)
	assert.Equal(t, "owner/acme/invoices/inv-1", doc.Path)
	assert.Equal(t, "25", toString(doc.Data["total"]))

	w = env.do(t, http.MethodGet, "/collections/invoices/inv-1", "acme", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "inv-1", testutil.AssertSuccess(t, w.Body.Bytes()).Document(t).ID)
	assert.Empty(t, env.notes.Notifications())
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		data, _ := json.Marshal(t)
		return string(data)
	}
	return ""
}

func TestCollectionHandler_Create_ValidationEchoesInput(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{"currency": "EURO", "notes": "keep me"}
	w := env.do(t, http.MethodPost, "/collections/invoices", "acme", body)

	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	info := testutil.AssertErrorCode(t, w.Body.Bytes(), dto.ErrCodeValidation)
	require.NotEmpty(t, info.Details)
	var fields []string
	for _, d := range info.Details {
		fields = append(fields, d.Field)
	}
	assert.Contains(t, fields, "party")
	assert.Contains(t, fields, "currency")
	assert.IsIncreasing(t, fields)

	var echo dto.MutationErrorResponse
	testutil.DecodeEnvelope(t, w.Body.Bytes()).DataAs(t, &echo)
	echoed := echo.Input
	assert.Equal(t, "keep me", echoed["notes"])
	assert.Zero(t, env.store.Calls(document.OperationCreate))
	assert.Empty(t, env.notes.Notifications())
	assert.Zero(t, env.events.Count())
}

func TestCollectionHandler_Create_PermissionBroadcastsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailNext(document.OperationCreate, testutil.PermissionDenied())

	w := env.do(t, http.MethodPost, "/collections/invoices", "acme", invoiceBody())

	assert.Equal(t, http.StatusForbidden, w.Code)
	require.Len(t, env.events.PermissionEvents(), 1)
	evt := env.events.PermissionEvents()[0]
	assert.Contains(t, evt.Path, "owner/acme/invoices/")
	assert.Equal(t, document.OperationCreate, evt.Operation)
	assert.Empty(t, env.notes.Notifications())
}

func TestCollectionHandler_Create_TransientIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailAlways(document.OperationCreate, testutil.Unavailable())

	w := env.do(t, http.MethodPost, "/collections/invoices", "acme", invoiceBody())

	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	info := testutil.AssertErrorCode(t, w.Body.Bytes(), dto.ErrCodeUnavailable)
	assert.True(t, info.Retryable)
	assert.Equal(t, 2, env.store.Calls(document.OperationCreate))
	assert.Len(t, env.notes.Notifications(), 1)
}

func TestCollectionHandler_Create_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/collections/invoices", bytes.NewBufferString("[1,2"))
	req.Header.Set(ownerHeader, "acme")
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	testutil.AssertErrorCode(t, w.Body.Bytes(), dto.ErrCodeInvalidJSON)
}

func TestCollectionHandler_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/collections/invoices", "", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	testutil.AssertErrorCode(t, w.Body.Bytes(), dto.ErrCodeUnauthorized)
}

func TestCollectionHandler_UnknownResource(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/collections/widgets", "acme", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/collections/widgets", "acme", map[string]any{"a": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	testutil.AssertErrorCode(t, w.Body.Bytes(), dto.ErrCodeValidation)
}

func TestCollectionHandler_UpdateAndDelete(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/collections/invoices?id=inv-1", "acme", invoiceBody()).Code)

	w := env.do(t, http.MethodPut, "/collections/invoices/inv-1", "acme", map[string]any{"notes": "updated"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fields := testutil.AssertSuccess(t, w.Body.Bytes()).Document(t).Data
	assert.Equal(t, "updated", fields["notes"])
	assert.Equal(t, "Acme Ltd", fields["party"])

	w = env.do(t, http.MethodDelete, "/collections/invoices/inv-1", "acme", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/collections/invoices/inv-1", "acme", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	testutil.AssertErrorCode(t, w.Body.Bytes(), dto.ErrCodeNotFound)
}

func TestCollectionHandler_OwnersAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/collections/invoices?id=inv-1", "acme", invoiceBody()).Code)

	w := env.do(t, http.MethodGet, "/collections/invoices/inv-1", "globex", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/collections/invoices", "globex", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, testutil.AssertSuccess(t, w.Body.Bytes()).Documents(t))
}

func TestCollectionHandler_ListPages(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"a", "b", "c"} {
		body := invoiceBody()
		body["status"] = "draft"
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/collections/invoices?id="+id, "acme", body).Code)
	}

	w := env.do(t, http.MethodGet, "/collections/invoices?order_by=party&order_dir=asc&where=status:eq:draft", "acme", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := testutil.AssertSuccess(t, w.Body.Bytes())
	assert.Len(t, resp.Documents(t), 2)
	require.NotNil(t, resp.Meta)
	assert.True(t, resp.Meta.HasMore)
	next := resp.Meta.NextCursor
	require.NotEmpty(t, next)

	w = env.do(t, http.MethodGet, "/collections/invoices?order_by=party&order_dir=asc&where=status:eq:draft&cursor="+next, "acme", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = testutil.AssertSuccess(t, w.Body.Bytes())
	items := resp.Documents(t)
	require.Len(t, items, 1)
	assert.Equal(t, "c", items[0].ID)
	assert.False(t, resp.Meta.HasMore)

	// the cursor belongs to the filtered query
	w = env.do(t, http.MethodGet, "/collections/invoices?order_by=party&order_dir=asc&cursor="+next, "acme", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	testutil.AssertErrorCode(t, w.Body.Bytes(), dto.ErrCodeStaleCursor)
}

func TestCollectionHandler_ListRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		code string
	}{
		{"malformed cursor", "/collections/invoices?cursor=!!!", dto.ErrCodeInvalidCursor},
		{"bad filter", "/collections/invoices?where=status", dto.ErrCodeBadRequest},
		{"bad operator", "/collections/invoices?where=status:like:x", dto.ErrCodeBadRequest},
		{"limit too large", "/collections/invoices?limit=500", dto.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.path, "acme", nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			testutil.AssertErrorCode(t, w.Body.Bytes(), tt.code)
		})
	}
}

func TestCollectionHandler_ListPermissionDenied(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailNext(document.OperationList, testutil.PermissionDenied())

	w := env.do(t, http.MethodGet, "/collections/invoices", "acme", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, env.events.PermissionEvents(), 1)
}
