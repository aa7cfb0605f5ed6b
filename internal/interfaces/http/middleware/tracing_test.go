package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/docsync/internal/domain/identity"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func tracedRouter(recorder *tracetest.SpanRecorder, status int) *gin.Engine {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	router := gin.New()
	router.Use(RequestID(), otelgin.Middleware("test", otelgin.WithTracerProvider(tp)))
	router.Use(func(c *gin.Context) {
		c.Set(IdentityKey, identity.Identity{OwnerID: "acme", UserID: "u-1"})
		c.Next()
	})
	router.Use(SpanEnricher())
	router.GET("/collections/:resource", func(c *gin.Context) { c.Status(status) })
	return router
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := map[attribute.Key]string{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestSpanEnricher_AddsIdentity(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	req := httptest.NewRequest(http.MethodGet, "/collections/invoices", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	tracedRouter(recorder, http.StatusOK).ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	attrs := spanAttrs(spans[0])
	assert.Equal(t, "acme", attrs["owner_id"])
	assert.Equal(t, "u-1", attrs["user_id"])
	assert.Equal(t, "req-1", attrs["request_id"])
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
}

func TestSpanEnricher_MarksServerErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracedRouter(recorder, http.StatusServiceUnavailable).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/collections/invoices", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTracingWithConfig_Disabled(t *testing.T) {
	router := gin.New()
	router.Use(TracingWithConfig(TracingConfig{Enabled: false}))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
