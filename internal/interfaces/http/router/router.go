package router

import (
	"net/http"

	"github.com/erp/docsync/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup creates a route group for a specific domain
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	subgroups  []*DomainGroup
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new domain-specific route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// Handle registers a route for method
func (dg *DomainGroup) Handle(method, path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodGet, path, handlers...)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodPost, path, handlers...)
}

// PUT registers a PUT route
func (dg *DomainGroup) PUT(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodPut, path, handlers...)
}

// DELETE registers a DELETE route
func (dg *DomainGroup) DELETE(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodDelete, path, handlers...)
}

// Group creates a sub-group within this domain
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	subgroup := NewDomainGroup(name, prefix)
	dg.subgroups = append(dg.subgroups, subgroup)
	return subgroup
}

// RegisterRoutes implements RouteRegistrar interface
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
	for _, subgroup := range dg.subgroups {
		subgroup.RegisterRoutes(group)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Prefix returns the group prefix
func (dg *DomainGroup) Prefix() string {
	return dg.prefix
}

// Handlers are the HTTP handlers mounted by SetupRoutes. Nil handlers are
// not mounted.
type Handlers struct {
	System      *handler.SystemHandler
	Collections *handler.CollectionHandler
	Streams     *handler.StreamHandler
	Diagnostics *handler.DiagnosticsHandler
	Auth        *handler.AuthHandler
	// DevTokens mounts the token issuing endpoint
	DevTokens bool
}

// SetupRoutes mounts the document sync API on engine
func SetupRoutes(engine *gin.Engine, h Handlers, opts ...RouterOption) *Router {
	r := NewRouter(engine, opts...)

	if h.System != nil {
		engine.GET("/health", h.System.Health)
		r.Register(NewDomainGroup("system", "/system").
			GET("/info", h.System.GetSystemInfo).
			GET("/ping", h.System.Ping).
			GET("/health", h.System.Health))
	}

	if h.Collections != nil || h.Streams != nil {
		collections := NewDomainGroup("collections", "/collections")
		if h.Collections != nil {
			collections.
				GET("/:resource", h.Collections.List).
				POST("/:resource", h.Collections.Create).
				GET("/:resource/:id", h.Collections.Get).
				PUT("/:resource/:id", h.Collections.Update).
				DELETE("/:resource/:id", h.Collections.Delete)
		}
		if h.Streams != nil {
			collections.GET("/:resource/stream", h.Streams.CollectionStream)
		}
		r.Register(collections)
	}

	if h.Streams != nil {
		r.Register(NewDomainGroup("notifications", "/notifications").
			GET("/stream", h.Streams.NotificationStream))
	}

	if h.Diagnostics != nil {
		r.Register(NewDomainGroup("diagnostics", "/diagnostics").
			GET("/permission-errors", h.Diagnostics.PermissionErrors))
	}

	if h.Auth != nil {
		authGroup := NewDomainGroup("auth", "/auth").POST("/sign-out", h.Auth.SignOut)
		if h.DevTokens {
			authGroup.POST("/token", h.Auth.IssueToken)
		}
		r.Register(authGroup)
	}

	r.Setup()
	return r
}
