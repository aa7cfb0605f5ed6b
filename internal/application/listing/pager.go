package listing

import (
	"context"
	"sync"

	"github.com/erp/docsync/internal/application/mutation"
	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// DefaultPageSize is used when a pager is created without a size
const DefaultPageSize = 25

// Page is one window of a collection
type Page struct {
	Items []document.Snapshot
	// Next continues after the last item; nil on an empty page
	Next *Cursor
	// HasMore is true when the page came back full. A full last page
	// reports true and the following fetch returns no items.
	HasMore bool
}

// Pager fetches pages and single documents. Failures are classified and
// routed: permission refusals go to the event bus, the rest become
// notifications.
type Pager struct {
	store    document.Store
	router   *mutation.Router
	pageSize int
	logger   *zap.Logger
}

// NewPager creates a pager. router may be nil, in which case failures are
// only returned.
func NewPager(store document.Store, router *mutation.Router, pageSize int, logger *zap.Logger) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pager{store: store, router: router, pageSize: pageSize, logger: logger}
}

// PageSize returns the number of items per page
func (p *Pager) PageSize() int {
	return p.pageSize
}

// FetchPage returns the page of shape that follows cursor. A nil cursor
// starts at the beginning.
func (p *Pager) FetchPage(ctx context.Context, path document.CollectionPath, shape document.Shape, cursor *Cursor) (Page, error) {
	return p.fetch(ctx, path, shape, cursor, p.pageSize)
}

// FetchPageSize is FetchPage with an explicit page size
func (p *Pager) FetchPageSize(ctx context.Context, path document.CollectionPath, shape document.Shape, cursor *Cursor, size int) (Page, error) {
	if size <= 0 {
		size = p.pageSize
	}
	return p.fetch(ctx, path, shape, cursor, size)
}

func (p *Pager) fetch(ctx context.Context, path document.CollectionPath, shape document.Shape, cursor *Cursor, size int) (Page, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "listing", "fetch_page",
		telemetry.WithAttribute(telemetry.SpanAttrPath, path.String()))
	defer span.End()

	if !cursor.Matches(shape) {
		return Page{}, ErrStaleCursor
	}

	q := document.Query{Shape: shape, Limit: size, StartAfter: cursor.position()}
	docs, err := p.store.Query(ctx, path, q)
	if err != nil {
		f := document.Classify(err, document.OperationList, path.String(), nil)
		telemetry.RecordError(span, f)
		p.route(ctx, f)
		return Page{}, f
	}

	page := Page{Items: docs, HasMore: len(docs) == size}
	if len(docs) > 0 {
		page.Next = CursorAfter(shape, docs[len(docs)-1])
	}
	telemetry.SetAttributes(span, "page.items", len(docs), "page.has_more", page.HasMore)
	return page, nil
}

// Get reads one document with the same failure routing as FetchPage
func (p *Pager) Get(ctx context.Context, path document.DocumentPath) (*document.Snapshot, error) {
	snap, err := p.store.Get(ctx, path)
	if err != nil {
		f := document.Classify(err, document.OperationGet, path.String(), nil)
		p.route(ctx, f)
		return nil, f
	}
	return snap, nil
}

func (p *Pager) route(ctx context.Context, f *document.Failure) {
	if p.router == nil {
		p.logger.Debug("unrouted read failure", zap.String("path", f.Path), zap.Error(f))
		return
	}
	p.router.RouteFailure(ctx, f)
}

// ListPager walks one view's collection page by page. Changing the shape
// discards the cursor and starts over.
type ListPager struct {
	pager *Pager
	path  document.CollectionPath

	mu     sync.Mutex
	shape  document.Shape
	cursor *Cursor
	more   bool
}

// NewListPager creates a pager positioned at the start of shape
func NewListPager(pager *Pager, path document.CollectionPath, shape document.Shape) *ListPager {
	return &ListPager{pager: pager, path: path, shape: shape, more: true}
}

// SetShape switches the query. The cursor is dropped when the shape
// differs from the current one.
func (l *ListPager) SetShape(shape document.Shape) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if shape.Key() == l.shape.Key() {
		return
	}
	l.shape = shape
	l.cursor = nil
	l.more = true
}

// Reset starts again from the first page
func (l *ListPager) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cursor = nil
	l.more = true
}

// HasMore reports whether Next may return more items
func (l *ListPager) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.more
}

// Next fetches the following page. A shape change during the fetch
// discards the result.
func (l *ListPager) Next(ctx context.Context) (Page, error) {
	l.mu.Lock()
	shape, cursor := l.shape, l.cursor
	l.mu.Unlock()

	page, err := l.pager.FetchPage(ctx, l.path, shape, cursor)
	if err != nil {
		return Page{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shape.Key() != shape.Key() {
		return Page{}, ErrStaleCursor
	}
	if page.Next != nil {
		l.cursor = page.Next
	}
	l.more = page.HasMore
	return page, nil
}
