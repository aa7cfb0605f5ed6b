package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/erp/docsync/internal/application/listing"
	"github.com/erp/docsync/internal/application/mutation"
	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/identity"
	"github.com/erp/docsync/internal/interfaces/http/dto"
	"github.com/erp/docsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CollectionHandler serves reads and writes on an owner's collections.
// Every write goes through the mutation pipeline and its result through
// the router, so the HTTP caller and the notification stream see the same
// outcome.
type CollectionHandler struct {
	BaseHandler
	pipeline    *mutation.Pipeline
	pager       *listing.Pager
	router      *mutation.Router
	maxPageSize int
	logger      *zap.Logger
}

// NewCollectionHandler creates a new CollectionHandler
func NewCollectionHandler(pipeline *mutation.Pipeline, pager *listing.Pager, router *mutation.Router,
	maxPageSize int, logger *zap.Logger) *CollectionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollectionHandler{
		pipeline:    pipeline,
		pager:       pager,
		router:      router,
		maxPageSize: maxPageSize,
		logger:      logger,
	}
}

// List godoc
//
//	@Summary		List documents
//	@Description	Returns one page of a collection. Filters are field:op:value.
//	@Tags			collections
//	@Produce		json
//	@Param			resource	path		string		true	"Resource name"
//	@Param			limit		query		int			false	"Page size"
//	@Param			cursor		query		string		false	"Cursor from the previous page"
//	@Param			order_by	query		string		false	"Order by field"
//	@Param			order_dir	query		string		false	"asc or desc"
//	@Param			where		query		[]string	false	"Filters"
//	@Success		200			{object}	APIResponse[[]dto.DocumentResponse]
//	@Failure		400			{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		403			{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		409			{object}	dto.Response{error=dto.ErrorInfo}
//	@Security		BearerAuth
//	@Router			/collections/{resource} [get]
func (h *CollectionHandler) List(c *gin.Context) {
	id, spec, ok := h.scope(c)
	if !ok {
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

	cursor, err := listing.DecodeCursor(req.Cursor)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	size := req.Limit
	if h.maxPageSize > 0 && size > h.maxPageSize {
		size = h.maxPageSize
	}

	path := document.NewCollectionPath(id.OwnerID, spec.Name)
	page, err := h.pager.FetchPageSize(c.Request.Context(), path, shape, cursor, size)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	next, err := listing.EncodeCursor(page.Next)
	if err != nil {
		h.logger.Error("Failed to encode cursor", zap.Error(err))
		h.InternalError(c, "Failed to encode cursor")
		return
	}

	pageSize := size
	if pageSize <= 0 {
		pageSize = h.pager.PageSize()
	}
	h.Page(c, dto.ToDocumentResponses(page.Items), pageSize, next, page.HasMore)
}

// Get godoc
//
//	@Summary		Get a document
//	@Tags			collections
//	@Produce		json
//	@Param			resource	path		string	true	"Resource name"
//	@Param			id			path		string	true	"Document ID"
//	@Success		200			{object}	APIResponse[dto.DocumentResponse]
//	@Failure		404			{object}	dto.Response{error=dto.ErrorInfo}
//	@Security		BearerAuth
//	@Router			/collections/{resource}/{id} [get]
func (h *CollectionHandler) Get(c *gin.Context) {
	id, spec, ok := h.scope(c)
	if !ok {
		return
	}

	path := document.NewCollectionPath(id.OwnerID, spec.Name).Doc(c.Param("id"))
	snap, err := h.pager.Get(c.Request.Context(), path)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToDocumentResponse(*snap))
}

// Create godoc
//
//	@Summary		Create a document
//	@Description	Validates, normalizes and writes a new document. On failure the input is echoed back.
//	@Tags			collections
//	@Accept			json
//	@Produce		json
//	@Param			resource	path		string	true	"Resource name"
//	@Param			id			query		string	false	"Client chosen document ID"
//	@Success		201			{object}	APIResponse[dto.DocumentResponse]
//	@Failure		400			{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		409			{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		503			{object}	dto.Response{error=dto.ErrorInfo}
//	@Security		BearerAuth
//	@Router			/collections/{resource} [post]
func (h *CollectionHandler) Create(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	data, ok := h.bindRecord(c)
	if !ok {
		return
	}

	res := h.pipeline.Create(c.Request.Context(), mutation.CreateRequest{
		Identity: id,
		Resource: document.Resource(c.Param("resource")),
		ID:       c.Query("id"),
		Data:     data,
	})
	if !h.route(c, res) {
		return
	}
	h.Created(c, dto.ToDocumentResponse(*res.Document))
}

// Update godoc
//
//	@Summary		Update a document
//	@Description	Writes the supplied fields onto an existing document and recomputes totals when items change
//	@Tags			collections
//	@Accept			json
//	@Produce		json
//	@Param			resource	path		string	true	"Resource name"
//	@Param			id			path		string	true	"Document ID"
//	@Success		200			{object}	APIResponse[dto.DocumentResponse]
//	@Failure		400			{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		404			{object}	dto.Response{error=dto.ErrorInfo}
//	@Security		BearerAuth
//	@Router			/collections/{resource}/{id} [put]
func (h *CollectionHandler) Update(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	data, ok := h.bindRecord(c)
	if !ok {
		return
	}

	res := h.pipeline.Update(c.Request.Context(), mutation.UpdateRequest{
		Identity: id,
		Resource: document.Resource(c.Param("resource")),
		ID:       c.Param("id"),
		Data:     data,
	})
	if !h.route(c, res) {
		return
	}
	h.Success(c, dto.ToDocumentResponse(*res.Document))
}

// Delete godoc
//
//	@Summary	Delete a document
//	@Tags		collections
//	@Param		resource	path	string	true	"Resource name"
//	@Param		id			path	string	true	"Document ID"
//	@Success	204
//	@Failure	403	{object}	dto.Response{error=dto.ErrorInfo}
//	@Security	BearerAuth
//	@Router		/collections/{resource}/{id} [delete]
func (h *CollectionHandler) Delete(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	res := h.pipeline.Delete(c.Request.Context(), mutation.DeleteRequest{
		Identity: id,
		Resource: document.Resource(c.Param("resource")),
		ID:       c.Param("id"),
	})
	if !h.route(c, res) {
		return
	}
	h.NoContent(c)
}

// route hands the result to the router and writes the failure response.
// It reports whether the mutation committed.
func (h *CollectionHandler) route(c *gin.Context, res mutation.Result) bool {
	if h.router != nil {
		h.router.Route(c.Request.Context(), res)
	}
	if res.OK() {
		return true
	}
	h.HandleFailure(c, res.Err, res.Input, res.Trace)
	return false
}

func (h *CollectionHandler) identity(c *gin.Context) (identity.Identity, bool) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		h.Unauthorized(c, "Sign in to continue")
		return identity.Identity{}, false
	}
	return id, true
}

// scope resolves the caller and the resource for reads. Unknown resources
// are a 404 here; writes let the pipeline classify them.
func (h *CollectionHandler) scope(c *gin.Context) (identity.Identity, document.ResourceSpec, bool) {
	id, ok := h.identity(c)
	if !ok {
		return identity.Identity{}, document.ResourceSpec{}, false
	}
	spec, ok := document.Lookup(c.Param("resource"))
	if !ok {
		h.NotFound(c, "Unknown resource "+c.Param("resource"))
		return identity.Identity{}, document.ResourceSpec{}, false
	}
	return id, spec, true
}

// bindRecord decodes the body keeping numbers exact
func (h *CollectionHandler) bindRecord(c *gin.Context) (document.Record, bool) {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()

	var data document.Record
	if err := dec.Decode(&data); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.ErrorWithCode(c, dto.ErrCodeRequestTooBig, "Request body exceeds maximum allowed size")
			return nil, false
		}
		if errors.Is(err, io.EOF) {
			h.ErrorWithCode(c, dto.ErrCodeInvalidJSON, "Request body is empty")
			return nil, false
		}
		h.ErrorWithCode(c, dto.ErrCodeInvalidJSON, "Request body is not a JSON object")
		return nil, false
	}
	if data == nil {
		data = document.Record{}
	}
	return data, true
}
