package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	"github.com/yungbote/clinical-mdr/internal/http/response"
	"github.com/yungbote/clinical-mdr/internal/services"
)

const (
	headerAuthorID  = "X-Author-Id"
	defaultAuthorID = "unknown-user"
)

// FamilyRoutes is a handler that mounts the lifecycle endpoints of one entity family.
type FamilyRoutes interface {
	Family() string
	Register(rg *gin.RouterGroup)
}

type LibraryItemHandler[C any] struct {
	svc services.LibraryItemService[C]
}

func NewLibraryItemHandler[C any](svc services.LibraryItemService[C]) *LibraryItemHandler[C] {
	return &LibraryItemHandler[C]{svc: svc}
}

func (h *LibraryItemHandler[C]) Family() string { return h.svc.Family() }

func (h *LibraryItemHandler[C]) Register(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/audit-trail", h.AuditTrail)
	rg.GET("/counts", h.Counts)
	rg.GET("/:uid", h.Get)
	rg.PATCH("/:uid", h.Edit)
	rg.DELETE("/:uid", h.Delete)
	rg.GET("/:uid/versions", h.VersionHistory)
	rg.POST("/:uid/versions", h.NewVersion)
	rg.POST("/:uid/approvals", h.Approve)
	rg.DELETE("/:uid/activations", h.Inactivate)
	rg.POST("/:uid/activations", h.Reactivate)
	rg.GET("/:uid/possible-actions", h.PossibleActions)
	rg.GET("/:uid/relations", h.Relations)
}

type createRequest[C any] struct {
	LibraryName string `json:"library_name"`
	AuthorID    string `json:"author_id"`
	Content     C      `json:"content"`
}

type editRequest[C any] struct {
	ChangeDescription string `json:"change_description"`
	AuthorID          string `json:"author_id"`
	Content           C      `json:"content"`
}

// GET /api/:family
func (h *LibraryItemHandler[C]) List(c *gin.Context) {
	page, size, err := pageParams(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.svc.List(c.Request.Context(), services.ListQuery{
		Library: strings.TrimSpace(c.Query("library_name")),
		Status:  domainagg.Status(strings.TrimSpace(c.Query("status"))),
		Page:    page,
		Size:    size,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/:family
func (h *LibraryItemHandler[C]) Create(c *gin.Context) {
	var req createRequest[C]
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	snap, err := h.svc.CreateDraft(c.Request.Context(), req.Content, req.LibraryName, authorID(c, req.AuthorID))
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondCreated(c, snap)
}

// GET /api/:family/audit-trail
func (h *LibraryItemHandler[C]) AuditTrail(c *gin.Context) {
	page, size, err := pageParams(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.svc.AuditTrail(c.Request.Context(), page, size)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, out)
}

type countsResponse struct {
	domainagg.StatusCounts
	Total int `json:"total"`
}

// GET /api/:family/counts?library_name=
func (h *LibraryItemHandler[C]) Counts(c *gin.Context) {
	counts, err := h.svc.Counts(c.Request.Context(), strings.TrimSpace(c.Query("library_name")))
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, countsResponse{StatusCounts: counts, Total: counts.Total()})
}

// GET /api/:family/:uid/relations
func (h *LibraryItemHandler[C]) Relations(c *gin.Context) {
	refs, err := h.svc.Relations(c.Request.Context(), c.Param("uid"))
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, refs)
}

// GET /api/:family/:uid?at_specified_date_time=&version=&status=
func (h *LibraryItemHandler[C]) Get(c *gin.Context) {
	sel := services.Selector{
		Version: strings.TrimSpace(c.Query("version")),
		Status:  domainagg.Status(strings.TrimSpace(c.Query("status"))),
	}
	if raw := strings.TrimSpace(c.Query("at_specified_date_time")); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, fmt.Errorf("at_specified_date_time must be RFC3339: %w", err))
			return
		}
		sel.AsOfTime = &at
	}
	snap, err := h.svc.GetByUidAndVersionOrStatusOrAsOfTime(c.Request.Context(), c.Param("uid"), sel)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, snap)
}

// PATCH /api/:family/:uid
func (h *LibraryItemHandler[C]) Edit(c *gin.Context) {
	var req editRequest[C]
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	snap, err := h.svc.EditDraft(c.Request.Context(), c.Param("uid"), req.Content, req.ChangeDescription, authorID(c, req.AuthorID))
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, snap)
}

// DELETE /api/:family/:uid
func (h *LibraryItemHandler[C]) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("uid")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/:family/:uid/versions
func (h *LibraryItemHandler[C]) VersionHistory(c *gin.Context) {
	hist, err := h.svc.GetVersionHistory(c.Request.Context(), c.Param("uid"))
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, hist)
}

// POST /api/:family/:uid/versions
func (h *LibraryItemHandler[C]) NewVersion(c *gin.Context) {
	h.transition(c, h.svc.CreateNewVersion)
}

// POST /api/:family/:uid/approvals
func (h *LibraryItemHandler[C]) Approve(c *gin.Context) {
	h.transition(c, h.svc.Approve)
}

// DELETE /api/:family/:uid/activations
func (h *LibraryItemHandler[C]) Inactivate(c *gin.Context) {
	h.transition(c, h.svc.Inactivate)
}

// POST /api/:family/:uid/activations
func (h *LibraryItemHandler[C]) Reactivate(c *gin.Context) {
	h.transition(c, h.svc.Reactivate)
}

// GET /api/:family/:uid/possible-actions
func (h *LibraryItemHandler[C]) PossibleActions(c *gin.Context) {
	actions, err := h.svc.PossibleActions(c.Request.Context(), c.Param("uid"))
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"possible_actions": actions})
}

func (h *LibraryItemHandler[C]) transition(c *gin.Context, fn func(ctx context.Context, uid, authorID string) (services.AggregateSnapshot[C], error)) {
	snap, err := fn(c.Request.Context(), c.Param("uid"), authorID(c, ""))
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondCreated(c, snap)
}

// authorID prefers the request header over the body field.
func authorID(c *gin.Context, fromBody string) string {
	if v := strings.TrimSpace(c.GetHeader(headerAuthorID)); v != "" {
		return v
	}
	if v := strings.TrimSpace(fromBody); v != "" {
		return v
	}
	return defaultAuthorID
}

// pageParams reads page_number (1-based) and page_size; size 0 means everything.
func pageParams(c *gin.Context) (int, int, error) {
	page, err := intQuery(c, "page_number", 1)
	if err != nil {
		return 0, 0, err
	}
	size, err := intQuery(c, "page_size", 0)
	if err != nil {
		return 0, 0, err
	}
	if page < 1 || size < 0 {
		return 0, 0, fmt.Errorf("page_number must be >= 1 and page_size >= 0")
	}
	return page, size, nil
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}
