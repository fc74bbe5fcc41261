// Admin HTTP handlers.
//
// Read-only operational endpoints plus the CSV inventory import, all gated
// by the shared-secret admin middleware:
//   - GET  /admin/stats            (assignment counters + recent rows)
//   - GET  /admin/assignments      (paginated listing)
//   - GET  /admin/inventory/stats  (pool counters)
//   - POST /admin/inventory/import (CSV upload)
//
// Handlers are transport-thin: they validate input, call repositories or
// services, and translate results into HTTP responses.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cityheroes/wecom-passbot/internal/domain"
	"github.com/cityheroes/wecom-passbot/internal/repo"
	"github.com/cityheroes/wecom-passbot/internal/services"
	"github.com/cityheroes/wecom-passbot/internal/utils"
)

// AdminHandlers groups the operational endpoints. The assignment store and
// the inventory pool live in separate databases, hence two handles.
type AdminHandlers struct {
	db  *gorm.DB
	inv *services.InventoryService
}

// NewAdminHandlers constructs AdminHandlers bound to the assignment DB and
// the inventory service.
func NewAdminHandlers(db *gorm.DB, inv *services.InventoryService) *AdminHandlers {
	return &AdminHandlers{db: db, inv: inv}
}

// StatsResponse is the payload of GET /admin/stats.
type StatsResponse struct {
	repo.AssignmentStats
	Recent []domain.Assignment `json:"recent"`
}

// Stats returns assignment counters and the most recent rows.
func (h *AdminHandlers) Stats(c *gin.Context) {
	stats, err := repo.CountAssignmentStats(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, "could not aggregate assignments")
		return
	}
	recent, err := repo.RecentAssignments(c.Request.Context(), h.db, 20)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, "could not list recent assignments")
		return
	}
	ok(c, http.StatusOK, StatsResponse{AssignmentStats: stats, Recent: recent})
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// ListAssignmentsResponse wraps a page of assignments and pagination info.
type ListAssignmentsResponse struct {
	Assignments []domain.Assignment `json:"assignments"`
	Pagination  Pagination          `json:"pagination"`
}

// Assignments returns a newest-first page of assignment rows. Query params
// page and page_size are clamped to sane bounds.
func (h *AdminHandlers) Assignments(c *gin.Context) {
	page := utils.AtoiDefault(c.Query("page"), 1)
	pageSize := utils.AtoiDefault(c.Query("page_size"), 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}

	total, err := repo.CountAssignments(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not count assignments")
		return
	}
	items, err := repo.ListAssignmentsPage(c.Request.Context(), h.db, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list assignments")
		return
	}
	ok(c, http.StatusOK, ListAssignmentsResponse{
		Assignments: items,
		Pagination:  Pagination{Page: page, PageSize: pageSize, Total: total},
	})
}

// InventoryStats returns pool counters.
func (h *AdminHandlers) InventoryStats(c *gin.Context) {
	stats, err := h.inv.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, "could not aggregate inventory")
		return
	}
	ok(c, http.StatusOK, stats)
}

// InventoryImport bulk-loads coupon rows from an uploaded CSV. The file may
// arrive as a multipart "file" part or as the raw request body.
func (h *AdminHandlers) InventoryImport(c *gin.Context) {
	var src io.ReadCloser

	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable upload")
			return
		}
		src = f
	} else {
		src = c.Request.Body
	}
	defer src.Close()

	n, err := h.inv.ImportCSV(c.Request.Context(), src)
	if errors.Is(err, services.ErrMissingLinkColumn) {
		fail(c, http.StatusBadRequest, ErrCodeImportFailed, err.Error())
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeImportFailed, "import failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"imported": n})
}
