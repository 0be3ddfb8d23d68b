// Delivery audit HTTP handlers.
//
// This file exposes the internal audit endpoint:
//   - GET /deliveries   (paginated, token-protected)
//
// The endpoint lets operators confirm that messages left the system without
// reading any submission content, since only delivery metadata is persisted.
package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/meridianedu/go-admissions-backend/internal/domain"
	"github.com/meridianedu/go-admissions-backend/internal/repo"
	"github.com/meridianedu/go-admissions-backend/internal/utils"
)

// Handlers groups the HTTP endpoints of the intake API. It depends on the
// Submitter interface to keep transport concerns separate from the pipeline.
type Handlers struct {
	intake     Submitter
	db         *gorm.DB
	adminToken string
}

// New constructs a Handlers instance bound to the given collaborators.
func New(intake Submitter, db *gorm.DB, adminToken string) *Handlers {
	return &Handlers{intake: intake, db: db, adminToken: adminToken}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListDeliveriesResponse wraps a page of audit rows and pagination info.
type ListDeliveriesResponse struct {
	Deliveries []domain.DeliveryRecord `json:"deliveries"`
	Pagination Pagination              `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// ListDeliveries godoc
// @ID          listDeliveries
// @Summary     List delivery audit records
// @Description Returns a page of delivery attempts, newest first. Requires
// @Description the X-Admin-Token header.
// @Tags        Deliveries
// @Produce     json
//
// @Param       X-Admin-Token  header  string  true   "Operator token"
// @Param       page           query   int     false  "Page number (1-based)"
// @Param       page_size      query   int     false  "Page size (max 100)"
//
// @Success     200  {object}  handlers.ListDeliveriesResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or wrong token"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /deliveries [get]
func (h *Handlers) ListDeliveries(c *gin.Context) {
	token := c.GetHeader("X-Admin-Token")
	if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid admin token")
		return
	}

	page, pageSize := clampPagination(c)
	ctx := c.Request.Context()

	total, err := repo.CountDeliveries(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list deliveries")
		return
	}
	records, err := repo.ListDeliveriesPage(ctx, h.db, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list deliveries")
		return
	}
	if records == nil {
		records = []domain.DeliveryRecord{}
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListDeliveriesResponse{
		Deliveries: records,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
