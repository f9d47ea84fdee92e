package discovery

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/therxos/therxos-backend-sub002/internal/domain/scan"
)

// Handler exposes the discovery scan and its review queue.
type Handler struct {
	scanner *Scanner
	queue   *Queue
}

func NewHandler(scanner *Scanner, queue *Queue) *Handler {
	return &Handler{scanner: scanner, queue: queue}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/discovery-scans", h.StartScan)
	api.GET("/pending-opportunity-types", h.List)
	api.GET("/pending-opportunity-types/:id", h.Get)
	api.POST("/pending-opportunity-types/:id/approve", h.Approve)
	api.POST("/pending-opportunity-types/:id/reject", h.Reject)
	api.GET("/unclassified-drugs", h.ListUnclassified)
}

// StartScan kicks off a discovery run in the background.
func (h *Handler) StartScan(c echo.Context) error {
	runLog, err := h.scanner.logs.Start(c.Request().Context(), scan.KindDiscovery, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not start discovery scan")
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()
		h.scanner.resume(ctx, runLog)
	}()
	return c.JSON(http.StatusAccepted, runLog)
}

func (h *Handler) List(c echo.Context) error {
	status := ReviewStatus(c.QueryParam("status"))
	items, err := h.queue.List(c.Request().Context(), status)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list proposals")
	}
	if items == nil {
		items = []*PendingOpportunityType{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid proposal id")
	}
	p, err := h.queue.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "proposal not found")
	}
	return c.JSON(http.StatusOK, p)
}

type reviewRequest struct {
	Note string `json:"note"`
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid proposal id")
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.queue.Approve(c.Request().Context(), id, req.Note)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Reject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid proposal id")
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.queue.Reject(c.Request().Context(), id, req.Note); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListUnclassified(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.queue.ListUnclassified(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list unclassified drugs")
	}
	if items == nil {
		items = []*UnclassifiedDrug{}
	}
	return c.JSON(http.StatusOK, items)
}
