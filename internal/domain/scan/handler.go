package scan

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler exposes the scan surface: start a run, inspect run summaries.
type Handler struct {
	orch *Orchestrator
	logs LogRepository
}

func NewHandler(orch *Orchestrator, logs LogRepository) *Handler {
	return &Handler{orch: orch, logs: logs}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/scans", h.StartScan)
	api.GET("/scans", h.ListScans)
	api.GET("/scans/:id", h.GetScan)
}

type startScanRequest struct {
	PharmacyID *uuid.UUID `json:"pharmacy_id,omitempty"`
}

// StartScan kicks off a run in the background and returns its summary row
// immediately; poll GET /scans/:id for completion.
func (h *Handler) StartScan(c echo.Context) error {
	var req startScanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	runLog, err := h.orch.logs.Start(c.Request().Context(), KindOpportunity, req.PharmacyID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not start scan")
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()
		h.orch.resume(ctx, runLog, req.PharmacyID)
	}()

	return c.JSON(http.StatusAccepted, runLog)
}

func (h *Handler) GetScan(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid scan id")
	}
	l, err := h.logs.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "scan not found")
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) ListScans(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.logs.ListRecent(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list scans")
	}
	if items == nil {
		items = []*Log{}
	}
	return c.JSON(http.StatusOK, items)
}
