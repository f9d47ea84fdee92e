package opportunity

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler exposes the opportunity ledger and its status workflow.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/pharmacies/:pharmacyId/opportunities", h.ListByPharmacy)
	api.GET("/opportunities/:id", h.Get)
	api.POST("/opportunities/:id/status", h.Transition)
	api.POST("/opportunities/:id/notes", h.Annotate)
	api.DELETE("/opportunities/:id", h.Discard)
}

func (h *Handler) ListByPharmacy(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	items, err := h.svc.ListByPharmacy(c.Request().Context(), pharmacyID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list opportunities")
	}
	if items == nil {
		items = []*Opportunity{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid opportunity id")
	}
	o, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "opportunity not found")
	}
	return c.JSON(http.StatusOK, o)
}

type transitionRequest struct {
	Status Status `json:"status"`
	Note   string `json:"note,omitempty"`
}

// Transition advances an opportunity along the status workflow. Regressions
// are rejected; a note, when present, lands on the opportunity first.
func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid opportunity id")
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	o, err := h.svc.Transition(c.Request().Context(), id, req.Status, req.Note)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, o)
}

type annotateRequest struct {
	Note string `json:"note"`
}

func (h *Handler) Annotate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid opportunity id")
	}
	var req annotateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Annotate(c.Request().Context(), id, req.Note); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Discard deletes an opportunity that was never submitted; anything actioned
// is part of the permanent record.
func (h *Handler) Discard(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid opportunity id")
	}
	if err := h.svc.Discard(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
