package trigger

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler exposes trigger administration: the rule table the scan engine
// evaluates, plus per-payer overrides.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/triggers", h.List)
	api.POST("/triggers", h.Create)
	api.GET("/triggers/:id", h.Get)
	api.PUT("/triggers/:id", h.Update)
	api.POST("/triggers/:id/retire", h.Retire)
	api.DELETE("/triggers/:id", h.Delete)

	api.PUT("/triggers/:id/overrides", h.UpsertOverride)
	api.DELETE("/triggers/:id/overrides/:overrideId", h.DeleteOverride)
}

func (h *Handler) List(c echo.Context) error {
	enabledOnly, _ := strconv.ParseBool(c.QueryParam("enabled"))
	items, err := h.svc.List(c.Request().Context(), enabledOnly)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list triggers")
	}
	if items == nil {
		items = []*Trigger{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Create(c echo.Context) error {
	var t Trigger
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Create(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid trigger id")
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "trigger not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid trigger id")
	}
	var t Trigger
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t.ID = id
	if err := h.svc.Update(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

// Retire disables a trigger while leaving its opportunity history intact.
func (h *Handler) Retire(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid trigger id")
	}
	if err := h.svc.Retire(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not retire trigger")
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete removes an unreferenced trigger; referenced triggers come back 409.
func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid trigger id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) UpsertOverride(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid trigger id")
	}
	var o PayerOverride
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	o.TriggerID = id
	if err := h.svc.UpsertOverride(c.Request().Context(), &o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) DeleteOverride(c echo.Context) error {
	if _, err := uuid.Parse(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid trigger id")
	}
	overrideID, err := uuid.Parse(c.Param("overrideId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid override id")
	}
	if err := h.svc.DeleteOverride(c.Request().Context(), overrideID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not delete override")
	}
	return c.NoContent(http.StatusNoContent)
}
