package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"TenderSync/internal/domain"
	"TenderSync/internal/usecase"
)

type handlers struct {
	deps    Deps
	started time.Time
}

// HealthStatus is the body of GET /api/v1/health.
type HealthStatus struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`
	Tenders  *int   `json:"tenders,omitempty"`
}

// TenderList is the body of GET /api/v1/tenders.
type TenderList struct {
	Items  []domain.TenderRecord `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

func (h *handlers) health(c echo.Context) error {
	ctx := c.Request().Context()
	status := HealthStatus{
		Status:   "ok",
		Uptime:   time.Since(h.started).Round(time.Second).String(),
		Database: "ok",
	}

	if h.deps.DB != nil {
		if err := h.deps.DB.PingContext(ctx); err != nil {
			status.Status = "degraded"
			status.Database = err.Error()
			return c.JSON(http.StatusServiceUnavailable, status)
		}
	}
	if h.deps.Tenders != nil {
		if n, err := h.deps.Tenders.Count(ctx); err == nil {
			status.Tenders = &n
		}
	}
	return c.JSON(http.StatusOK, status)
}

func (h *handlers) searchTenders(c echo.Context) error {
	query := domain.TenderQuery{
		Text:      c.QueryParam("q"),
		Stage:     c.QueryParam("stage"),
		Region:    c.QueryParam("region"),
		CPVPrefix: c.QueryParam("cpv"),
	}

	var err error
	if query.Limit, err = intParam(c, "limit"); err != nil {
		return err
	}
	if query.Offset, err = intParam(c, "offset"); err != nil {
		return err
	}
	if v := c.QueryParam("publishedFrom"); v != "" {
		from, err := parseDate(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid publishedFrom %q", v))
		}
		query.PublishedFrom = &from
	}

	items, err := h.deps.Tenders.Search(c.Request().Context(), query)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TenderList{Items: items, Limit: query.Limit, Offset: query.Offset})
}

func (h *handlers) getTender(c echo.Context) error {
	record, err := h.deps.Tenders.Get(c.Request().Context(), c.Param("externalId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, record)
}

func (h *handlers) listRuns(c echo.Context) error {
	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}
	runs, err := h.deps.Runs.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *handlers) getRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "run id must be a UUID")
	}
	run, err := h.deps.Runs.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (h *handlers) triggerSync(c echo.Context) error {
	var opts domain.SyncOptions
	if err := c.Bind(&opts); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid sync options body")
	}

	summary, err := h.deps.Syncer.Run(c.Request().Context(), opts)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, summary)
	case errors.Is(err, usecase.ErrSyncInProgress), errors.Is(err, usecase.ErrInvalidOptions):
		return err
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}

func intParam(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s must be a non-negative integer", name))
	}
	return n, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}
