package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	core "github.com/robinochieng/deepresearch/internal/agent/core"
	"github.com/robinochieng/deepresearch/internal/mail"
)

// ResearchHandler serves the pipeline endpoints: starting runs, polling their
// status and fetching terminal results.
type ResearchHandler struct {
	Orch    *core.Orchestrator
	Limiter *mail.RateLimiter
}

// Register wires the handler's routes onto the group.
func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("/research", h.startResearch)
	g.GET("/runs/:id", h.runStatus)
	g.GET("/runs/:id/report", h.runReport)
	g.GET("/delivery/stats", h.deliveryStats)
}

type researchRequest struct {
	Query     string `json:"query"`
	Recipient string `json:"recipient,omitempty"`
}

type runReportResponse struct {
	RunID    string              `json:"run_id"`
	Query    string              `json:"query"`
	Report   core.ResearchReport `json:"report"`
	Delivery mail.DeliveryResult `json:"delivery"`
	Error    string              `json:"error,omitempty"`
}

func (h *ResearchHandler) startResearch(c echo.Context) error {
	var req researchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	runID, err := h.Orch.StartRun(req.Query, req.Recipient)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

func (h *ResearchHandler) runStatus(c echo.Context) error {
	status, ok := h.Orch.Status(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, status)
}

func (h *ResearchHandler) runReport(c echo.Context) error {
	id := c.Param("id")
	status, ok := h.Orch.Status(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if !status.Stage.Terminal() {
		return echo.NewHTTPError(http.StatusConflict, "run still in progress")
	}
	result, ok := h.Orch.Result(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run result not available")
	}
	return c.JSON(http.StatusOK, runReportResponse{
		RunID:    result.RunID,
		Query:    result.Query,
		Report:   result.Report,
		Delivery: result.Delivery,
		Error:    status.Error,
	})
}

func (h *ResearchHandler) deliveryStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Limiter.Statistics())
}
