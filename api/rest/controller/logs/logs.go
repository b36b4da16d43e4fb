package logs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	logsvc "github.com/pipewright/pipewright/api/rest/service/logs"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ForPipeline serves the logs of one execution of a pipeline,
// defaulting to the latest when no execution_id is given.
func ForPipeline(c echo.Context) error {
	pipelineID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	req, err := parseQueryRequest(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}
	req.PipelineID = pipelineID

	return query(c, req)
}

// ForExecution serves the logs of a specific execution.
func ForExecution(c echo.Context) error {
	executionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	req, err := parseQueryRequest(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}
	req.ExecutionID = executionID

	return query(c, req)
}

func parseQueryRequest(c echo.Context) (req *logsvc.QueryRequest, err error) {
	req = &logsvc.QueryRequest{
		StepFilter: c.QueryParam("step_filter"),
		Status:     models.Status(c.QueryParam("status")),
	}

	if req.Status != "" && !req.Status.Valid() {
		return nil, errors.Errorf("invalid status %q", req.Status)
	}

	if executionID := c.QueryParam("execution_id"); executionID != "" {
		if req.ExecutionID, err = strconv.ParseInt(executionID, 10, 64); err != nil {
			return nil, err
		}
	}

	if page := c.QueryParam("page"); page != "" {
		if req.Page, err = strconv.Atoi(page); err != nil {
			return nil, err
		}
	}

	if perPage := c.QueryParam("per_page"); perPage != "" {
		if req.PerPage, err = strconv.Atoi(perPage); err != nil {
			return nil, err
		}
	}

	if from := c.QueryParam("from_date"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return nil, err
		}
		req.From = &t
	}

	if to := c.QueryParam("to_date"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return nil, err
		}
		req.To = &t
	}

	return req, nil
}

func query(c echo.Context, req *logsvc.QueryRequest) error {
	resp, err := logsvc.Service(c.Request().Context()).Query(req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, resp)
}
