package execution

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	esvc "github.com/pipewright/pipewright/api/rest/service/execution"
	exstorage "github.com/pipewright/pipewright/internal/execution"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ListResponse pairs the execution page with its pagination
// metadata.
type ListResponse struct {
	Executions models.Executions   `json:"executions"`
	Pagination *exstorage.PageInfo `json:"pagination"`
}

func List(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	execs, page, err := esvc.Service(c.Request().Context()).List(req)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	return c.JSON(http.StatusOK, ListResponse{Executions: execs, Pagination: page})
}

// ListForPipeline is List scoped by the path parameter.
func ListForPipeline(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	if req.PipelineID, err = strconv.ParseInt(c.Param("id"), 10, 64); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	execs, page, err := esvc.Service(c.Request().Context()).List(req)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	return c.JSON(http.StatusOK, ListResponse{Executions: execs, Pagination: page})
}

func Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	exec, err := esvc.Service(c.Request().Context()).Get(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, exec)
}

// GetForPipeline serves the on-demand status of one execution
// scoped to its pipeline.
func GetForPipeline(c echo.Context) error {
	pipelineID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	executionID, err := strconv.ParseInt(c.Param("execution_id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	exec, err := esvc.Service(c.Request().Context()).GetForPipeline(pipelineID, executionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, exec)
}

func parseListRequest(c echo.Context) (req *esvc.ListRequest, err error) {
	req = &esvc.ListRequest{
		Status: models.Status(c.QueryParam("status")),
	}

	if pipelineID := c.QueryParam("pipeline_id"); pipelineID != "" {
		if req.PipelineID, err = strconv.ParseInt(pipelineID, 10, 64); err != nil {
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

	if from := c.QueryParam("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return nil, err
		}
		req.From = &t
	}

	if to := c.QueryParam("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return nil, err
		}
		req.To = &t
	}

	return req, nil
}
