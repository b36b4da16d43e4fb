package pipeline

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	esvc "github.com/pipewright/pipewright/api/rest/service/execution"
	pipesvc "github.com/pipewright/pipewright/api/rest/service/pipeline"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func List(c echo.Context) error {
	req := &pipesvc.ListRequest{Status: c.QueryParam("status")}

	if repoID := c.QueryParam("repository_id"); repoID != "" {
		id, err := strconv.ParseInt(repoID, 10, 64)
		if err != nil {
			return echo.ErrBadRequest.SetInternal(err)
		}
		req.RepositoryID = id
	}

	pipelines, err := pipesvc.Service(c.Request().Context()).List(req)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, pipelines)
}

func Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	pipeline, err := pipesvc.Service(c.Request().Context()).Get(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, pipeline)
}

func Post(c echo.Context) error {
	req := &pipesvc.CreateRequest{}
	if err := c.Bind(req); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	pipeline, err := pipesvc.Service(c.Request().Context()).Create(req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrBadRequest.SetInternal(err)
	}

	return c.JSON(http.StatusCreated, pipeline)
}

func Delete(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	if err := pipesvc.Service(c.Request().Context()).Delete(id); err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.NoContent(http.StatusNoContent)
}

type triggerBody struct {
	Branch      string `json:"branch,omitempty"`
	TriggerType string `json:"trigger_type,omitempty"`
	Retry       *bool  `json:"retry,omitempty"`
	MaxRetries  *int   `json:"max_retries,omitempty"`
}

// Trigger fires the pipeline on Bitbucket and returns the new
// execution record. Exhausted retries map to 502 since the
// failure is upstream.
func Trigger(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	body := &triggerBody{}
	if err := c.Bind(body); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	exec, err := esvc.Service(c.Request().Context()).Trigger(&esvc.TriggerRequest{
		PipelineID:  id,
		Branch:      body.Branch,
		TriggerType: body.TriggerType,
		Retry:       body.Retry,
		MaxRetries:  body.MaxRetries,
	})
	if err != nil {
		var failure *esvc.TriggerFailure
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return echo.ErrNotFound
		case errors.As(err, &failure):
			return echo.NewHTTPError(http.StatusBadGateway, failure.Error())
		default:
			return echo.ErrInternalServerError.SetInternal(err)
		}
	}

	return c.JSON(http.StatusCreated, exec)
}
