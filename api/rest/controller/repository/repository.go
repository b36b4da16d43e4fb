package repository

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	reposvc "github.com/pipewright/pipewright/api/rest/service/repository"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func List(c echo.Context) error {
	repos, err := reposvc.Service(c.Request().Context()).List(&reposvc.ListRequest{
		Status: c.QueryParam("status"),
		Source: c.QueryParam("source"),
	})
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, repos)
}

func Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	repo, err := reposvc.Service(c.Request().Context()).Get(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, repo)
}

func Post(c echo.Context) error {
	req := &reposvc.CreateRequest{}
	if err := c.Bind(req); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	repo, err := reposvc.Service(c.Request().Context()).Create(req)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	return c.JSON(http.StatusCreated, repo)
}

func Delete(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	if err := reposvc.Service(c.Request().Context()).Delete(id); err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func Mirror(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	repo, err := reposvc.Service(c.Request().Context()).Mirror(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.ErrNotFound
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	return c.JSON(http.StatusOK, repo)
}
