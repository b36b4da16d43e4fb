package pipeline

import (
	"fmt"
	"net/http"
	"strconv"

	pipesvc "github.com/pipewright/pipewright/api/rest/service/pipeline"
	"github.com/pipewright/pipewright/internal/pipelineconfig"
	"github.com/pipewright/pipewright/internal/runner"
	"github.com/pkg/errors"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

var testRunner *runner.Runner

// SetRunner installs the Docker runner used by the test
// endpoint. Without one the endpoint answers 503.
func SetRunner(r *runner.Runner) {
	testRunner = r
}

// Test runs the pipeline configuration locally in Docker and
// records the outcome on the pipeline.
func Test(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	if testRunner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "local test runner is not configured")
	}

	svc := pipesvc.Service(ctx)

	pipeline, err := svc.Get(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	cfg, err := pipelineconfig.Parse(pipeline.Config)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	env := make(map[string]string, len(pipeline.EnvironmentVariables))
	for k, v := range pipeline.EnvironmentVariables {
		env[k] = fmt.Sprintf("%v", v)
	}

	result, err := testRunner.Run(ctx, cfg, env)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	updated, err := svc.RecordTest(id, &pipesvc.TestResult{
		Passed: result.Passed,
		Output: result.Output,
		Error:  result.Error,
	})
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, updated)
}
