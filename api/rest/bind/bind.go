package bind

import (
	eventctrl "github.com/pipewright/pipewright/api/rest/controller/event"
	"github.com/pipewright/pipewright/api/rest/controller/execution"
	"github.com/pipewright/pipewright/api/rest/controller/logs"
	"github.com/pipewright/pipewright/api/rest/controller/pipeline"
	"github.com/pipewright/pipewright/api/rest/controller/repository"
	"github.com/labstack/echo/v4"
)

func All(g *echo.Group, stream *eventctrl.Controller) {
	// repositories
	{
		g.GET("/repositories", repository.List)
		g.GET("/repositories/:id", repository.Get)
		g.POST("/repositories", repository.Post)
		g.DELETE("/repositories/:id", repository.Delete)
		g.POST("/repositories/:id/mirror", repository.Mirror)
	}

	// pipelines
	{
		g.GET("/pipelines", pipeline.List)
		g.GET("/pipelines/:id", pipeline.Get)
		g.POST("/pipelines", pipeline.Post)
		g.DELETE("/pipelines/:id", pipeline.Delete)
		g.POST("/pipelines/:id/test", pipeline.Test)
		g.POST("/pipelines/:id/trigger", pipeline.Trigger)
		g.GET("/pipelines/:id/executions", execution.ListForPipeline)
		g.GET("/pipelines/:id/executions/:execution_id", execution.GetForPipeline)
		g.GET("/pipelines/:id/logs", logs.ForPipeline)
	}

	// executions
	{
		g.GET("/executions", execution.List)
		g.GET("/executions/:id", execution.Get)
		g.GET("/executions/:id/logs", logs.ForExecution)
	}

	// events
	g.GET("/events", stream.Stream)
}
