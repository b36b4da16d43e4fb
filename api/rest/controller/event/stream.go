package event

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	esvc "github.com/pipewright/pipewright/api/rest/service/execution"
	pipesvc "github.com/pipewright/pipewright/api/rest/service/pipeline"
	"github.com/pipewright/pipewright/internal/event"
	"github.com/pipewright/pipewright/internal/provider"
	"github.com/pipewright/pipewright/internal/relay"
	"github.com/pipewright/pipewright/pkg/log"
	"github.com/pkg/errors"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type Controller struct {
	bus   event.Bus
	relay *relay.Relay
}

func New(bus event.Bus, r *relay.Relay) *Controller {
	return &Controller{bus: bus, relay: r}
}

// Stream serves relay messages over SSE. Subscribing to a
// specific execution starts (or joins) its polling loop; the
// loop is released when the client disconnects.
func (ctrl *Controller) Stream(c echo.Context) error {
	ctx := c.Request().Context()

	filter := event.Filter{}

	if pipelineID := c.QueryParam("pipeline_id"); pipelineID != "" {
		id, err := strconv.ParseInt(pipelineID, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid pipeline_id")
		}
		filter.PipelineID = id
	}

	if executionID := c.QueryParam("execution_id"); executionID != "" {
		id, err := strconv.ParseInt(executionID, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid execution_id")
		}
		filter.ExecutionID = id
	}

	if types := c.QueryParam("types"); types != "" {
		for _, s := range strings.Split(types, ",") {
			filter.Types = append(filter.Types, event.Type(strings.TrimSpace(s)))
		}
	}

	ch, err := ctrl.bus.Subscribe(ctx, filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if filter.ExecutionID != 0 && ctrl.relay != nil {
		spec, err := ctrl.buildSpec(c, filter.ExecutionID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return echo.ErrNotFound
		case err != nil:
			return echo.ErrInternalServerError.SetInternal(err)
		case spec != nil:
			ctrl.relay.Acquire(*spec)
			defer ctrl.relay.Release(filter.ExecutionID)
		}
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no") // disable buffering in Nginx

	if err := writeFrame(c, event.TypeSubscribed, relay.Subscription{
		PipelineID:  filter.PipelineID,
		ExecutionID: filter.ExecutionID,
	}); err != nil {
		return nil
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprintf(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case e, ok := <-ch:
			if !ok {
				writeFrame(c, event.TypeUnsubscribed, relay.Subscription{
					PipelineID:  filter.PipelineID,
					ExecutionID: filter.ExecutionID,
				})
				return nil
			}

			data, err := json.Marshal(e)
			if err != nil {
				log.Error("marshal event for stream", "type", e.Type, "error", err)
				continue
			}

			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

// buildSpec resolves the relay spec for an execution, or nil
// when the execution is already terminal and needs no loop.
func (ctrl *Controller) buildSpec(c echo.Context, executionID int64) (*relay.Spec, error) {
	ctx := c.Request().Context()

	exec, err := esvc.Service(ctx).Get(executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() || exec.ProviderRunID == "" {
		return nil, nil
	}

	pipeline, err := pipesvc.Service(ctx).Get(exec.PipelineID)
	if err != nil {
		return nil, err
	}
	if pipeline.Repository == nil {
		return nil, errors.Errorf("pipeline %d has no repository", pipeline.ID)
	}

	return &relay.Spec{
		PipelineID:  pipeline.ID,
		ExecutionID: exec.ID,
		Repo: provider.Repo{
			Workspace: pipeline.Repository.BitbucketWorkspace,
			Slug:      pipeline.Repository.Slug(),
		},
		RunUUID:   exec.ProviderRunID,
		StartedAt: exec.StartedAt,
		NotifyURL: pipeline.NotifyURL,
	}, nil
}

func writeFrame(c echo.Context, t event.Type, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", t, data); err != nil {
		return err
	}
	c.Response().Flush()

	return nil
}
