package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/pipewright/pipewright/api/rest/bind"
	eventctrl "github.com/pipewright/pipewright/api/rest/controller/event"
	pipectrl "github.com/pipewright/pipewright/api/rest/controller/pipeline"
	esvc "github.com/pipewright/pipewright/api/rest/service/execution"
	reposvc "github.com/pipewright/pipewright/api/rest/service/repository"
	"github.com/pipewright/pipewright/internal/event"
	"github.com/pipewright/pipewright/internal/execution"
	"github.com/pipewright/pipewright/internal/mirror"
	"github.com/pipewright/pipewright/internal/notify"
	"github.com/pipewright/pipewright/internal/provider/bitbucket"
	"github.com/pipewright/pipewright/internal/relay"
	"github.com/pipewright/pipewright/internal/runner"
	"github.com/pipewright/pipewright/pkg/db"
	"github.com/pipewright/pipewright/pkg/env"
	"github.com/pipewright/pipewright/pkg/log"
)

var server *echo.Echo

// Start wires the provider client, event bus, and relay into
// the services and launches the API.
func Start(ctx context.Context) error {
	vars := env.Variables()

	client := bitbucket.New(vars.BitbucketBaseURL, vars.BitbucketToken, nil)
	bus := event.New()
	store := execution.NewStore(db.Connection())
	notifier := notify.New(&http.Client{Timeout: vars.NotifyTimeout})

	r := relay.New(client, store, bus,
		relay.WithInterval(vars.RelayPollInterval),
		relay.WithMaxIterations(int(vars.RelayTimeout/vars.RelayPollInterval)),
		relay.WithNotifier(notifier),
	)

	executionSvc := esvc.Service(ctx)
	executionSvc.SetProvider(client)
	executionSvc.SetRelay(r)

	reposvc.Service(ctx).SetMirror(mirror.New(vars.BitbucketToken))

	if testRunner, err := runner.New(vars.DockerWorkspace); err != nil {
		log.Warn("docker unavailable, local pipeline tests disabled", "error", err)
	} else {
		pipectrl.SetRunner(testRunner)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	server = e

	// health
	e.GET("/health", Health)

	// metrics
	prometheus.NewPrometheus("pipewright", nil).Use(e)

	// REST
	bind.All(e.Group("/v1"), eventctrl.New(bus, r))

	log.Info("api listening", "port", vars.Port)

	return e.Start(fmt.Sprintf(":%v", vars.Port))
}

// Shutdown stops the API server gracefully.
func Shutdown() error {
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return server.Shutdown(ctx)
}
