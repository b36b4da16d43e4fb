package env

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pipewright/pipewright/pkg/log"
	"github.com/pkg/errors"
)

var variables = new(Environment)

// Process the environment variables set for pipewright.
func Process() error {
	if err := envconfig.Process("pipewright", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevelFromString(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by pipewright.
type Environment struct {
	LogLevel          string        `default:"info"`
	Port              int           `default:"8080"`
	DatabaseType      string        `default:"sqlite"`
	DatabaseDSN       string        `default:"file:pipewright.db"`
	BitbucketBaseURL  string        `default:"https://api.bitbucket.org/2.0"`
	BitbucketToken    string        `default:""`
	RelayPollInterval time.Duration `default:"5s"`
	RelayTimeout      time.Duration `default:"10m"`
	NotifyTimeout     time.Duration `default:"10s"`
	DockerWorkspace   string        `default:""`
}
