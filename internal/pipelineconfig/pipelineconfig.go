// Package pipelineconfig parses and validates
// bitbucket-pipelines.yml documents.
package pipelineconfig

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultImage is the build image Bitbucket falls back to when
// a configuration names none.
const DefaultImage = "atlassian/default-image:3"

type Config struct {
	Image     string    `yaml:"image,omitempty"`
	Pipelines Pipelines `yaml:"pipelines"`
}

type Pipelines struct {
	Default  []StepWrapper            `yaml:"default,omitempty"`
	Branches map[string][]StepWrapper `yaml:"branches,omitempty"`
}

// StepWrapper mirrors the "- step:" nesting of the YAML
// format.
type StepWrapper struct {
	Step *Step `yaml:"step,omitempty"`
}

type Step struct {
	Name   string   `yaml:"name,omitempty"`
	Image  string   `yaml:"image,omitempty"`
	Script []string `yaml:"script"`
}

// Parse unmarshals and validates a pipeline configuration.
func Parse(doc string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return nil, errors.Wrap(err, "parse pipeline config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Pipelines.Default) == 0 && len(c.Pipelines.Branches) == 0 {
		return errors.New("pipeline config defines no pipelines")
	}

	if err := validateSteps("default", c.Pipelines.Default); err != nil {
		return err
	}
	for branch, steps := range c.Pipelines.Branches {
		if err := validateSteps("branches."+branch, steps); err != nil {
			return err
		}
	}

	return nil
}

func validateSteps(section string, wrappers []StepWrapper) error {
	for i, w := range wrappers {
		if w.Step == nil {
			return errors.Errorf("%s[%d]: expected a step", section, i)
		}
		if len(w.Step.Script) == 0 {
			return errors.Errorf("%s[%d]: step %q has no script", section, i, w.Step.Name)
		}
	}
	return nil
}

// DefaultSteps returns the steps of the default pipeline with
// image fallbacks resolved.
func (c *Config) DefaultSteps() []Step {
	steps := make([]Step, 0, len(c.Pipelines.Default))
	for _, w := range c.Pipelines.Default {
		step := *w.Step
		if step.Image == "" {
			step.Image = c.Image
		}
		if step.Image == "" {
			step.Image = DefaultImage
		}
		if step.Name == "" {
			step.Name = "Step"
		}
		steps = append(steps, step)
	}
	return steps
}
