package pipelineconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
image: golang:1.25
pipelines:
  default:
    - step:
        name: Build
        script:
          - go build ./...
    - step:
        name: Test
        image: golang:1.25-alpine
        script:
          - go test ./...
`

func TestParse(t *testing.T) {
	cfg, err := Parse(sample)
	require.NoError(t, err)

	steps := cfg.DefaultSteps()
	require.Len(t, steps, 2)
	assert.Equal(t, "Build", steps[0].Name)
	assert.Equal(t, "golang:1.25", steps[0].Image)
	assert.Equal(t, "golang:1.25-alpine", steps[1].Image)
}

func TestParseFallbackImage(t *testing.T) {
	cfg, err := Parse("pipelines:\n  default:\n    - step:\n        script:\n          - echo hi\n")
	require.NoError(t, err)

	steps := cfg.DefaultSteps()
	require.Len(t, steps, 1)
	assert.Equal(t, DefaultImage, steps[0].Image)
	assert.Equal(t, "Step", steps[0].Name)
}

func TestParseRejectsInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"not yaml":     "pipelines: [}",
		"no pipelines": "image: golang:1.25\n",
		"no script":    "pipelines:\n  default:\n    - step:\n        name: Build\n",
		"not a step":   "pipelines:\n  default:\n    - {}\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(doc)
			assert.Error(t, err)
		})
	}
}
