package main

import (
	"github.com/pipewright/pipewright/cmd"
	"github.com/pipewright/pipewright/pkg/env"
	"github.com/pipewright/pipewright/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("pipewright failure", "error", err)
	}
}
