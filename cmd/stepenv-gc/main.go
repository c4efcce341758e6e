// Package main provides the cache maintenance entrypoint for stepenv.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.arcalot.io/log/v2"
	"go.flow.arcalot.io/stepenv"
	"go.flow.arcalot.io/stepenv/config"
	"go.flow.arcalot.io/stepenv/internal/resolver"
	"go.flow.arcalot.io/stepenv/internal/resolver/conda"
	"go.flow.arcalot.io/stepenv/internal/resolver/registry"
	"go.flow.arcalot.io/stepenv/internal/resolver/venv"
	"go.flow.arcalot.io/stepenv/internal/tableprinter"
	"gopkg.in/yaml.v3"
)

// These variables are filled using ldflags during the build process with Goreleaser.
// See https://goreleaser.com/cookbooks/using-main.version/
var (
	version = "development"
	commit  = "unknown"
	date    = "unknown"
)

// ExitCodeOK signals that the program terminated normally.
const ExitCodeOK = 0

// ExitCodeInvalidData signals that the program encountered invalid configuration data.
const ExitCodeInvalidData = 1

// ExitCodeGCFailed indicates that listing or pruning the cache failed.
const ExitCodeGCFailed = 2

func main() {
	tempLogger := log.New(log.Config{
		Level:       log.LevelInfo,
		Destination: log.DestinationStdout,
		Stdout:      os.Stderr,
	})

	configFile := ""
	prune := false
	printVersion := false

	flag.BoolVar(&printVersion, "version", printVersion, "Print stepenv version and exit.")
	flag.BoolVar(&prune, "prune", prune, "Remove all environments that are not referenced by any run.")
	flag.StringVar(
		&configFile,
		"config",
		configFile,
		"The stepenv configuration file to load, if any.",
	)
	flag.Usage = func() {
		_, _ = os.Stderr.Write([]byte(`Usage: stepenv-gc [OPTIONS]

Lists the cached package environments, or removes the unused ones.

Options:

  -version          Print the stepenv version and exit.

  -config FILENAME  The stepenv configuration file to load, if any.

  -prune            Remove all environments that are not referenced by
                    any run. Without this flag the cache is only listed.
`))
	}
	flag.Parse()

	if printVersion {
		fmt.Printf(
			"stepenv-gc\n"+
				"==========\n"+
				"Version: %s\n"+
				"Commit: %s\n"+
				"Date: %s\n"+
				"Apache 2.0 license\n"+
				"Copyright (c) Arcalot Contributors",
			version, commit, date,
		)
		return
	}

	var configData any = map[any]any{}
	if configFile != "" {
		fileContents, err := os.ReadFile(configFile) //nolint:gosec
		if err != nil {
			tempLogger.Errorf("Failed to read configuration file %s (%v)", configFile, err)
			os.Exit(ExitCodeInvalidData)
		}
		if err := yaml.Unmarshal(fileContents, &configData); err != nil {
			tempLogger.Errorf("Failed to load configuration file %s (%v)", configFile, err)
			os.Exit(ExitCodeInvalidData)
		}
	}
	cfg, err := config.Load(configData)
	if err != nil {
		tempLogger.Errorf("Failed to load configuration file %s (%v)", configFile, err)
		os.Exit(ExitCodeInvalidData)
	}
	cfg.Log.Stdout = os.Stderr
	logger := log.New(cfg.Log).WithLabel("source", "gc")

	provisioner, err := stepenv.New(cfg, registry.New(
		resolver.Any(conda.NewFactory()),
		resolver.Any(venv.NewFactory()),
	))
	if err != nil {
		logger.Errorf("Failed to initialize the provisioner with config file %s (%v)", configFile, err)
		os.Exit(ExitCodeInvalidData)
	}

	if prune {
		os.Exit(runPrune(provisioner, logger))
	}
	os.Exit(runList(provisioner, logger))
}

func runList(provisioner stepenv.Provisioner, logger log.Logger) int {
	environments, err := provisioner.List()
	if err != nil {
		logger.Errorf("Failed to list the environment cache (%v)", err)
		return ExitCodeGCFailed
	}
	rows := make([][]string, len(environments))
	for i, env := range environments {
		rows[i] = []string{
			env.ID,
			strconv.Itoa(env.Refs),
			env.CreatedAt.Format(time.RFC3339),
			env.Dir,
		}
	}
	tableprinter.PrintTable(os.Stdout, []string{"environment", "refs", "created", "dir"}, rows)
	return ExitCodeOK
}

func runPrune(provisioner stepenv.Provisioner, logger log.Logger) int {
	removed, err := provisioner.Prune(context.Background())
	if err != nil {
		logger.Errorf("Failed to prune the environment cache (%v)", err)
		return ExitCodeGCFailed
	}
	for _, id := range removed {
		fmt.Println(id)
	}
	logger.Infof("Removed %d environment(s).", len(removed))
	return ExitCodeOK
}
