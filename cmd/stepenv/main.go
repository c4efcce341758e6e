// Package main provides the main entrypoint for the stepenv provisioner.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"go.arcalot.io/log/v2"
	"go.flow.arcalot.io/stepenv"
	"go.flow.arcalot.io/stepenv/config"
	"go.flow.arcalot.io/stepenv/internal/resolver"
	"go.flow.arcalot.io/stepenv/internal/resolver/conda"
	"go.flow.arcalot.io/stepenv/internal/resolver/registry"
	"go.flow.arcalot.io/stepenv/internal/resolver/venv"
	"go.flow.arcalot.io/stepenv/loadfile"
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

// ExitCodeInvalidData signals that the program encountered invalid configuration or requirement data.
const ExitCodeInvalidData = 1

// ExitCodeProvisionFailed indicates that the environment could not be provisioned.
const ExitCodeProvisionFailed = 2

// ExitCodeCommandFailed indicates that the command executed inside the environment failed without reporting an exit
// code of its own.
const ExitCodeCommandFailed = 3

// RequiredFileKeyConfig is the key for the config file in the hash map of files required for execution.
const RequiredFileKeyConfig = "config"

// RequiredFileKeyRequirements is the key for the requirements file in the hash map of files required for execution.
const RequiredFileKeyRequirements = "requirements"

func main() {
	tempLogger := log.New(log.Config{
		Level:       log.LevelInfo,
		Destination: log.DestinationStdout,
		Stdout:      os.Stderr,
	})

	configFile := ""
	dir := "."
	requirementsFile := "requirements.yaml"
	printVersion := false

	flag.BoolVar(&printVersion, "version", printVersion, "Print stepenv version and exit.")
	flag.StringVar(
		&configFile,
		"config",
		configFile,
		"The stepenv configuration file to load, if any.",
	)
	flag.StringVar(
		&dir,
		"context",
		dir,
		"The directory to resolve relative file paths from. Defaults to the current directory.",
	)
	flag.StringVar(
		&requirementsFile,
		"requirements",
		requirementsFile,
		"The requirements file to provision. Defaults to requirements.yaml.",
	)
	flag.Usage = func() {
		_, _ = os.Stderr.Write([]byte(`Usage: stepenv [OPTIONS] [-- COMMAND [ARGS...]]

Provisions the package environment declared in the requirements file and,
if a command is given, runs it inside that environment. Without a command
the environment is provisioned and described on standard output.

Options:

  -version                Print the stepenv version and exit.

  -config FILENAME        The stepenv configuration file to load, if any.

  -context DIRECTORY      The directory to resolve relative file paths
                          from. Defaults to the current directory.

  -requirements FILENAME  The requirements file to provision. Defaults to
                          requirements.yaml.
`))
	}
	flag.Parse()

	if printVersion {
		fmt.Printf(
			"stepenv\n"+
				"=======\n"+
				"Version: %s\n"+
				"Commit: %s\n"+
				"Date: %s\n"+
				"Apache 2.0 license\n"+
				"Copyright (c) Arcalot Contributors",
			version, commit, date,
		)
		return
	}

	fileCtx, err := loadfile.NewFileCacheUsingContext(dir, map[string]string{
		RequiredFileKeyRequirements: requirementsFile,
	})
	if err != nil {
		flag.Usage()
		tempLogger.Errorf("Context path resolution failed %s (%v)", dir, err)
		os.Exit(ExitCodeInvalidData)
	}
	if configFile != "" {
		// The configuration file is resolved against the working directory, not the context directory.
		configCtx, err := loadfile.NewFileCacheUsingContext(".", map[string]string{
			RequiredFileKeyConfig: configFile,
		})
		if err != nil {
			flag.Usage()
			tempLogger.Errorf("Config path resolution failed %s (%v)", configFile, err)
			os.Exit(ExitCodeInvalidData)
		}
		fileCtx = loadfile.MergeFileCaches(configCtx, fileCtx)
	}
	if err := fileCtx.LoadContext(); err != nil {
		flag.Usage()
		tempLogger.Errorf("Failed to load required files into context (%v)", err)
		os.Exit(ExitCodeInvalidData)
	}

	var configData any = map[any]any{}
	if configFile != "" {
		if err := yaml.Unmarshal(fileCtx.ContentByKey(RequiredFileKeyConfig), &configData); err != nil {
			tempLogger.Errorf("Failed to load configuration file %s (%v)", configFile, err)
			flag.Usage()
			os.Exit(ExitCodeInvalidData)
		}
	}
	cfg, err := config.Load(configData)
	if err != nil {
		tempLogger.Errorf("Failed to load configuration file %s (%v)", configFile, err)
		flag.Usage()
		os.Exit(ExitCodeInvalidData)
	}

	// now we are ready to instantiate our main logger
	cfg.Log.Stdout = os.Stderr
	logger := log.New(cfg.Log).WithLabel("source", "main")

	provisioner, err := stepenv.New(cfg, registry.New(
		resolver.Any(conda.NewFactory()),
		resolver.Any(venv.NewFactory()),
	))
	if err != nil {
		logger.Errorf("Failed to initialize the provisioner with config file %s (%v)", configFile, err)
		os.Exit(ExitCodeInvalidData)
	}

	os.Exit(run(provisioner, fileCtx.ContentByKey(RequiredFileKeyRequirements), flag.Args(), logger))
}

func run(provisioner stepenv.Provisioner, requirementsData []byte, argv []string, logger log.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	ctrlC := make(chan os.Signal, 2) // One to cancel gracefully, one extra to buffer.
	signal.Notify(ctrlC, os.Interrupt)

	go handleOSInterrupt(ctrlC, cancel, logger)
	defer func() {
		close(ctrlC) // Ensure that the goroutine exits
		cancel()
	}()

	env, err := provisioner.Provision(ctx, requirementsData)
	if err != nil {
		logger.Errorf("Failed to provision the environment (%v)", err)
		return ExitCodeProvisionFailed
	}
	defer func() {
		if err := env.Release(); err != nil {
			logger.Warningf("Failed to release the environment (%v)", err)
		}
	}()

	if len(argv) == 0 {
		data, err := yaml.Marshal(map[string]any{
			"env_id": env.ID,
			"dir":    env.Dir,
			"python": env.Python,
		})
		if err != nil {
			logger.Errorf("Failed to marshal the environment description (%v)", err)
			return ExitCodeCommandFailed
		}
		_, _ = os.Stdout.Write(data)
		return ExitCodeOK
	}

	cmd, err := provisioner.Command(ctx, env, argv)
	if err != nil {
		logger.Errorf("Failed to build the command (%v)", err)
		return ExitCodeInvalidData
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return exitError.ExitCode()
		}
		logger.Errorf("Command execution failed (%v)", err)
		return ExitCodeCommandFailed
	}
	return ExitCodeOK
}

func handleOSInterrupt(ctrlC chan os.Signal, cancel context.CancelFunc, logger log.Logger) {
	_, ok := <-ctrlC
	if !ok {
		return
	}
	logger.Infof("Requesting graceful shutdown.")
	cancel()

	_, ok = <-ctrlC
	if !ok {
		return
	}
	logger.Warningf("Force exiting. A partially built environment will be rebuilt on the next run.")
	os.Exit(1)
}
