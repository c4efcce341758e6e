package venv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/stepenv/internal/requirements"
	"go.flow.arcalot.io/stepenv/internal/resolver"
)

type venvResolver struct {
	config *Config
	logger log.Logger
}

func (v venvResolver) Resolve(ctx context.Context, reqs requirements.Set) (*resolver.ResolvedEnvironment, error) {
	if len(reqs.Packages) > 0 || len(reqs.Channels) > 0 {
		return nil, fmt.Errorf(
			"the venv resolver only serves pip packages, requirement set %s declares channel packages",
			reqs.RequirementsID(),
		)
	}

	pythonVersion, err := v.interpreterVersion(ctx)
	if err != nil {
		return nil, err
	}
	if reqs.Python != "" && !strings.HasPrefix(pythonVersion, reqs.Python) {
		return nil, fmt.Errorf(
			"the venv resolver interpreter is %s, requirement set %s requests %s",
			pythonVersion, reqs.RequirementsID(), reqs.Python,
		)
	}

	args := append([]string{"-m", "pip", "install", "--quiet", "--dry-run", "--no-input", "--report", "-"},
		indexArgs(reqs.ExtraIndexes)...)
	args = append(args, pipSpecs(reqs.PipPackages)...)
	output, err := v.run(ctx, v.config.Timeouts.Resolve, v.config.Python, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve requirement set %s (%w)", reqs.RequirementsID(), err)
	}

	var report installReport
	if err := json.Unmarshal(output, &report); err != nil {
		return nil, fmt.Errorf("failed to parse pip resolution report (%w)", err)
	}

	packages := make([]resolver.LockedPackage, len(report.Install))
	specs := make([]string, len(report.Install))
	for i, item := range report.Install {
		packages[i] = resolver.LockedPackage{
			Name:    item.Metadata.Name,
			Version: item.Metadata.Version,
			Source:  "pypi",
		}
		specs[i] = packages[i].Spec()
	}

	return &resolver.ResolvedEnvironment{
		ID: requirements.EnvID{
			RequirementsID: reqs.RequirementsID(),
			FullID:         requirements.FullIDFor(specs),
			Arch:           requirements.CurrentArch(),
		},
		PythonVersion: pythonVersion,
		Packages:      packages,
		ExtraIndexes:  reqs.ExtraIndexes,
	}, nil
}

func (v venvResolver) Install(ctx context.Context, env *resolver.ResolvedEnvironment, targetDir string) error {
	v.logger.Debugf("Creating virtual environment %s in %s...", env.ID.FullID, targetDir)
	if _, err := v.run(ctx, v.config.Timeouts.Install, v.config.Python, "-m", "venv", targetDir); err != nil {
		return fmt.Errorf("failed to create virtual environment %s (%w)", env.ID.FullID, err)
	}

	if len(env.Packages) == 0 {
		return nil
	}
	envPython := filepath.Join(targetDir, "bin", "python")
	if _, err := v.run(ctx, v.config.Timeouts.Install, envPython, pipInstallArgs(env)...); err != nil {
		return fmt.Errorf("failed to install packages into environment %s (%w)", env.ID.FullID, err)
	}
	return nil
}

func (v venvResolver) interpreterVersion(ctx context.Context) (string, error) {
	output, err := v.run(ctx, v.config.Timeouts.Resolve, v.config.Python, "-c",
		"import platform; print(platform.python_version())")
	if err != nil {
		return "", fmt.Errorf("failed to determine interpreter version of %s (%w)", v.config.Python, err)
	}
	return strings.TrimSpace(string(output)), nil
}

func (v venvResolver) run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	v.logger.Debugf("Running %s...", cmd.String())
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed (%w; stderr: %s)", name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// pipSpecs renders package constraints as pip requirement specifiers. Bare versions pin exactly, everything else is
// passed through as a constraint expression.
func pipSpecs(packages map[string]string) []string {
	names := make([]string, 0, len(packages))
	for name := range packages {
		names = append(names, name)
	}
	sort.Strings(names)
	specs := make([]string, len(names))
	for i, name := range names {
		constraint := packages[name]
		switch {
		case constraint == "":
			specs[i] = name
		case constraint[0] >= '0' && constraint[0] <= '9':
			specs[i] = name + "==" + constraint
		default:
			specs[i] = name + constraint
		}
	}
	return specs
}

// pipInstallArgs builds the pip invocation installing the locked package list. The extra indexes the packages were
// resolved against are passed again; a package may only exist on one of them.
func pipInstallArgs(env *resolver.ResolvedEnvironment) []string {
	args := append([]string{"-m", "pip", "install", "--no-input", "--no-deps"}, indexArgs(env.ExtraIndexes)...)
	for _, pkg := range env.Packages {
		args = append(args, pkg.Name+"=="+pkg.Version)
	}
	return args
}

func indexArgs(extraIndexes []string) []string {
	var args []string
	for _, index := range extraIndexes {
		args = append(args, "--extra-index-url", index)
	}
	return args
}

// installReport is the subset of pip's JSON installation report this backend reads.
type installReport struct {
	Install []struct {
		Metadata struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"metadata"`
	} `json:"install"`
}
