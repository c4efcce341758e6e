package conda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/stepenv/internal/requirements"
	"go.flow.arcalot.io/stepenv/internal/resolver"
)

const pipSource = "pypi"

type condaResolver struct {
	config *Config
	logger log.Logger
}

func (c condaResolver) Resolve(ctx context.Context, reqs requirements.Set) (*resolver.ResolvedEnvironment, error) {
	solveDir, err := os.MkdirTemp("", "stepenv-solve-")
	if err != nil {
		return nil, fmt.Errorf("failed to create solve directory (%w)", err)
	}
	defer func() {
		_ = os.RemoveAll(solveDir)
	}()

	output, err := c.run(ctx, c.config.Timeouts.Resolve, c.resolveArgs(reqs, solveDir)...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve requirement set %s (%w)", reqs.RequirementsID(), err)
	}

	var solve solveResult
	if err := json.Unmarshal(output, &solve); err != nil {
		return nil, fmt.Errorf("failed to parse %s solve output (%w)", c.config.Executable, err)
	}
	if !solve.Success {
		return nil, fmt.Errorf("%s could not solve requirement set %s", c.config.Executable, reqs.RequirementsID())
	}

	packages := make([]resolver.LockedPackage, 0, len(solve.Actions.Link)+len(reqs.PipPackages))
	pythonVersion := ""
	for _, link := range solve.Actions.Link {
		packages = append(packages, resolver.LockedPackage{
			Name:    link.Name,
			Version: link.Version,
			Source:  link.Channel,
		})
		if link.Name == "python" {
			pythonVersion = link.Version
		}
	}
	// Pip packages ride along with their declared constraints. Exact pinning is the installing pip's business,
	// the constraint is part of the environment identity either way.
	for _, name := range sortedKeys(reqs.PipPackages) {
		packages = append(packages, resolver.LockedPackage{
			Name:    name,
			Version: reqs.PipPackages[name],
			Source:  pipSource,
		})
	}

	specs := make([]string, len(packages))
	for i, pkg := range packages {
		specs[i] = pkg.Spec()
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

func (c condaResolver) Install(ctx context.Context, env *resolver.ResolvedEnvironment, targetDir string) error {
	c.logger.Debugf("Installing environment %s into %s...", env.ID.FullID, targetDir)
	if _, err := c.run(ctx, c.config.Timeouts.Install, c.installArgs(env, targetDir)...); err != nil {
		return fmt.Errorf("failed to install environment %s (%w)", env.ID.FullID, err)
	}

	pipArgs := pipInstallArgs(env)
	if len(pipArgs) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, targetDir+"/bin/python", pipArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	c.logger.Debugf("Running %s...", cmd.String())
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to pip-install into environment %s (%w; stderr: %s)", env.ID.FullID, err, stderr.String())
	}
	return nil
}

// resolveArgs builds the dry-run solve command line for the requirement set.
func (c condaResolver) resolveArgs(reqs requirements.Set, solveDir string) []string {
	args := []string{"create", "--yes", "--dry-run", "--json", "--prefix", solveDir}
	for _, channel := range append(append([]string{}, reqs.Channels...), c.config.Channels...) {
		args = append(args, "--channel", channel)
	}
	args = append(args, "python"+constraintSuffix(reqs.Python))
	for _, name := range sortedKeys(reqs.Packages) {
		args = append(args, name+constraintSuffix(reqs.Packages[name]))
	}
	return args
}

// installArgs builds the environment creation command line from a resolved package list.
func (c condaResolver) installArgs(env *resolver.ResolvedEnvironment, targetDir string) []string {
	args := []string{"create", "--yes", "--json", "--prefix", targetDir}
	channels := map[string]struct{}{}
	for _, pkg := range env.Packages {
		if pkg.Source == pipSource {
			continue
		}
		if _, ok := channels[pkg.Source]; !ok && pkg.Source != "" {
			channels[pkg.Source] = struct{}{}
		}
	}
	for _, channel := range sortedKeys(channels) {
		args = append(args, "--channel", channel)
	}
	for _, pkg := range env.Packages {
		if pkg.Source == pipSource {
			continue
		}
		args = append(args, pkg.Name+"="+pkg.Version)
	}
	return args
}

func (c condaResolver) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.config.Executable, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	c.logger.Debugf("Running %s...", cmd.String())
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed (%w; stderr: %s)", c.config.Executable, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// pipInstallArgs builds the pip invocation of the second install pass. Empty means there is nothing for pip to do.
// The extra indexes the packages were resolved against are passed again; a package may only exist on one of them.
func pipInstallArgs(env *resolver.ResolvedEnvironment) []string {
	specs := pipInstallSpecs(env)
	if len(specs) == 0 {
		return nil
	}
	args := append([]string{"-m", "pip", "install", "--no-input"}, indexArgs(env.ExtraIndexes)...)
	return append(args, specs...)
}

func pipInstallSpecs(env *resolver.ResolvedEnvironment) []string {
	var specs []string
	for _, pkg := range env.Packages {
		if pkg.Source != pipSource {
			continue
		}
		specs = append(specs, pkg.Name+pipConstraintSuffix(pkg.Version))
	}
	return specs
}

func indexArgs(extraIndexes []string) []string {
	var args []string
	for _, index := range extraIndexes {
		args = append(args, "--extra-index-url", index)
	}
	return args
}

func constraintSuffix(constraint string) string {
	switch {
	case constraint == "":
		return ""
	case constraint[0] >= '0' && constraint[0] <= '9':
		return "=" + constraint
	default:
		return constraint
	}
}

func pipConstraintSuffix(constraint string) string {
	switch {
	case constraint == "":
		return ""
	case constraint[0] >= '0' && constraint[0] <= '9':
		return "==" + constraint
	default:
		return constraint
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// solveResult is the subset of the conda tool's JSON dry-run output this backend reads.
type solveResult struct {
	Success bool `json:"success"`
	Actions struct {
		Link []struct {
			Name    string `json:"name"`
			Version string `json:"version"`
			Channel string `json:"channel"`
		} `json:"LINK"`
	} `json:"actions"`
}
