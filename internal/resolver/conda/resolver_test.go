package conda

import (
	"encoding/json"
	"testing"
	"time"

	"go.arcalot.io/assert"
	"go.flow.arcalot.io/stepenv/internal/requirements"
	"go.flow.arcalot.io/stepenv/internal/resolver"
)

func testResolver() condaResolver {
	return condaResolver{
		config: &Config{
			Executable: "micromamba",
			Channels:   []string{"conda-forge"},
			Timeouts: Timeouts{
				Resolve: 5 * time.Minute,
				Install: 15 * time.Minute,
			},
		},
	}
}

func TestResolveArgs(t *testing.T) {
	t.Parallel()

	args := testResolver().resolveArgs(requirements.Set{
		Python: "3.11",
		Packages: map[string]string{
			"pandas": "",
			"numpy":  ">=1.26",
		},
		Channels: []string{"bioconda"},
	}, "/tmp/solve")

	assert.Equals(t, args, []string{
		"create", "--yes", "--dry-run", "--json", "--prefix", "/tmp/solve",
		"--channel", "bioconda",
		"--channel", "conda-forge",
		"python=3.11",
		"numpy>=1.26",
		"pandas",
	})
}

func TestInstallArgs(t *testing.T) {
	t.Parallel()

	args := testResolver().installArgs(&resolver.ResolvedEnvironment{
		Packages: []resolver.LockedPackage{
			{Name: "python", Version: "3.11.8", Source: "conda-forge"},
			{Name: "numpy", Version: "1.26.4", Source: "conda-forge"},
			{Name: "requests", Version: ">=2.31", Source: "pypi"},
		},
	}, "/tmp/env")

	// Pip packages are installed in a second pass, never through the conda tool.
	assert.Equals(t, args, []string{
		"create", "--yes", "--json", "--prefix", "/tmp/env",
		"--channel", "conda-forge",
		"python=3.11.8",
		"numpy=1.26.4",
	})
}

func TestPipInstallSpecs(t *testing.T) {
	t.Parallel()

	specs := pipInstallSpecs(&resolver.ResolvedEnvironment{
		Packages: []resolver.LockedPackage{
			{Name: "python", Version: "3.11.8", Source: "conda-forge"},
			{Name: "requests", Version: "2.31.0", Source: "pypi"},
			{Name: "boto3", Version: ">=1.34", Source: "pypi"},
			{Name: "click", Version: "", Source: "pypi"},
		},
	})

	assert.Equals(t, specs, []string{"requests==2.31.0", "boto3>=1.34", "click"})
}

func TestPipInstallArgsCarryExtraIndexes(t *testing.T) {
	t.Parallel()

	args := pipInstallArgs(&resolver.ResolvedEnvironment{
		Packages: []resolver.LockedPackage{
			{Name: "python", Version: "3.11.8", Source: "conda-forge"},
			{Name: "internal-tool", Version: "1.2.0", Source: "pypi"},
		},
		ExtraIndexes: []string{"https://mirror.example.com/simple"},
	})

	assert.Equals(t, args, []string{
		"-m", "pip", "install", "--no-input",
		"--extra-index-url", "https://mirror.example.com/simple",
		"internal-tool==1.2.0",
	})

	// No pip packages, no pip pass.
	assert.Equals(t, len(pipInstallArgs(&resolver.ResolvedEnvironment{
		Packages: []resolver.LockedPackage{
			{Name: "python", Version: "3.11.8", Source: "conda-forge"},
		},
	})), 0)
}

func TestSolveOutputParsing(t *testing.T) {
	t.Parallel()

	output := []byte(`{
		"success": true,
		"actions": {
			"LINK": [
				{"name": "python", "version": "3.11.8", "channel": "conda-forge", "build_number": 0},
				{"name": "numpy", "version": "1.26.4", "channel": "conda-forge"}
			]
		}
	}`)
	var solve solveResult
	assert.NoError(t, json.Unmarshal(output, &solve))
	assert.Equals(t, solve.Success, true)
	assert.Equals(t, len(solve.Actions.Link), 2)
	assert.Equals(t, solve.Actions.Link[0].Name, "python")
	assert.Equals(t, solve.Actions.Link[1].Version, "1.26.4")
}
