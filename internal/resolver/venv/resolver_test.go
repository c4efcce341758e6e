package venv

import (
	"context"
	"encoding/json"
	"testing"

	"go.arcalot.io/assert"
	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/stepenv/internal/requirements"
	"go.flow.arcalot.io/stepenv/internal/resolver"
)

func TestPipSpecs(t *testing.T) {
	t.Parallel()

	specs := pipSpecs(map[string]string{
		"requests": "2.31.0",
		"boto3":    ">=1.34",
		"click":    "",
	})

	assert.Equals(t, specs, []string{"boto3>=1.34", "click", "requests==2.31.0"})
}

func TestIndexArgs(t *testing.T) {
	t.Parallel()

	assert.Equals(t, len(indexArgs(nil)), 0)
	assert.Equals(
		t,
		indexArgs([]string{"https://mirror.example.com/simple"}),
		[]string{"--extra-index-url", "https://mirror.example.com/simple"},
	)
}

func TestPipInstallArgsCarryExtraIndexes(t *testing.T) {
	t.Parallel()

	args := pipInstallArgs(&resolver.ResolvedEnvironment{
		Packages: []resolver.LockedPackage{
			{Name: "internal-tool", Version: "1.2.0", Source: "pypi"},
		},
		ExtraIndexes: []string{"https://mirror.example.com/simple"},
	})

	assert.Equals(t, args, []string{
		"-m", "pip", "install", "--no-input", "--no-deps",
		"--extra-index-url", "https://mirror.example.com/simple",
		"internal-tool==1.2.0",
	})
}

func TestResolveRejectsChannelPackages(t *testing.T) {
	t.Parallel()

	r := venvResolver{
		config: &Config{Python: "python3"},
		logger: log.NewTestLogger(t),
	}
	_, err := r.Resolve(context.Background(), requirements.Set{
		Packages: map[string]string{"numpy": ""},
	})
	assert.Error(t, err)

	_, err = r.Resolve(context.Background(), requirements.Set{
		Channels: []string{"conda-forge"},
	})
	assert.Error(t, err)
}

func TestInstallReportParsing(t *testing.T) {
	t.Parallel()

	output := []byte(`{
		"version": "1",
		"install": [
			{"metadata": {"name": "requests", "version": "2.31.0"}},
			{"metadata": {"name": "urllib3", "version": "2.2.1"}}
		]
	}`)
	var report installReport
	assert.NoError(t, json.Unmarshal(output, &report))
	assert.Equals(t, len(report.Install), 2)
	assert.Equals(t, report.Install[0].Metadata.Name, "requests")
	assert.Equals(t, report.Install[1].Metadata.Version, "2.2.1")
}
