package requirements_test

import (
	"testing"

	"go.arcalot.io/assert"
	"go.flow.arcalot.io/stepenv/internal/requirements"
)

func TestMerge(t *testing.T) {
	t.Parallel()

	base := requirements.Set{
		Python: "3.10",
		Packages: map[string]string{
			"numpy":  ">=1.24",
			"pandas": "2.0.3",
		},
		Channels: []string{"conda-forge"},
	}
	override := requirements.Set{
		Python: "3.11",
		Packages: map[string]string{
			"pandas": "2.1.0",
			"scipy":  "",
		},
		Channels: []string{"bioconda", "conda-forge"},
	}

	merged := requirements.Merge(base, override)
	assert.Equals(t, merged.Python, "3.11")
	assert.Equals(t, merged.Packages["numpy"], ">=1.24")
	assert.Equals(t, merged.Packages["pandas"], "2.1.0")
	assert.Equals(t, merged.Packages["scipy"], "")
	assert.Equals(t, merged.Channels, []string{"conda-forge", "bioconda"})
}

func TestMergeKeepsBasePython(t *testing.T) {
	t.Parallel()

	merged := requirements.Merge(
		requirements.Set{Python: "3.10"},
		requirements.Set{Packages: map[string]string{"requests": ""}},
	)
	assert.Equals(t, merged.Python, "3.10")
}

func TestRequirementsIDStable(t *testing.T) {
	t.Parallel()

	a := requirements.Set{
		Packages: map[string]string{"numpy": ">=1.24", "pandas": "2.0.3"},
		Channels: []string{"conda-forge"},
	}
	b := requirements.Set{
		Packages: map[string]string{"pandas": "2.0.3", "numpy": ">=1.24"},
		Channels: []string{"conda-forge"},
	}
	assert.Equals(t, a.RequirementsID(), b.RequirementsID())

	c := requirements.Set{
		Packages: map[string]string{"pandas": "2.0.3", "numpy": ">=1.25"},
		Channels: []string{"conda-forge"},
	}
	if a.RequirementsID() == c.RequirementsID() {
		t.Fatalf("different requirement sets produced the same ID")
	}
}

func TestEnvIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := requirements.Set{Packages: map[string]string{"numpy": ""}}.EnvID()
	assert.Equals(t, id.FullID, requirements.FullIDDefault)
	assert.Equals(t, id.Resolved(), false)

	parsed, err := requirements.ParseEnvID(id.String())
	assert.NoError(t, err)
	assert.Equals(t, parsed, id)
}

func TestParseEnvIDInvalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "a/b", "a//linux-amd64"} {
		if _, err := requirements.ParseEnvID(input); err == nil {
			t.Fatalf("no error returned for invalid environment ID %q", input)
		}
	}
}

func TestFullIDForOrderIndependent(t *testing.T) {
	t.Parallel()

	a := requirements.FullIDFor([]string{"numpy=1.24.0=conda-forge", "pandas=2.0.3=conda-forge"})
	b := requirements.FullIDFor([]string{"pandas=2.0.3=conda-forge", "numpy=1.24.0=conda-forge"})
	assert.Equals(t, a, b)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	set, err := requirements.Load([]byte(`
python: "3.11"
packages:
  numpy: ">=1.24"
channels:
  - conda-forge
`))
	assert.NoError(t, err)
	assert.Equals(t, set.Python, "3.11")
	assert.Equals(t, set.Packages["numpy"], ">=1.24")
	assert.Equals(t, set.Channels, []string{"conda-forge"})
	assert.Equals(t, set.Disabled, false)
}

func TestLoadEmpty(t *testing.T) {
	t.Parallel()

	set, err := requirements.Load(nil)
	assert.NoError(t, err)
	assert.Equals(t, set.Empty(), true)
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()

	if _, err := requirements.Load([]byte("packages:\n  \"not a valid name!\": 1.0\n")); err == nil {
		t.Fatalf("no error returned for invalid package name")
	}
}
