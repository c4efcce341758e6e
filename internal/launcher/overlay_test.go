package launcher_test

import (
	"os"
	"path/filepath"
	"testing"

	"go.arcalot.io/assert"
	"go.flow.arcalot.io/stepenv/internal/launcher"
)

func TestOverlayLinksRuntime(t *testing.T) {
	t.Parallel()

	runtimeParent := t.TempDir()
	runtimeRoot := filepath.Join(runtimeParent, "hostruntime")
	assert.NoError(t, os.MkdirAll(runtimeRoot, 0o750))
	assert.NoError(t, os.WriteFile(filepath.Join(runtimeParent, "INFO"), []byte(`{"version":"1.0"}`), 0o640))

	overlay, err := launcher.NewOverlay(t.TempDir(), runtimeRoot, nil, nil)
	assert.NoError(t, err)

	linkTarget, err := os.Readlink(filepath.Join(overlay.Dir, "hostruntime"))
	assert.NoError(t, err)
	assert.Equals(t, linkTarget, runtimeRoot)

	infoTarget, err := os.Readlink(filepath.Join(overlay.Dir, "INFO"))
	assert.NoError(t, err)
	assert.Equals(t, infoTarget, filepath.Join(runtimeParent, "INFO"))

	assert.Equals(t, overlay.ModulePaths(), []string{overlay.Dir})
	assert.NoError(t, overlay.Remove())

	// Removing the overlay must not remove the runtime.
	_, err = os.Stat(runtimeRoot)
	assert.NoError(t, err)
}

func TestOverlaySynthesizesInfoFile(t *testing.T) {
	t.Parallel()

	runtimeRoot := filepath.Join(t.TempDir(), "hostruntime")
	assert.NoError(t, os.MkdirAll(runtimeRoot, 0o750))

	overlay, err := launcher.NewOverlay(t.TempDir(), runtimeRoot, []byte(`{"version":"dev"}`), nil)
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, overlay.Remove())
	}()

	content, err := os.ReadFile(filepath.Join(overlay.Dir, "INFO"))
	assert.NoError(t, err)
	assert.Equals(t, string(content), `{"version":"dev"}`)
}

func TestOverlayExtraModulePaths(t *testing.T) {
	t.Parallel()

	moduleA := filepath.Join(t.TempDir(), "modulea")
	moduleB := filepath.Join(t.TempDir(), "moduleb")
	assert.NoError(t, os.MkdirAll(moduleA, 0o750))
	assert.NoError(t, os.MkdirAll(moduleB, 0o750))

	overlay, err := launcher.NewOverlay(t.TempDir(), "", nil, []string{moduleA, moduleB})
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, overlay.Remove())
	}()

	paths := overlay.ModulePaths()
	assert.Equals(t, len(paths), 3)
	assert.Equals(t, paths[len(paths)-1], overlay.Dir)

	// Each extra module is linked through a directory of its own, under its base name.
	target, err := os.Readlink(filepath.Join(paths[0], "modulea"))
	assert.NoError(t, err)
	assert.Equals(t, target, moduleA)
	target, err = os.Readlink(filepath.Join(paths[1], "moduleb"))
	assert.NoError(t, err)
	assert.Equals(t, target, moduleB)
}
