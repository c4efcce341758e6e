package launcher

import (
	"fmt"
	"os"
	"path/filepath"
)

const runtimeInfoFileName = "INFO"

// Overlay is a temporary directory exposing the host runtime to a task process running inside a provisioned
// environment. The runtime source tree and its INFO metadata file are symlinked in so the child sees the same
// framework version as the parent, without installing the framework into every environment.
type Overlay struct {
	// Dir is the overlay directory. It goes onto the child's module search path.
	Dir string

	additionalPaths []string
}

// NewOverlay creates an overlay in workDir. runtimeRoot is the directory of the host runtime package; if an INFO
// file sits next to it, the file is symlinked, otherwise runtimeInfo is written in its place so the child can still
// discover the runtime description. Each entry of extraModulePaths is exposed through a nested directory of its own,
// because linking their parents could leak unrelated packages onto the search path.
func NewOverlay(workDir string, runtimeRoot string, runtimeInfo []byte, extraModulePaths []string) (*Overlay, error) {
	if workDir == "" {
		workDir = os.TempDir()
	}
	dir, err := os.MkdirTemp(workDir, "stepenv-overlay-")
	if err != nil {
		return nil, fmt.Errorf("failed to create overlay directory (%w)", err)
	}
	overlay := &Overlay{
		Dir: dir,
	}

	if runtimeRoot != "" {
		if err := overlay.linkRuntime(runtimeRoot, runtimeInfo); err != nil {
			_ = overlay.Remove()
			return nil, err
		}
	}
	if err := overlay.linkExtraModules(extraModulePaths); err != nil {
		_ = overlay.Remove()
		return nil, err
	}
	return overlay, nil
}

func (o *Overlay) linkRuntime(runtimeRoot string, runtimeInfo []byte) error {
	absRoot, err := filepath.Abs(runtimeRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve runtime root %s (%w)", runtimeRoot, err)
	}
	if err := os.Symlink(absRoot, filepath.Join(o.Dir, filepath.Base(absRoot))); err != nil {
		return fmt.Errorf("failed to link runtime root %s into overlay (%w)", absRoot, err)
	}

	infoPath := filepath.Join(filepath.Dir(absRoot), runtimeInfoFileName)
	if _, err := os.Stat(infoPath); err == nil {
		if err := os.Symlink(infoPath, filepath.Join(o.Dir, runtimeInfoFileName)); err != nil {
			return fmt.Errorf("failed to link runtime info file into overlay (%w)", err)
		}
		return nil
	}
	// No INFO file next to the runtime. Write the provided runtime description instead so the child does not have
	// to re-resolve it from inside the provisioned environment.
	if len(runtimeInfo) > 0 {
		if err := os.WriteFile(filepath.Join(o.Dir, runtimeInfoFileName), runtimeInfo, 0o640); err != nil {
			return fmt.Errorf("failed to write runtime info file into overlay (%w)", err)
		}
	}
	return nil
}

func (o *Overlay) linkExtraModules(extraModulePaths []string) error {
	for _, modulePath := range extraModulePaths {
		absPath, err := filepath.Abs(modulePath)
		if err != nil {
			return fmt.Errorf("failed to resolve module path %s (%w)", modulePath, err)
		}
		nested, err := os.MkdirTemp(o.Dir, "module-")
		if err != nil {
			return fmt.Errorf("failed to create module directory in overlay (%w)", err)
		}
		if err := os.Symlink(absPath, filepath.Join(nested, filepath.Base(absPath))); err != nil {
			return fmt.Errorf("failed to link module path %s into overlay (%w)", absPath, err)
		}
		o.additionalPaths = append(o.additionalPaths, nested)
	}
	return nil
}

// ModulePaths returns the search path entries of the overlay, extra module directories first.
func (o *Overlay) ModulePaths() []string {
	return append(append([]string{}, o.additionalPaths...), o.Dir)
}

// Remove deletes the overlay directory. The nested module directories live inside it, so one removal covers
// everything; only the symlinks go, never their targets.
func (o *Overlay) Remove() error {
	if err := os.RemoveAll(o.Dir); err != nil {
		return fmt.Errorf("failed to remove overlay directory %s (%w)", o.Dir, err)
	}
	return nil
}
