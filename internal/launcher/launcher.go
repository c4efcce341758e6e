// Package launcher constructs isolated process environments for task processes running inside provisioned package
// environments. The parent process environment is only ever read, never modified; isolation is expressed entirely
// in the environment handed to the child.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// BaseEnviron snapshots the current process environment into a map.
func BaseEnviron() map[string]string {
	environ := os.Environ()
	result := make(map[string]string, len(environ))
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		result[name] = value
	}
	return result
}

// Environ builds the child process environment for running inside the environment directory. The returned map is a
// copy; base is left untouched.
//
// PATH gets the environment's bin directory prepended so non-interpreted dependencies of the environment are visible
// to user code. On linux the environment's lib directory is prepended to an existing LD_LIBRARY_PATH; macOS is
// skipped because SIP ignores DYLD_LIBRARY_PATH anyway. If an overlay is given, its module paths become PYTHONPATH,
// and PYTHONNOUSERSITE keeps the user site-packages of the parent out of the child.
func Environ(envDir string, base map[string]string, overlay *Overlay) map[string]string {
	result := make(map[string]string, len(base)+4)
	for name, value := range base {
		result[name] = value
	}

	binDir := filepath.Join(envDir, "bin")
	if basePath, ok := base["PATH"]; ok && basePath != "" {
		result["PATH"] = binDir + string(os.PathListSeparator) + basePath
	} else {
		result["PATH"] = binDir
	}

	if runtime.GOOS == "linux" {
		if ldPath, ok := base["LD_LIBRARY_PATH"]; ok && ldPath != "" {
			result["LD_LIBRARY_PATH"] = filepath.Join(envDir, "lib") + string(os.PathListSeparator) + ldPath
		}
	}

	if overlay != nil {
		result["PYTHONPATH"] = strings.Join(overlay.ModulePaths(), string(os.PathListSeparator))
	}
	result["PYTHONNOUSERSITE"] = "1"
	return result
}

// PrependPath returns env with dir prepended to the named list variable, unless it already leads it.
func PrependPath(env map[string]string, name string, dir string) map[string]string {
	result := make(map[string]string, len(env)+1)
	for key, value := range env {
		result[key] = value
	}
	current := env[name]
	if current == dir || strings.HasPrefix(current, dir+string(os.PathListSeparator)) {
		return result
	}
	if current == "" {
		result[name] = dir
	} else {
		result[name] = dir + string(os.PathListSeparator) + current
	}
	return result
}

// PythonEntrypoint returns the interpreter entrypoint of an environment directory.
func PythonEntrypoint(envDir string) string {
	return filepath.Join(envDir, "bin", "python")
}

// Command builds a command for the given argument vector with exactly the provided environment.
func Command(ctx context.Context, argv []string, env map[string]string) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("cannot build a command from an empty argument vector")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = flatten(env)
	return cmd, nil
}

func flatten(env map[string]string) []string {
	result := make([]string, 0, len(env))
	for name, value := range env {
		result = append(result, name+"="+value)
	}
	sort.Strings(result)
	return result
}
