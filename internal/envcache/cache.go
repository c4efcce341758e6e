// Package envcache provides the requirement-addressed environment cache. It maps environment IDs to prepared
// environment directories, guarantees at most one builder per ID across goroutines and processes, and tracks
// environment usage with reference tokens so pruning never removes an environment that is still in use.
package envcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/stepenv/internal/requirements"
	"golang.org/x/sync/singleflight"
)

const (
	markerFileName = ".complete"
	refsDirName    = ".refs"
	lockFileName   = ".lock"
	lockRetryDelay = 100 * time.Millisecond
	indexSize      = 128
)

// BuildFunc materializes an environment into the given directory. It is only called while the cache holds the build
// lock for the environment's ID.
type BuildFunc func(ctx context.Context, dir string) error

// Cache is the on-disk environment cache. It is safe for concurrent use and for concurrent use of the same root
// directory by multiple processes.
type Cache struct {
	root   string
	logger log.Logger
	flight singleflight.Group
	index  *lru.Cache[string, string]
}

// New creates a cache rooted at the given directory, creating it if needed.
func New(root string, logger log.Logger) (*Cache, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root %s (%w)", root, err)
	}
	if err := os.MkdirAll(absRoot, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache root %s (%w)", absRoot, err)
	}
	index, err := lru.New[string, string](indexSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache index (%w)", err)
	}
	return &Cache{
		root:   absRoot,
		logger: logger,
		index:  index,
	}, nil
}

// Environment is an acquired environment. Callers must Release it when the unit of work using it has finished.
type Environment struct {
	ID  requirements.EnvID
	Dir string

	refPath string
}

// Python returns the interpreter entrypoint of the environment.
func (e *Environment) Python() string {
	return filepath.Join(e.Dir, "bin", "python")
}

// BinDir returns the executable directory of the environment.
func (e *Environment) BinDir() string {
	return filepath.Join(e.Dir, "bin")
}

// LibDir returns the library directory of the environment.
func (e *Environment) LibDir() string {
	return filepath.Join(e.Dir, "lib")
}

// Release drops the reference token of this acquisition. Releasing twice is harmless.
func (e *Environment) Release() error {
	if e.refPath == "" {
		return nil
	}
	err := os.Remove(e.refPath)
	e.refPath = ""
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release environment %s (%w)", e.ID, err)
	}
	return nil
}

// Entry describes one cached environment.
type Entry struct {
	ID        requirements.EnvID
	Dir       string
	Refs      int
	CreatedAt time.Time
}

// marker is the content of the completion marker file. Its presence commits a build; a directory without it is a
// crashed build.
type marker struct {
	EnvID     requirements.EnvID `json:"env_id"`
	CreatedAt time.Time          `json:"created_at"`
}

// Lookup reports whether a committed environment exists for the ID and returns its directory.
func (c *Cache) Lookup(id requirements.EnvID) (string, bool) {
	if dir, ok := c.index.Get(id.String()); ok {
		return dir, true
	}
	dir := c.envDir(id)
	if !c.committed(dir) {
		return "", false
	}
	c.index.Add(id.String(), dir)
	return dir, true
}

// Acquire returns the environment for the ID, building it with the build function if no committed environment
// exists. At most one builder runs per ID: concurrent acquirers in this process share one call, concurrent builders
// in other processes are serialized through a file lock. The returned boolean reports whether this call built the
// environment.
func (c *Cache) Acquire(ctx context.Context, id requirements.EnvID, build BuildFunc) (*Environment, bool, error) {
	if err := id.Validate(); err != nil {
		return nil, false, err
	}
	type ensured struct {
		dir   string
		built bool
	}
	for {
		result, err, _ := c.flight.Do(id.String(), func() (any, error) {
			dir, built, err := c.ensure(ctx, id, build)
			if err != nil {
				return nil, err
			}
			return ensured{dir: dir, built: built}, nil
		})
		if err != nil {
			return nil, false, err
		}
		e := result.(ensured)

		// The reference token is written under the build lock so pruning cannot remove the environment between the
		// committed check and the token write. If the environment is gone by the time we hold the lock, it was
		// pruned in the meantime and must be built again.
		refPath, ok, err := c.ref(ctx, id, e.dir)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			c.flight.Forget(id.String())
			c.index.Remove(id.String())
			continue
		}
		return &Environment{
			ID:      id,
			Dir:     e.dir,
			refPath: refPath,
		}, e.built, nil
	}
}

// ensure produces a committed environment directory for the ID, building it if needed.
func (c *Cache) ensure(ctx context.Context, id requirements.EnvID, build BuildFunc) (string, bool, error) {
	dir := c.envDir(id)
	if c.committed(dir) {
		c.index.Add(id.String(), dir)
		return dir, false, nil
	}

	unlock, err := c.lock(ctx, id)
	if err != nil {
		return "", false, err
	}
	defer unlock()

	// Another process may have committed the build while we waited for the lock.
	if c.committed(dir) {
		c.index.Add(id.String(), dir)
		return dir, false, nil
	}

	// A directory without a marker is a leftover of a crashed build and must go before rebuilding.
	if _, err := os.Stat(dir); err == nil {
		c.logger.Warningf("Removing incomplete environment %s left behind by a previous build...", id)
		if err := os.RemoveAll(dir); err != nil {
			return "", false, fmt.Errorf("failed to remove incomplete environment %s (%w)", id, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o750); err != nil {
		return "", false, fmt.Errorf("failed to create cache directory for %s (%w)", id, err)
	}
	if err := build(ctx, dir); err != nil {
		// Leave no half-built directory behind; the next acquirer would only remove it again.
		_ = os.RemoveAll(dir)
		return "", false, fmt.Errorf("failed to build environment %s (%w)", id, err)
	}
	if err := c.commit(id, dir); err != nil {
		_ = os.RemoveAll(dir)
		return "", false, err
	}
	c.index.Add(id.String(), dir)
	return dir, true, nil
}

func (c *Cache) commit(id requirements.EnvID, dir string) error {
	encoded, err := json.Marshal(marker{
		EnvID:     id,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode completion marker for %s (%w)", id, err)
	}
	tmpPath := filepath.Join(dir, markerFileName+".tmp")
	if err := os.WriteFile(tmpPath, encoded, 0o640); err != nil {
		return fmt.Errorf("failed to write completion marker for %s (%w)", id, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, markerFileName)); err != nil {
		return fmt.Errorf("failed to commit environment %s (%w)", id, err)
	}
	return nil
}

// ref writes a reference token for a committed environment while holding the build lock. It reports false when the
// directory no longer holds a committed environment.
func (c *Cache) ref(ctx context.Context, id requirements.EnvID, dir string) (string, bool, error) {
	unlock, err := c.lock(ctx, id)
	if err != nil {
		return "", false, err
	}
	defer unlock()
	if !c.committed(dir) {
		return "", false, nil
	}
	refPath, err := c.addRef(dir)
	if err != nil {
		return "", false, err
	}
	return refPath, true, nil
}

func (c *Cache) addRef(dir string) (string, error) {
	refsDir := filepath.Join(dir, refsDirName)
	if err := os.MkdirAll(refsDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create reference directory in %s (%w)", dir, err)
	}
	refPath := filepath.Join(refsDir, uuid.NewString())
	if err := os.WriteFile(refPath, nil, 0o640); err != nil {
		return "", fmt.Errorf("failed to write reference token in %s (%w)", dir, err)
	}
	return refPath, nil
}

// lock takes the cross-process build lock for the requirement ID and returns the unlock function.
func (c *Cache) lock(ctx context.Context, id requirements.EnvID) (func(), error) {
	lockDir := filepath.Join(c.root, id.RequirementsID)
	if err := os.MkdirAll(lockDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory for %s (%w)", id, err)
	}
	fileLock := flock.New(filepath.Join(lockDir, lockFileName))
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to take the build lock for %s (%w)", id, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to take the build lock for %s", id)
	}
	return func() {
		if err := fileLock.Unlock(); err != nil {
			c.logger.Errorf("Failed to release the build lock for %s (%v)", id, err)
		}
	}, nil
}

// List returns all committed environments in the cache.
func (c *Cache) List() ([]Entry, error) {
	reqDirs, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache root %s (%w)", c.root, err)
	}
	var entries []Entry
	for _, reqDir := range reqDirs {
		if !reqDir.IsDir() {
			continue
		}
		envDirs, err := os.ReadDir(filepath.Join(c.root, reqDir.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read cache directory %s (%w)", reqDir.Name(), err)
		}
		for _, envDir := range envDirs {
			if !envDir.IsDir() {
				continue
			}
			dir := filepath.Join(c.root, reqDir.Name(), envDir.Name())
			entry, ok := c.readEntry(dir)
			if !ok {
				continue
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Prune removes all committed environments without reference tokens and returns their IDs. Environments acquired
// while pruning runs are protected by the per-requirement build lock.
func (c *Cache) Prune(ctx context.Context) ([]requirements.EnvID, error) {
	entries, err := c.List()
	if err != nil {
		return nil, err
	}
	var removed []requirements.EnvID
	for _, entry := range entries {
		if entry.Refs > 0 {
			continue
		}
		unlock, err := c.lock(ctx, entry.ID)
		if err != nil {
			return removed, err
		}
		// Recheck under the lock; a reference may have appeared in the meantime.
		current, ok := c.readEntry(entry.Dir)
		if !ok || current.Refs > 0 {
			unlock()
			continue
		}
		c.logger.Infof("Pruning unused environment %s...", entry.ID)
		err = os.RemoveAll(entry.Dir)
		unlock()
		if err != nil {
			return removed, fmt.Errorf("failed to prune environment %s (%w)", entry.ID, err)
		}
		c.index.Remove(entry.ID.String())
		removed = append(removed, entry.ID)
	}
	return removed, nil
}

func (c *Cache) readEntry(dir string) (Entry, bool) {
	encoded, err := os.ReadFile(filepath.Join(dir, markerFileName))
	if err != nil {
		return Entry{}, false
	}
	var m marker
	if err := json.Unmarshal(encoded, &m); err != nil {
		c.logger.Warningf("Ignoring environment with an unreadable completion marker in %s (%v)", dir, err)
		return Entry{}, false
	}
	return Entry{
		ID:        m.EnvID,
		Dir:       dir,
		Refs:      c.countRefs(dir),
		CreatedAt: m.CreatedAt,
	}, true
}

func (c *Cache) countRefs(dir string) int {
	refs, err := os.ReadDir(filepath.Join(dir, refsDirName))
	if err != nil {
		return 0
	}
	return len(refs)
}

func (c *Cache) committed(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, markerFileName))
	return err == nil
}

// envDir returns the directory of an environment: <root>/<requirements ID>/<full ID>-<arch>. The full ID never
// contains a dash, so the layout stays parseable.
func (c *Cache) envDir(id requirements.EnvID) string {
	return filepath.Join(c.root, id.RequirementsID, id.FullID+"-"+strings.ReplaceAll(id.Arch, string(os.PathSeparator), "_"))
}
