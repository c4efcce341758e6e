// Package metadata provides the persisted task metadata store. Decorators record small metadata datums per task and
// recover them later, possibly from another process on another attempt. Lookups tolerate the partially-written
// entries a crashed prior attempt may have left behind.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
	log "go.arcalot.io/log/v2"
	"go.flow.arcalot.io/stepenv/internal/pipeline"
	"go.flow.arcalot.io/stepenv/internal/requirements"
)

const (
	datumSuffix     = ".json"
	cacheSize       = 256
	lookupAttempts  = 3
	lookupBackoff   = 100 * time.Millisecond
	fieldEnvID      = "env_id"
	typeEnvID       = "stepenv_env_id"
	fieldParamBase  = "param_"
	typeParam       = "stepenv_parameter"
)

// Datum is one recorded metadata entry of a task.
type Datum struct {
	Field string   `json:"field"`
	Value string   `json:"value"`
	Type  string   `json:"type"`
	Tags  []string `json:"tags"`
}

// ErrNotFound indicates that no complete datum exists for the requested field.
type ErrNotFound struct {
	Pathspec string
	Field    string
}

// Error returns the error message.
func (e ErrNotFound) Error() string {
	return fmt.Sprintf("no metadata found for field %s of task %s", e.Field, e.Pathspec)
}

// Store is a filesystem-backed metadata store. Writes are atomic; a reader never observes a torn datum, only a
// missing one.
type Store struct {
	root   string
	logger log.Logger
	cache  *lru.Cache[string, Datum]
}

// New creates a store rooted at the given directory, creating it if needed.
func New(root string, logger log.Logger) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve metadata root %s (%w)", root, err)
	}
	if err := os.MkdirAll(absRoot, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create metadata root %s (%w)", absRoot, err)
	}
	cache, err := lru.New[string, Datum](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata cache (%w)", err)
	}
	return &Store{
		root:   absRoot,
		logger: logger,
		cache:  cache,
	}, nil
}

// Register records the datums for the given task and attempt. Each datum is written to its own file via a temporary
// file and a rename, so crashed writers leave stray temporary files but never torn datums.
func (s *Store) Register(ref pipeline.TaskRef, attempt int, datums []Datum) error {
	dir := s.taskDir(ref)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create metadata directory for task %s (%w)", ref.Pathspec(), err)
	}
	for _, datum := range datums {
		encoded, err := json.Marshal(datum)
		if err != nil {
			return fmt.Errorf("failed to encode metadata field %s for task %s (%w)", datum.Field, ref.Pathspec(), err)
		}
		tmpPath := filepath.Join(dir, ".tmp-"+uuid.NewString())
		if err := os.WriteFile(tmpPath, encoded, 0o640); err != nil {
			return fmt.Errorf("failed to write metadata field %s for task %s (%w)", datum.Field, ref.Pathspec(), err)
		}
		finalPath := filepath.Join(dir, datumFileName(datum.Field, attempt))
		if err := os.Rename(tmpPath, finalPath); err != nil {
			return fmt.Errorf("failed to commit metadata field %s for task %s (%w)", datum.Field, ref.Pathspec(), err)
		}
		s.cache.Add(s.cacheKey(ref, datum.Field), datum)
	}
	return nil
}

// Lookup returns the newest complete datum recorded for the field of the task. Datums of newer attempts win;
// unreadable entries from crashed attempts are skipped in favor of older complete ones. Transient filesystem errors
// are retried with a constant backoff.
func (s *Store) Lookup(ctx context.Context, ref pipeline.TaskRef, field string) (*Datum, error) {
	if datum, ok := s.cache.Get(s.cacheKey(ref, field)); ok {
		return &datum, nil
	}

	var result *Datum
	err := retry.Do(ctx, retry.WithMaxRetries(lookupAttempts, retry.NewConstant(lookupBackoff)), func(ctx context.Context) error {
		datum, err := s.lookupOnce(ref, field)
		if err != nil {
			return err
		}
		result = datum
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.Add(s.cacheKey(ref, field), *result)
	return result, nil
}

func (s *Store) lookupOnce(ref pipeline.TaskRef, field string) (*Datum, error) {
	dir := s.taskDir(ref)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		// A writer may simply not have gotten this far yet.
		return nil, retry.RetryableError(ErrNotFound{Pathspec: ref.Pathspec(), Field: field})
	}
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("failed to read metadata directory for task %s (%w)", ref.Pathspec(), err))
	}

	attempts := make([]int, 0, len(entries))
	for _, entry := range entries {
		attempt, ok := parseDatumFileName(entry.Name(), field)
		if !ok {
			continue
		}
		attempts = append(attempts, attempt)
	}
	if len(attempts) == 0 {
		return nil, retry.RetryableError(ErrNotFound{Pathspec: ref.Pathspec(), Field: field})
	}
	sort.Sort(sort.Reverse(sort.IntSlice(attempts)))

	for _, attempt := range attempts {
		encoded, err := os.ReadFile(filepath.Join(dir, datumFileName(field, attempt)))
		if err != nil {
			// The file existed a moment ago; treat as a concurrent cleanup and fall through to older attempts.
			s.logger.Debugf("Metadata field %s attempt %d of task %s vanished mid-read (%v)", field, attempt, ref.Pathspec(), err)
			continue
		}
		var datum Datum
		if err := json.Unmarshal(encoded, &datum); err != nil {
			// A crashed writer on a filesystem without atomic renames can leave a torn file behind. Older
			// attempts are still authoritative.
			s.logger.Warningf(
				"Skipping partially-written metadata field %s attempt %d of task %s (%v)",
				field, attempt, ref.Pathspec(), err,
			)
			continue
		}
		return &datum, nil
	}
	return nil, retry.RetryableError(ErrNotFound{Pathspec: ref.Pathspec(), Field: field})
}

// RegisterEnvID records the environment ID of a task for later fetch-at-exec recovery.
func (s *Store) RegisterEnvID(ref pipeline.TaskRef, attempt int, id requirements.EnvID) error {
	encoded, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to encode environment ID for task %s (%w)", ref.Pathspec(), err)
	}
	return s.Register(ref, attempt, []Datum{
		{
			Field: fieldEnvID,
			Value: string(encoded),
			Type:  typeEnvID,
			Tags:  []string{fmt.Sprintf("attempt_id:%d", attempt)},
		},
	})
}

// LookupEnvID recovers the environment ID recorded for a task.
func (s *Store) LookupEnvID(ctx context.Context, ref pipeline.TaskRef) (requirements.EnvID, error) {
	datum, err := s.Lookup(ctx, ref, fieldEnvID)
	if err != nil {
		return requirements.EnvID{}, err
	}
	var id requirements.EnvID
	if err := json.Unmarshal([]byte(datum.Value), &id); err != nil {
		return requirements.EnvID{}, fmt.Errorf("failed to decode environment ID of task %s (%w)", ref.Pathspec(), err)
	}
	if err := id.Validate(); err != nil {
		return requirements.EnvID{}, fmt.Errorf("invalid environment ID recorded for task %s (%w)", ref.Pathspec(), err)
	}
	return id, nil
}

// RegisterParameters records the parameter values of a task. Fetch-at-exec steps need them to recover the
// environment of a unit of work.
func (s *Store) RegisterParameters(ref pipeline.TaskRef, attempt int, parameters map[string]string) error {
	datums := make([]Datum, 0, len(parameters))
	for name, value := range parameters {
		datums = append(datums, Datum{
			Field: fieldParamBase + name,
			Value: value,
			Type:  typeParam,
			Tags:  []string{fmt.Sprintf("attempt_id:%d", attempt)},
		})
	}
	return s.Register(ref, attempt, datums)
}

// LookupParameter recovers a recorded parameter value of a task.
func (s *Store) LookupParameter(ctx context.Context, ref pipeline.TaskRef, name string) (string, error) {
	datum, err := s.Lookup(ctx, ref, fieldParamBase+name)
	if err != nil {
		return "", err
	}
	return datum.Value, nil
}

func (s *Store) taskDir(ref pipeline.TaskRef) string {
	return filepath.Join(s.root, ref.RunID, ref.StepName, ref.TaskID)
}

func (s *Store) cacheKey(ref pipeline.TaskRef, field string) string {
	return ref.Pathspec() + "#" + field
}

func datumFileName(field string, attempt int) string {
	return field + "." + strconv.Itoa(attempt) + datumSuffix
}

func parseDatumFileName(name string, field string) (int, bool) {
	rest, found := strings.CutPrefix(name, field+".")
	if !found {
		return 0, false
	}
	rest, found = strings.CutSuffix(rest, datumSuffix)
	if !found {
		return 0, false
	}
	attempt, err := strconv.Atoi(rest)
	if err != nil || attempt < 0 {
		return 0, false
	}
	return attempt, true
}
