// Package requirements contains the declared package requirements of a step and the derived environment identity.
// A requirement set only describes what a step needs; mapping it to concrete packages is the resolver's job.
package requirements

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// FullIDDefault is the full ID of an environment whose requirement set has not been resolved yet. The resolver
// replaces it with a hash of the concrete package list.
const FullIDDefault = "_default"

// Set is the declared requirement set of a single step. Step-level sets augment the flow-level base set, see Merge.
type Set struct {
	// Python is the requested interpreter version, e.g. "3.11". Empty means the resolver default.
	Python string `json:"python" yaml:"python"`
	// Packages maps package names to version constraints resolved through the package channels.
	Packages map[string]string `json:"packages" yaml:"packages"`
	// Channels lists additional channels to search, in priority order.
	Channels []string `json:"channels" yaml:"channels"`
	// PipPackages maps pip package names to version constraints.
	PipPackages map[string]string `json:"pip_packages" yaml:"pip_packages"`
	// ExtraIndexes lists additional package indexes for pip packages.
	ExtraIndexes []string `json:"extra_indexes" yaml:"extra_indexes"`
	// Disabled switches the step to the external environment instead of a provisioned one.
	Disabled bool `json:"disabled" yaml:"disabled"`
}

// Empty reports whether the set declares nothing beyond the defaults.
func (s Set) Empty() bool {
	return s.Python == "" && len(s.Packages) == 0 && len(s.Channels) == 0 &&
		len(s.PipPackages) == 0 && len(s.ExtraIndexes) == 0
}

// Merge combines a flow-level base set with a step-level override. The override augments the base; on conflict the
// override value prevails.
func Merge(base Set, override Set) Set {
	result := Set{
		Python:       base.Python,
		Packages:     mergeMaps(base.Packages, override.Packages),
		Channels:     mergeLists(base.Channels, override.Channels),
		PipPackages:  mergeMaps(base.PipPackages, override.PipPackages),
		ExtraIndexes: mergeLists(base.ExtraIndexes, override.ExtraIndexes),
		Disabled:     override.Disabled,
	}
	if override.Python != "" {
		result.Python = override.Python
	}
	return result
}

func mergeMaps(base map[string]string, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	result := make(map[string]string, len(base)+len(override))
	for name, constraint := range base {
		result[name] = constraint
	}
	for name, constraint := range override {
		result[name] = constraint
	}
	return result
}

func mergeLists(base []string, override []string) []string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(base)+len(override))
	result := make([]string, 0, len(base)+len(override))
	for _, entry := range append(append([]string{}, base...), override...) {
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		result = append(result, entry)
	}
	return result
}

// CanonicalJSON returns a deterministic encoding of the set. Map keys are sorted by encoding/json; list order is
// preserved because channel and index order is significant.
func (s Set) CanonicalJSON() []byte {
	encoded, err := json.Marshal(s)
	if err != nil {
		// The struct only contains strings, maps and slices thereof.
		panic(fmt.Errorf("failed to encode requirement set (%w)", err))
	}
	return encoded
}

// RequirementsID returns the stable identifier of the set, a truncated hash of the canonical encoding.
func (s Set) RequirementsID() string {
	digest := sha256.Sum256(s.CanonicalJSON())
	return hex.EncodeToString(digest[:])[:32]
}

// EnvID derives the unresolved environment identity of the set for the current architecture.
func (s Set) EnvID() EnvID {
	return EnvID{
		RequirementsID: s.RequirementsID(),
		FullID:         FullIDDefault,
		Arch:           CurrentArch(),
	}
}

// CurrentArch returns the architecture identifier environments are keyed on.
func CurrentArch() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// EnvID is the identity of a package environment. The requirements ID addresses the declared requirement set, the
// full ID one concrete resolution of it.
type EnvID struct {
	RequirementsID string `json:"req_id"`
	FullID         string `json:"full_id"`
	Arch           string `json:"arch"`
}

// String returns the req/full/arch form of the ID.
func (e EnvID) String() string {
	return strings.Join([]string{e.RequirementsID, e.FullID, e.Arch}, "/")
}

// Resolved reports whether the ID refers to a concrete resolution rather than the default placeholder.
func (e EnvID) Resolved() bool {
	return e.FullID != "" && e.FullID != FullIDDefault
}

// Validate checks the ID for empty components.
func (e EnvID) Validate() error {
	if e.RequirementsID == "" {
		return fmt.Errorf("environment ID has an empty requirements ID")
	}
	if e.FullID == "" {
		return fmt.Errorf("environment ID %s has an empty full ID", e.RequirementsID)
	}
	if e.Arch == "" {
		return fmt.Errorf("environment ID %s has an empty architecture", e.RequirementsID)
	}
	return nil
}

// ParseEnvID parses the req/full/arch form produced by String. The architecture component may itself contain
// separators, so only the first two are split off.
func ParseEnvID(encoded string) (EnvID, error) {
	parts := strings.SplitN(encoded, "/", 3)
	if len(parts) != 3 {
		return EnvID{}, fmt.Errorf("invalid environment ID: %s (expected req/full/arch)", encoded)
	}
	id := EnvID{
		RequirementsID: parts[0],
		FullID:         parts[1],
		Arch:           parts[2],
	}
	if err := id.Validate(); err != nil {
		return EnvID{}, err
	}
	return id, nil
}

// FullIDFor computes a full ID from the concrete package list of a resolution. The inputs are name=version=source
// triples; order does not matter.
func FullIDFor(lockedSpecs []string) string {
	sorted := append([]string{}, lockedSpecs...)
	sort.Strings(sorted)
	digest := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(digest[:])[:32]
}
