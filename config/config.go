// Package config contains the configuration of the step environment provisioner.
package config

import (
	log "go.arcalot.io/log/v2"
)

// Config is the main configuration structure of the provisioner. It configures where environments and metadata live
// and which resolver backend builds the environments; it is not part of any single pipeline.
type Config struct {
	// CacheDir is the root directory of the environment cache.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`
	// WorkDir is the directory runtime overlays are created in. Empty means the system temporary directory.
	WorkDir string `json:"work_dir" yaml:"work_dir"`
	// MetadataDir is the root directory of the task metadata store.
	MetadataDir string `json:"metadata_dir" yaml:"metadata_dir"`
	// Resolver holds the configuration of the resolver backend that builds environments.
	Resolver any `json:"resolver" yaml:"resolver"`
	// Log configures logging.
	Log log.Config `json:"log" yaml:"log"`
}
