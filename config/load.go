package config

import "fmt"

// Load unserializes a configuration from the data of a parsed YAML document. Nil data yields the defaults.
func Load(configData any) (*Config, error) {
	if configData == nil {
		configData = map[string]any{}
	}
	return getConfigSchema().UnserializeType(configData)
}

// Default returns the configuration with every option on its default value.
func Default() *Config {
	cfg, err := Load(map[string]any{})
	if err != nil {
		panic(fmt.Errorf("the default configuration failed to load (%w)", err))
	}
	return cfg
}
