// Package config loads typed settings with viper: registered defaults first,
// then an optional config file, then environment variables under a prefix.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load fills cfg, a pointer to a mapstructure-tagged struct. Environment
// variables are named PREFIX_SECTION_KEY and only reach keys viper already
// knows, so nested keys that may come from the environment need an entry in
// defaults. A nil default binds the key to the environment without a value,
// leaving pointer fields nil unless the key is configured.
func Load(cfg any, envPrefix string, configPath string, defaults map[string]any) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		if value == nil {
			if err := v.BindEnv(key); err != nil {
				return fmt.Errorf("failed to bind %s: %w", key, err)
			}
			continue
		}
		v.SetDefault(key, value)
	}

	// An explicit path must exist; leave it empty to run on env vars alone
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
