package utils

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LoadConfig decodes configuration into T. Sources, lowest precedence first:
// defaults, the YAML file at path (skipped when empty), environment variables
// named envPrefix_SECTION_KEY, and flags explicitly set on the command line.
func LoadConfig[T any](path, envPrefix string, defaults map[string]any, flags *pflag.FlagSet) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return c, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, nil
}
