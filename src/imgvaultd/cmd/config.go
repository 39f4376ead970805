package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/q-controller/imgvault/src/pkg/images/storage"
	"github.com/q-controller/imgvault/src/pkg/utils"
	"github.com/spf13/pflag"
)

const EnvPrefix = "IMGVAULT"

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type S3Settings struct {
	Enabled          bool `mapstructure:"enabled"`
	storage.S3Config `mapstructure:",squash"`
}

type Config struct {
	Root           string        `mapstructure:"root"`
	Index          string        `mapstructure:"index"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	HTTP           HTTPConfig    `mapstructure:"http"`
	GRPC           GRPCConfig    `mapstructure:"grpc"`
	Log            LogConfig     `mapstructure:"log"`
	S3             S3Settings    `mapstructure:"s3"`
}

func defaults() map[string]any {
	return map[string]any{
		"root":                 "",
		"index":                "",
		"health_interval":      "10s",
		"http.port":            8080,
		"grpc.port":            8081,
		"log.level":            "info",
		"log.format":           "text",
		"s3.enabled":           false,
		"s3.bucket":            "",
		"s3.prefix":            "",
		"s3.region":            "us-east-1",
		"s3.endpoint":          "",
		"s3.access_key_id":     "",
		"s3.secret_access_key": "",
	}
}

// LoadConfig reads defaults, then the file at path, then IMGVAULT_* variables,
// then flags set on the command line.
func LoadConfig(path string, flags *pflag.FlagSet) (Config, error) {
	return utils.LoadConfig[Config](path, EnvPrefix, defaults(), flags)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root is required"))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid http port %d", c.HTTP.Port))
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid grpc port %d", c.GRPC.Port))
	}
	if c.HTTP.Port == c.GRPC.Port {
		errs = append(errs, errors.New("http and grpc ports must differ"))
	}
	if c.HealthInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid health interval %s", c.HealthInterval))
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3.bucket is required when s3 is enabled"))
	}
	return errors.Join(errs...)
}
