package fileloader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ahrav/analysis-armada/internal/config"
)

// FileLoader loads configuration from an optional YAML file on disk layered
// under environment overrides. It implements the Loader interface.
type FileLoader struct {
	// path is the filesystem path to the configuration file. An empty path
	// loads defaults and environment overrides only.
	path string
	// dotenv is loaded into the process environment before reading overrides
	// when it exists.
	dotenv string
}

// Option configures a FileLoader.
type Option func(*FileLoader)

// WithDotEnv sets the dotenv file consulted before environment overrides.
func WithDotEnv(path string) Option { return func(l *FileLoader) { l.dotenv = path } }

// NewFileLoader creates a new FileLoader that will load configuration from the
// specified file path.
func NewFileLoader(path string, opts ...Option) *FileLoader {
	l := &FileLoader{path: path, dotenv: ".env"}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ config.Loader = (*FileLoader)(nil)

// Load reads the configuration file, applies environment overrides prefixed
// with config.EnvPrefix and validates the result.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	if err := loadDotEnv(l.dotenv); err != nil {
		return nil, fmt.Errorf("failed to load dotenv file: %w", err)
	}

	v := viper.New()
	config.SetDefaults(v)
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.path != "" {
		v.SetConfigFile(l.path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
