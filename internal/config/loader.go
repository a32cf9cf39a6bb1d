package config

import "context"

// Loader produces a validated Config. fileloader.FileLoader is the
// implementation used by analysisctl; tests may supply their own.
type Loader interface {
	Load(ctx context.Context) (*Config, error)
}
