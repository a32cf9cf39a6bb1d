package analysis

import "context"

// Plugin is implemented by every analysis service. A fresh Plugin is created
// through its Factory for each run, so implementations may keep per-run state.
type Plugin interface {
	// Definition returns the service's declarative metadata.
	Definition() Definition
	// Analyze inspects obj, recording logs, results and artifacts through run.
	Analyze(ctx context.Context, run *Execution, obj Object) error
}

// Factory creates a new Plugin instance.
type Factory func() Plugin

// ConfigValidator layers service specific semantic checks on top of
// Definition.ValidateConfig. Implementations should return a *ConfigError.
type ConfigValidator interface {
	ValidateConfig(cfg Config) error
}

// Applicability lets a service decline an object that passed the generic
// type and field checks. Services that do not implement it accept every object.
type Applicability interface {
	ValidFor(obj Object) bool
}

// ConfigBuilder computes a service's stored configuration at registration
// time. merged already holds the declared defaults overlaid with previously
// stored values.
type ConfigBuilder interface {
	BuildConfig(merged Config) (Config, error)
}

// Family groups related services under a common non-concrete parent.
// Discovery recurses into Members without registering the parent itself.
type Family interface {
	Members() []Factory
}

// ValidFor applies the plugin's Applicability hook, defaulting to true.
func ValidFor(p Plugin, obj Object) bool {
	if a, ok := p.(Applicability); ok {
		return a.ValidFor(obj)
	}
	return true
}

// ValidateConfig runs the definition's schema check followed by the plugin's
// own ConfigValidator, when present.
func ValidateConfig(p Plugin, cfg Config) error {
	if err := p.Definition().ValidateConfig(cfg); err != nil {
		return err
	}
	if v, ok := p.(ConfigValidator); ok {
		return v.ValidateConfig(cfg)
	}
	return nil
}
