package analysis

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// SupportAll is the supported-types sentinel for services applicable to any object type.
const SupportAll = "all"

// Definition is the declarative metadata of an analysis service. It is built
// once at discovery time and never mutated mid-run.
type Definition struct {
	Name           string
	Version        string
	Description    string
	SupportedTypes []string
	RequiredFields []string
	DefaultConfig  []ConfigOption
	Rerunnable     bool
	// Distributed services report results and completion out-of-band, so
	// Execute does not finalize them.
	Distributed bool
}

// IsConcrete reports whether the definition declares both a name and a version.
// Only concrete definitions are registered.
func (d Definition) IsConcrete() bool { return d.Name != "" && d.Version != "" }

// ParseVersion parses Version as a strict semantic version.
func (d Definition) ParseVersion() (*semver.Version, error) {
	v, err := semver.StrictNewVersion(d.Version)
	if err != nil {
		return nil, fmt.Errorf("service %s: invalid version %q: %w", d.Name, d.Version, err)
	}
	return v, nil
}

// Option returns the declared option with the given name.
func (d Definition) Option(name string) (ConfigOption, bool) {
	for _, o := range d.DefaultConfig {
		if o.Name() == name {
			return o, true
		}
	}
	return ConfigOption{}, false
}

// BuildDefaultConfig returns the default value of every declared option.
func (d Definition) BuildDefaultConfig() Config {
	cfg := make(Config, len(d.DefaultConfig))
	for _, o := range d.DefaultConfig {
		cfg[o.Name()] = o.Default()
	}
	return cfg
}

// PublicConfig returns a copy of full without private and runtime-only options.
func (d Definition) PublicConfig(full Config) Config {
	out := full.Clone()
	for _, o := range d.DefaultConfig {
		if o.IsPrivate() || o.IsRuntimeOnly() {
			delete(out, o.Name())
		}
	}
	return out
}

// ValidateConfig checks that cfg holds exactly the declared option keys and
// that every required string option is non-blank.
func (d Definition) ValidateConfig(cfg Config) error {
	declared := make(map[string]struct{}, len(d.DefaultConfig))
	for _, o := range d.DefaultConfig {
		declared[o.Name()] = struct{}{}
	}

	var missing, extra []string
	for name := range declared {
		if _, ok := cfg[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range cfg {
		if _, ok := declared[name]; !ok {
			extra = append(extra, name)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		slices.Sort(missing)
		slices.Sort(extra)
		var parts []string
		if len(missing) > 0 {
			parts = append(parts, "missing keys: "+strings.Join(missing, ", "))
		}
		if len(extra) > 0 {
			parts = append(parts, "unexpected keys: "+strings.Join(extra, ", "))
		}
		return &ConfigError{Service: d.Name, Reason: strings.Join(parts, "; ")}
	}

	for _, o := range d.DefaultConfig {
		if !o.IsRequired() || o.Type() != OptionString {
			continue
		}
		s, _ := cfg[o.Name()].(string)
		if strings.TrimSpace(s) == "" {
			return &ConfigError{Service: d.Name, Option: o.Name(), Reason: "required value is blank"}
		}
	}
	return nil
}

// SupportedForType reports whether the service applies to objects of type t.
func (d Definition) SupportedForType(t string) bool {
	return slices.Contains(d.SupportedTypes, SupportAll) || slices.Contains(d.SupportedTypes, t)
}

// HasRequiredData reports whether obj carries every required field with a truthy value.
func (d Definition) HasRequiredData(obj Object) bool {
	_, ok := d.missingField(obj)
	return ok
}

func (d Definition) missingField(obj Object) (string, bool) {
	for _, f := range d.RequiredFields {
		if !truthy(obj.Attr(f)) {
			return f, false
		}
	}
	return "", true
}

// MissingField returns the first required field obj lacks, or "" when none is missing.
func (d Definition) MissingField(obj Object) string {
	f, _ := d.missingField(obj)
	return f
}
