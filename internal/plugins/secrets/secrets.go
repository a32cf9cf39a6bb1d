// Package secrets provides an analysis service that scans object payloads for
// leaked credentials using the gitleaks detection engine and its embedded
// default ruleset.
package secrets

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
)

// Entry is the catalog entry name of the service.
const Entry = "secrets"

// SubtypeSecret is the result subtype recorded for each finding.
const SubtypeSecret = "secret"

// readBufferKB is the chunk size, in kilobytes, the detector reads at a time.
const readBufferKB = 32

var (
	_ analysis.Plugin          = (*Service)(nil)
	_ analysis.ConfigValidator = (*Service)(nil)
	_ analysis.Applicability   = (*Service)(nil)
)

var definition = analysis.Definition{
	Name:           "secrets",
	Version:        "1.0.0",
	Description:    "Detects leaked credentials and API keys in object payloads.",
	SupportedTypes: []string{"Sample", "RawData"},
	Rerunnable:     true,
	DefaultConfig: []analysis.ConfigOption{
		analysis.MustConfigOption("max_findings", analysis.OptionInt,
			analysis.WithDescription("Stop recording findings after this many."),
			analysis.WithDefault(100)),
		analysis.MustConfigOption("redact", analysis.OptionBool,
			analysis.WithDescription("Mask the secret value in recorded results."),
			analysis.WithDefault(true)),
	},
}

// Register adds the service to c.
func Register(c *analysis.Catalog) { c.Register(Entry, New) }

// New returns a fresh service instance.
func New() analysis.Plugin { return &Service{} }

// Service scans payloads with gitleaks.
type Service struct{}

func (*Service) Definition() analysis.Definition { return definition }

// ValidFor accepts only objects that expose a payload.
func (*Service) ValidFor(obj analysis.Object) bool {
	_, ok := obj.(analysis.PayloadObject)
	return ok
}

// ValidateConfig rejects a non-positive finding limit.
func (*Service) ValidateConfig(cfg analysis.Config) error {
	if n, ok := cfg.Int("max_findings"); !ok || n <= 0 {
		return &analysis.ConfigError{Service: definition.Name, Option: "max_findings", Reason: "must be a positive integer"}
	}
	return nil
}

// Analyze runs the detector over the payload and records one result per finding.
func (*Service) Analyze(ctx context.Context, run *analysis.Execution, obj analysis.Object) error {
	po, ok := obj.(analysis.PayloadObject)
	if !ok {
		return analysis.ErrNoPayload
	}

	detector, err := newDetector()
	if err != nil {
		return err
	}

	rc, err := po.Payload(ctx)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	defer rc.Close()

	findings, err := detector.DetectReader(rc, readBufferKB)
	if err != nil {
		return fmt.Errorf("detecting secrets: %w", err)
	}

	cfg := run.Config()
	limit, _ := cfg.Int("max_findings")
	redact := cfg.Bool("redact")

	if len(findings) > limit {
		run.Warning("Found %d secrets, recording the first %d", len(findings), limit)
		findings = findings[:limit]
	}
	for _, f := range findings {
		secret := f.Secret
		if redact {
			secret = mask(secret)
		}
		data := map[string]any{
			"description": f.Description,
			"line":        f.StartLine,
			"column":      f.StartColumn,
			"entropy":     f.Entropy,
			"secret":      secret,
		}
		if len(f.Tags) > 0 {
			data["tags"] = f.Tags
		}
		if err := run.AddResult(SubtypeSecret, f.RuleID, data); err != nil {
			return err
		}
	}
	run.Info("Found %d secrets", len(findings))
	return nil
}

// mask keeps a short prefix of s so analysts can correlate findings.
func mask(s string) string {
	const keep = 4
	if len(s) <= keep {
		return strings.Repeat("*", len(s))
	}
	return s[:keep] + strings.Repeat("*", len(s)-keep)
}

var loadRules = sync.OnceValues(func() (config.Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewBufferString(config.DefaultConfig)); err != nil {
		return config.Config{}, fmt.Errorf("failed to read embedded config: %w", err)
	}

	var vc config.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return config.Config{}, fmt.Errorf("failed to unmarshal embedded config: %w", err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to translate ViperConfig to Config: %w", err)
	}
	return cfg, nil
})

// newDetector builds a detector from the embedded ruleset. The ruleset is
// parsed once; detectors are not shared between runs.
func newDetector() (*detect.Detector, error) {
	cfg, err := loadRules()
	if err != nil {
		return nil, err
	}
	return detect.NewDetector(cfg), nil
}
