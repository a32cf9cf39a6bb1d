// Package pattern provides an analysis service that matches user supplied
// regular expressions against object payloads. Expressions are compiled with
// RE2 semantics so that hostile patterns cannot cause catastrophic backtracking.
package pattern

import (
	"context"
	"fmt"
	"io"

	regexp "github.com/wasilibs/go-re2"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
)

// Entry is the catalog entry name of the service.
const Entry = "pattern"

// SubtypeMatch is the result subtype recorded for each match.
const SubtypeMatch = "pattern_match"

// maxPayload bounds how much of a payload is buffered for matching.
const maxPayload = 64 << 20

var (
	_ analysis.Plugin          = (*Service)(nil)
	_ analysis.ConfigValidator = (*Service)(nil)
	_ analysis.Applicability   = (*Service)(nil)
)

var definition = analysis.Definition{
	Name:           "pattern",
	Version:        "1.0.0",
	Description:    "Matches configured regular expressions against object payloads.",
	SupportedTypes: []string{analysis.SupportAll},
	Rerunnable:     true,
	DefaultConfig: []analysis.ConfigOption{
		analysis.MustConfigOption("patterns", analysis.OptionList,
			analysis.WithDescription("One RE2 expression per line."),
			analysis.Required()),
		analysis.MustConfigOption("case_insensitive", analysis.OptionBool,
			analysis.WithDefault(false)),
		analysis.MustConfigOption("max_matches", analysis.OptionInt,
			analysis.WithDescription("Maximum matches recorded per pattern."),
			analysis.WithDefault(50)),
	},
}

// Register adds the service to c.
func Register(c *analysis.Catalog) { c.Register(Entry, New) }

// New returns a fresh service instance.
func New() analysis.Plugin { return &Service{} }

// Service matches regular expressions against payloads.
type Service struct{}

func (*Service) Definition() analysis.Definition { return definition }

func (*Service) ValidFor(obj analysis.Object) bool {
	_, ok := obj.(analysis.PayloadObject)
	return ok
}

// ValidateConfig requires at least one pattern and that every pattern compiles.
func (*Service) ValidateConfig(cfg analysis.Config) error {
	patterns := cfg.Strings("patterns")
	if len(patterns) == 0 {
		return &analysis.ConfigError{Service: definition.Name, Option: "patterns", Reason: "at least one pattern is required"}
	}
	if _, err := compile(patterns, cfg.Bool("case_insensitive")); err != nil {
		return &analysis.ConfigError{Service: definition.Name, Option: "patterns", Reason: err.Error()}
	}
	if n, ok := cfg.Int("max_matches"); !ok || n <= 0 {
		return &analysis.ConfigError{Service: definition.Name, Option: "max_matches", Reason: "must be a positive integer"}
	}
	return nil
}

func (*Service) Analyze(ctx context.Context, run *analysis.Execution, obj analysis.Object) error {
	po, ok := obj.(analysis.PayloadObject)
	if !ok {
		return analysis.ErrNoPayload
	}

	cfg := run.Config()
	exprs, err := compile(cfg.Strings("patterns"), cfg.Bool("case_insensitive"))
	if err != nil {
		return err
	}
	limit, ok := cfg.Int("max_matches")
	if !ok || limit <= 0 {
		limit = 50
	}

	rc, err := po.Payload(ctx)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxPayload+1))
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	if len(data) > maxPayload {
		run.Warning("Payload truncated to %d bytes", maxPayload)
		data = data[:maxPayload]
	}

	total := 0
	for _, re := range exprs {
		if err := ctx.Err(); err != nil {
			return err
		}
		matched := 0
		for _, loc := range re.FindAllIndex(data, -1) {
			if matched == limit {
				break
			}
			// Empty matches carry no content and results require one.
			if loc[0] == loc[1] {
				continue
			}
			matched++
			err := run.AddResult(SubtypeMatch, string(data[loc[0]:loc[1]]), map[string]any{
				"pattern": re.String(),
				"offset":  loc[0],
			})
			if err != nil {
				return err
			}
		}
		total += matched
		run.Notify(ctx)
	}
	run.Info("Matched %d times across %d patterns", total, len(exprs))
	return nil
}

func compile(patterns []string, caseInsensitive bool) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		expr := p
		if caseInsensitive {
			expr = "(?i)" + p
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compiling %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
