// Package hashes provides an analysis service that records cryptographic
// digests and the byte entropy of object payloads.
package hashes

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"math"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
)

// Entry is the catalog entry name of the service.
const Entry = "hashes"

// Result subtypes.
const (
	SubtypeDigest  = "digest"
	SubtypeEntropy = "entropy"
)

var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

var _ analysis.Plugin = (*Service)(nil)

var definition = analysis.Definition{
	Name:           "hashes",
	Version:        "1.0.0",
	Description:    "Computes payload digests and Shannon entropy.",
	SupportedTypes: []string{analysis.SupportAll},
	Rerunnable:     true,
	DefaultConfig: []analysis.ConfigOption{
		analysis.MustConfigOption("algorithms", analysis.OptionMultiSelect,
			analysis.WithDescription("Digests to compute."),
			analysis.WithChoices("md5", "sha1", "sha256", "sha512"),
			analysis.WithDefault([]int{1, 3})),
		analysis.MustConfigOption("entropy", analysis.OptionBool,
			analysis.WithDescription("Record the payload's Shannon entropy in bits per byte."),
			analysis.WithDefault(true)),
	},
}

// Register adds the service to c.
func Register(c *analysis.Catalog) { c.Register(Entry, New) }

// New returns a fresh service instance.
func New() analysis.Plugin { return &Service{} }

// Service computes digests.
type Service struct{}

func (*Service) Definition() analysis.Definition { return definition }

func (*Service) Analyze(ctx context.Context, run *analysis.Execution, obj analysis.Object) error {
	po, ok := obj.(analysis.PayloadObject)
	if !ok {
		return analysis.ErrNoPayload
	}

	cfg := run.Config()
	names := cfg.Strings("algorithms")
	for _, name := range names {
		if _, ok := algorithms[name]; !ok {
			return fmt.Errorf("unsupported digest algorithm %q", name)
		}
	}

	rc, err := po.Payload(ctx)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	defer rc.Close()

	hashers := make([]hash.Hash, len(names))
	writers := make([]io.Writer, 0, len(names)+1)
	for i, name := range names {
		hashers[i] = algorithms[name]()
		writers = append(writers, hashers[i])
	}
	var counts byteCounts
	if cfg.Bool("entropy") {
		writers = append(writers, &counts)
	}

	size, err := io.Copy(io.MultiWriter(writers...), rc)
	if err != nil {
		return fmt.Errorf("hashing payload: %w", err)
	}

	for i, name := range names {
		sum := hex.EncodeToString(hashers[i].Sum(nil))
		if err := run.AddResult(SubtypeDigest, sum, map[string]any{"algorithm": name, "size": size}); err != nil {
			return err
		}
	}
	if cfg.Bool("entropy") {
		e := counts.entropy()
		if err := run.AddResult(SubtypeEntropy, fmt.Sprintf("%.4f", e), map[string]any{"size": size}); err != nil {
			return err
		}
	}
	return nil
}

// byteCounts accumulates a byte histogram.
type byteCounts struct {
	n     int64
	table [256]int64
}

func (b *byteCounts) Write(p []byte) (int, error) {
	for _, c := range p {
		b.table[c]++
	}
	b.n += int64(len(p))
	return len(p), nil
}

func (b *byteCounts) entropy() float64 {
	if b.n == 0 {
		return 0
	}
	var h float64
	for _, c := range b.table {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(b.n)
		h -= p * math.Log2(p)
	}
	return h
}
