// Package plugins assembles the analysis services compiled into the binary.
// Each service lives in its own package next to a service.yaml manifest, so
// this directory can also be passed as a plugin root.
package plugins

import (
	"github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/internal/plugins/hashes"
	"github.com/ahrav/analysis-armada/internal/plugins/pattern"
	"github.com/ahrav/analysis-armada/internal/plugins/secrets"
	"github.com/ahrav/analysis-armada/internal/plugins/warc"
)

// Builtin returns a catalog holding every compiled-in service.
func Builtin() *analysis.Catalog {
	c := analysis.NewCatalog()
	hashes.Register(c)
	pattern.Register(c)
	secrets.Register(c)
	warc.Register(c)
	return c
}
