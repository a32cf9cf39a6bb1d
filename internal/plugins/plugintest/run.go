// Package plugintest runs analysis plugins in-process for tests.
package plugintest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
)

// Run executes p against obj and returns the finished task's snapshot. The
// config starts from the plugin's defaults with select indexes resolved to
// their choices, as a run dispatched by the environment sees them. overrides
// are applied afterwards and must already be in resolved form.
func Run(t *testing.T, p analysis.Plugin, obj analysis.Object, overrides analysis.Config) analysis.TaskSnapshot {
	t.Helper()

	def := p.Definition()
	cfg := def.BuildDefaultConfig()
	for _, opt := range def.DefaultConfig {
		if opt.Type() != analysis.OptionSelect && opt.Type() != analysis.OptionMultiSelect {
			continue
		}
		v, err := opt.ReplaceValue(cfg[opt.Name()])
		require.NoError(t, err)
		cfg[opt.Name()] = v
	}
	for k, v := range overrides {
		cfg[k] = v
	}

	task := analysis.NewTask(def, obj, "tester", analysis.WithTaskConfig(cfg))
	require.NoError(t, task.Start())

	run := analysis.NewExecution(p, cfg)
	require.NoError(t, run.SetTask(task))
	run.Execute(context.Background())

	require.True(t, task.IsFinished(), "task should be finished after execute")
	return task.Snapshot()
}

// ResultsBySubtype filters the snapshot's results.
func ResultsBySubtype(snap analysis.TaskSnapshot, subtype string) []analysis.Result {
	var out []analysis.Result
	for _, r := range snap.Results {
		if r.Subtype == subtype {
			out = append(out, r)
		}
	}
	return out
}
