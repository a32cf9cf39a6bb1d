package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	if err != nil {
		t.Logf("stderr: %s", errOut.String())
	}
	return out.String(), err
}

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_LocalHashes(t *testing.T) {
	path := writeSample(t, "abc")

	out, err := execute(t, "run", "hashes", "--file", path, "--mode", "local", "--user", "alice")
	require.NoError(t, err)

	var snap domain.TaskSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, domain.TaskStatusCompleted, snap.Status)
	assert.Equal(t, "hashes", snap.Service)
	assert.Equal(t, "alice", snap.Username)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", snap.ObjectID)
	require.NotEmpty(t, snap.Results)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", snap.Results[0].Result)
}

func TestRun_PerRunConfig(t *testing.T) {
	path := writeSample(t, "abc")

	out, err := execute(t, "run", "hashes", "--file", path, "--mode", "local",
		"--set", "algorithms=2", "--set", "entropy=false")
	require.NoError(t, err)

	var snap domain.TaskSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Len(t, snap.Results, 1)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", snap.Results[0].Result)
}

func TestRun_MisconfiguredService(t *testing.T) {
	path := writeSample(t, "abc")

	_, err := execute(t, "run", "pattern", "--file", path, "--mode", "local")
	var cfgErr *domain.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRun_UnknownService(t *testing.T) {
	path := writeSample(t, "abc")
	_, err := execute(t, "run", "nope", "--file", path)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestTriage_RunsConfiguredServices(t *testing.T) {
	path := writeSample(t, "abc")

	out, err := execute(t, "triage", "--file", path, "--mode", "thread")
	require.NoError(t, err)

	var snaps []domain.TaskSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	services := make([]string, 0, len(snaps))
	for _, s := range snaps {
		services = append(services, s.Service)
		assert.True(t, s.Status.IsTerminal())
	}
	// pattern stays misconfigured until expressions are configured.
	assert.Contains(t, services, "hashes")
	assert.Contains(t, services, "secrets")
	assert.NotContains(t, services, "pattern")
}

func TestServices_PersistInSQLite(t *testing.T) {
	t.Setenv("ANALYSIS_STORAGE_DRIVER", "sqlite")
	t.Setenv("ANALYSIS_STORAGE_SQLITE_PATH", filepath.Join(t.TempDir(), "analysis.db"))

	out, err := execute(t, "services", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "hashes")
	assert.Regexp(t, `pattern\s+1\.0\.0\s+misconfigured`, out)

	_, err = execute(t, "services", "configure", "pattern", "patterns=MZ,PE", "max_matches=5")
	require.NoError(t, err)
	_, err = execute(t, "services", "disable", "warc")
	require.NoError(t, err)

	out, err = execute(t, "services", "show", "pattern")
	require.NoError(t, err)
	assert.Contains(t, out, "available")

	path := writeSample(t, "MZ header")
	out, err = execute(t, "run", "pattern", "--file", path, "--mode", "local")
	require.NoError(t, err)
	var snap domain.TaskSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))

	out, err = execute(t, "task", snap.ID.String())
	require.NoError(t, err)
	var stored domain.TaskSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &stored))
	assert.Equal(t, snap.ID, stored.ID)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
}

func TestParseAssignments(t *testing.T) {
	t.Parallel()

	got, err := parseAssignments([]string{"a=1", "list=x, y", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "list": []string{"x", "y"}, "empty": ""}, got)

	_, err = parseAssignments([]string{"novalue"})
	assert.Error(t, err)
}

func TestObjectFlags_Target(t *testing.T) {
	t.Parallel()

	f := objectFlags{objType: "RawData", attrs: map[string]string{"source": "mail"}}
	_, err := f.target()
	assert.Error(t, err, "id is required without a file")

	f.id = "raw-1"
	target, err := f.target()
	require.NoError(t, err)
	assert.Equal(t, "raw-1", target.ID())
	assert.Equal(t, "mail", target.Attr("source"))
	assert.Nil(t, target.Data)
}
