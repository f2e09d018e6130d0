package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagebuild/internal/ir"
	"github.com/roach88/pagebuild/internal/store"
	"github.com/roach88/pagebuild/internal/testutil"
)

func history(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	cmd := NewHistoryCommand(&RootOptions{Format: format})
	_, buf := newTestCommand()
	cmd.SetOut(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// recordBuilds runs a successful prod build and a failed dev build into db.
func recordBuilds(t *testing.T, db string) {
	t.Helper()
	dir := writeProject(t, projectFiles())
	ids := testutil.NewSequenceIDGenerator("")

	ok := buildOpts(dir, "text", ir.ModeProd)
	ok.Database = db
	ok.IDGenerator = ids
	_, err := runBuildCmd(t, ok)
	require.NoError(t, err)

	failed := buildOpts(dir, "text", ir.ModeDev)
	failed.Database = db
	failed.IDGenerator = ids
	failed.Toolchain = &testutil.FakeToolchain{Code: 1, Stderr: "boom"}
	_, err = runBuildCmd(t, failed)
	require.Error(t, err)
}

func TestHistoryMissingDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "builds.db")

	out, err := history(t, "text", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "database not found")

	_, statErr := os.Stat(db)
	assert.True(t, os.IsNotExist(statErr), "history must not create the database")
}

func TestHistoryRequiresDB(t *testing.T) {
	_, err := history(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")
}

func TestHistoryEmpty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "builds.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := history(t, "text", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No builds recorded")
}

func TestHistoryList(t *testing.T) {
	db := filepath.Join(t.TempDir(), "builds.db")
	recordBuilds(t, db)

	out, err := history(t, "text", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "SEQ")
	assert.Contains(t, out, "build-0001")
	assert.Contains(t, out, "build-0002")
	assert.Contains(t, out, store.StatusSucceeded)
	assert.Contains(t, out, store.StatusFailed)
}

func TestHistoryListJSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "builds.db")
	recordBuilds(t, db)

	out, err := history(t, "json", "--db", db, "--limit", "1")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   []HistoryEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	// Newest first.
	assert.Equal(t, "build-0002", resp.Data[0].ID)
	assert.Equal(t, store.StatusFailed, resp.Data[0].Status)
	require.NotNil(t, resp.Data[0].ExternalExitCode)
	assert.Equal(t, 1, *resp.Data[0].ExternalExitCode)
	assert.NotNil(t, resp.Data[0].FinishedAt)
}

func TestHistoryBuildDetail(t *testing.T) {
	db := filepath.Join(t.TempDir(), "builds.db")
	recordBuilds(t, db)

	out, err := history(t, "text", "--db", db, "--build", "build-0001")
	require.NoError(t, err)
	assert.Contains(t, out, "Build build-0001 (#1)")
	assert.Contains(t, out, "mode:       prod")
	assert.Contains(t, out, "external:   exit 0")
	assert.Contains(t, out, "index.html")

	out, err = history(t, "json", "--db", db, "--build", "build-0001")
	require.NoError(t, err)
	var resp struct {
		Data HistoryEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Data.Files, 6)
}

func TestHistoryUnknownBuild(t *testing.T) {
	db := filepath.Join(t.TempDir(), "builds.db")
	recordBuilds(t, db)

	_, err := history(t, "text", "--db", db, "--build", "build-9999")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "abc", shortHash("abc"))
	assert.Equal(t, "0123456789ab"[:ir.FingerprintLen], shortHash("0123456789abcdef"))
}
