// ABOUTME: Tests for board-cli profile resolution and rendering helpers
// ABOUTME: Profiles are written to temp dirs; environment is isolated with t.Setenv

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/board-gateway/internal/store"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("BOARD_URL", "")
	t.Setenv("BOARD_TOKEN", "")
	t.Setenv("BOARD_PROJECT", "")
	return dir
}

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadProfile_Missing(t *testing.T) {
	p, err := LoadProfile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Empty(t, p.Gateway.URL)
}

func TestLoadProfile_Invalid(t *testing.T) {
	_, err := LoadProfile(writeProfile(t, "[gateway\nurl ="))
	assert.Error(t, err)
}

func TestResolve_ProfileAndEnvExpansion(t *testing.T) {
	isolateEnv(t)
	t.Setenv("MY_BOARD_TOKEN", "secret")

	p, err := LoadProfile(writeProfile(t, `
[gateway]
url = "wss://boards.example.ts.net/ws"

[auth]
token = "${MY_BOARD_TOKEN}"

[board]
project = "proj-1"
revert_delay = "1s"
wait = "3s"
`))
	require.NoError(t, err)

	s, err := p.Resolve(Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "wss://boards.example.ts.net/ws", s.URL)
	assert.Equal(t, "secret", s.Token)
	assert.Equal(t, "proj-1", s.Project)
	assert.Equal(t, time.Second, s.RevertDelay)
	assert.Equal(t, 10*time.Second, s.PendingTimeout)
	assert.Equal(t, 3*time.Second, s.Wait)
}

func TestResolve_Precedence(t *testing.T) {
	isolateEnv(t)
	p := &Profile{Board: BoardProfile{Project: "from-profile"}, Auth: AuthProfile{Token: "profile-token"}}

	t.Setenv("BOARD_PROJECT", "from-env")
	s, err := p.Resolve(Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.Project)
	assert.Equal(t, "ws://localhost:8080/ws", s.URL)

	s, err = p.Resolve(Overrides{Project: "from-flag", Token: "flag-token"})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", s.Project)
	assert.Equal(t, "flag-token", s.Token)
}

func TestResolve_TokenFile(t *testing.T) {
	dir := isolateEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "board"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "board", "token"), []byte("file-token\n"), 0o600))

	s, err := (&Profile{}).Resolve(Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "file-token", s.Token)
}

func TestResolve_Errors(t *testing.T) {
	isolateEnv(t)

	_, err := (&Profile{}).Resolve(Overrides{URL: "http://localhost:8080/ws"})
	assert.ErrorContains(t, err, "ws or wss")

	_, err = (&Profile{Board: BoardProfile{Wait: "soon"}}).Resolve(Overrides{})
	assert.ErrorContains(t, err, "board.wait")

	_, err = (&Profile{Board: BoardProfile{RevertDelay: "-1s"}}).Resolve(Overrides{})
	assert.ErrorContains(t, err, "must not be negative")
}

func TestResolveColumn(t *testing.T) {
	cols := []store.Container{
		{UUID: "c1", Name: "Backlog"},
		{UUID: "c2", Name: "Doing"},
		{UUID: "c3", Name: "doing"},
	}

	c, err := resolveColumn(cols, "backlog")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.UUID)

	c, err = resolveColumn(cols, "c3")
	require.NoError(t, err)
	assert.Equal(t, "doing", c.Name)

	_, err = resolveColumn(cols, "Doing")
	assert.ErrorContains(t, err, "ambiguous")
	_, err = resolveColumn(cols, "Done")
	assert.ErrorContains(t, err, "no column")
}

func TestResolveTask(t *testing.T) {
	tasks := []store.Task{{UUID: "t1", Name: "Write"}, {UUID: "t2", Name: "Review"}}

	got, err := resolveTask(tasks, "review")
	require.NoError(t, err)
	assert.Equal(t, "t2", got.UUID)

	_, err = resolveTask(tasks, "Ship")
	assert.ErrorContains(t, err, "no task")
}

func TestPrintBoard(t *testing.T) {
	due := time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC)
	cols := []store.Container{{UUID: "c1", Name: "Backlog", Order: 1, State: store.ContainerCreating}}
	tasks := []store.Task{{UUID: "t1", ContainerUUID: "c1", Name: "Write", Importance: store.ImportanceHigh, DueDate: due}}

	var pretty bytes.Buffer
	require.NoError(t, printBoard(&pretty, "board-1", cols, tasks, true))
	assert.Contains(t, pretty.String(), "Backlog")
	assert.Contains(t, pretty.String(), "saving")
	assert.Contains(t, pretty.String(), "Write")
	assert.Contains(t, pretty.String(), "2026-11-30")

	var raw bytes.Buffer
	require.NoError(t, printBoard(&raw, "board-1", cols, tasks, false))
	assert.Contains(t, raw.String(), `"board_key": "board-1"`)
}

func TestPrintTaskDetail(t *testing.T) {
	assignee := "Gus"
	hours := 2.5
	d := store.TaskDetail{
		Task:           store.Task{UUID: "t1", Name: "Write", Status: "To Do", Importance: store.ImportanceLow, EstimatedHours: &hours, Labels: []string{"docs"}},
		CreatedByName:  "Mira",
		AssignedToName: &assignee,
	}

	var buf bytes.Buffer
	require.NoError(t, printTaskDetail(&buf, d, true))
	out := buf.String()
	assert.Contains(t, out, "Mira")
	assert.Contains(t, out, "Gus")
	assert.Contains(t, out, "2.5h")
	assert.Contains(t, out, "docs")
}
