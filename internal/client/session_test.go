// ABOUTME: End-to-end tests for the board client session
// ABOUTME: Runs sessions against a real gateway handler on httptest

package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/board-gateway/internal/config"
	"github.com/2389/board-gateway/internal/gateway"
	"github.com/2389/board-gateway/internal/protocol"
	"github.com/2389/board-gateway/internal/reconciler"
	"github.com/2389/board-gateway/internal/store"
)

const (
	testBoard   = "board-1"
	testProject = "proj-1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startGateway serves a gateway with one member and one guest.
func startGateway(t *testing.T) string {
	t.Helper()

	cfg, err := config.Parse([]byte(`
server:
  http_addr: "127.0.0.1:0"
database:
  path: "` + filepath.Join(t.TempDir(), "board.db") + `"
`))
	require.NoError(t, err)

	gw, err := gateway.New(cfg, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	s := gw.Store()
	for _, u := range []struct {
		id, name, token string
		role            store.RoleName
	}{
		{"u-member", "Mira", "member-token", store.RoleMember},
		{"u-guest", "Gus", "guest-token", store.RoleGuest},
	} {
		require.NoError(t, s.CreateUser(ctx, &store.User{ID: u.id, DisplayName: u.name}))
		require.NoError(t, s.CreateSession(ctx, u.token, u.id, time.Now().Add(time.Hour)))
		require.NoError(t, s.SetMembership(ctx, &store.Membership{
			ProjectScope: testProject,
			UserID:       u.id,
			Role:         u.role,
			Active:       true,
		}))
	}

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = gw.Shutdown(context.Background())
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type rejections struct {
	mu       sync.Mutex
	messages []string
}

func (r *rejections) add(_ reconciler.PendingOperation, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *rejections) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// open dials and runs a session until the test ends.
func open(t *testing.T, url, token string, rejected *rejections) *Session {
	t.Helper()

	cfg := Config{
		URL:            url,
		Token:          token,
		ProjectScope:   testProject,
		BoardKey:       testBoard,
		RevertDelay:    10 * time.Millisecond,
		PendingTimeout: 5 * time.Second,
		SweepInterval:  50 * time.Millisecond,
		Logger:         testLogger(),
	}
	if rejected != nil {
		cfg.OnReject = rejected.add
	}

	ctx, cancel := context.WithCancel(context.Background())
	s, err := Dial(ctx, cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("session never loaded a snapshot")
	}
	return s
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
}

func TestDial_Validation(t *testing.T) {
	_, err := Dial(context.Background(), Config{BoardKey: testBoard})
	assert.Error(t, err)
	_, err = Dial(context.Background(), Config{URL: "ws://127.0.0.1:1/ws"})
	assert.Error(t, err)
}

func TestSession_CreateContainerReachesEveryone(t *testing.T) {
	url := startGateway(t)
	alice := open(t, url, "member-token", nil)
	bob := open(t, url, "", nil)

	c, op, err := alice.CreateContainer(context.Background(), "Backlog")
	require.NoError(t, err)
	require.NoError(t, op.Wait(context.Background()))
	assert.Equal(t, store.ContainerCreating, c.State)

	eventually(t, func() bool {
		got, ok := alice.Reconciler().Container(c.UUID)
		return ok && got.State == store.ContainerCreated && len(alice.Reconciler().Pending()) == 0
	})
	eventually(t, func() bool {
		got, ok := bob.Reconciler().Container(c.UUID)
		return ok && got.Name == "Backlog"
	})
	assert.Equal(t, uint64(1), bob.Reconciler().LastSeq())
}

func TestSession_RejectedCreateReverts(t *testing.T) {
	url := startGateway(t)
	var rejected rejections
	guest := open(t, url, "guest-token", &rejected)

	c, op, err := guest.CreateContainer(context.Background(), "Nope")
	require.NoError(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, op.Wait(context.Background()), &reqErr)
	assert.Equal(t, "Permission denied", reqErr.Message)

	eventually(t, func() bool {
		_, ok := guest.Reconciler().Container(c.UUID)
		return !ok
	})
	assert.Equal(t, []string{"Permission denied"}, rejected.list())
}

func TestSession_TasksAndDetail(t *testing.T) {
	url := startGateway(t)
	alice := open(t, url, "member-token", nil)
	bob := open(t, url, "guest-token", nil)
	ctx := context.Background()

	todo, _, err := alice.CreateContainer(ctx, "To do")
	require.NoError(t, err)
	done, _, err := alice.CreateContainer(ctx, "Done")
	require.NoError(t, err)
	eventually(t, func() bool { return len(alice.Reconciler().Pending()) == 0 })

	task, err := alice.CreateTask(ctx, protocol.CreateTaskRequest{
		ContainerUUID: todo.UUID,
		Name:          "Ship it",
		DueDate:       "2026-12-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "u-member", task.CreatedBy)
	assert.Equal(t, store.ImportanceMedium, task.Importance)

	eventually(t, func() bool {
		_, ok := bob.Reconciler().Task(task.UUID)
		return ok
	})

	op, err := alice.MoveTask(ctx, task.UUID, done.UUID)
	require.NoError(t, err)
	require.NoError(t, op.Wait(ctx))
	eventually(t, func() bool {
		got, ok := bob.Reconciler().Task(task.UUID)
		return ok && got.ContainerUUID == done.UUID
	})

	detail, err := bob.TaskDetail(ctx, task.UUID)
	require.NoError(t, err)
	assert.Equal(t, "Mira", detail.CreatedByName)
	assert.Equal(t, done.UUID, detail.Task.ContainerUUID)
}

func TestSession_RequestErrors(t *testing.T) {
	url := startGateway(t)
	s := open(t, url, "member-token", nil)
	ctx := context.Background()

	_, err := s.TaskDetail(ctx, "6f1c9a52-3c1e-4f59-9a43-3a3f5c1d2e10")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "task not found", reqErr.Message)

	_, err = s.CreateTask(ctx, protocol.CreateTaskRequest{
		ContainerUUID: "6f1c9a52-3c1e-4f59-9a43-3a3f5c1d2e10",
		Name:          "Orphan",
		DueDate:       "someday",
	})
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "due_date must be a valid date", reqErr.Message)

	_, err = s.MoveTask(ctx, "missing", "missing")
	assert.ErrorIs(t, err, reconciler.ErrNotFound)
}

func TestSession_ReorderAndDelete(t *testing.T) {
	url := startGateway(t)
	alice := open(t, url, "member-token", nil)
	bob := open(t, url, "", nil)
	ctx := context.Background()

	first, _, err := alice.CreateContainer(ctx, "First")
	require.NoError(t, err)
	second, _, err := alice.CreateContainer(ctx, "Second")
	require.NoError(t, err)
	eventually(t, func() bool { return len(bob.Containers()) == 2 && len(alice.Reconciler().Pending()) == 0 })

	op, err := alice.ReorderContainers(ctx, []string{second.UUID, first.UUID})
	require.NoError(t, err)
	require.NoError(t, op.Wait(ctx))
	eventually(t, func() bool {
		cs := bob.Containers()
		return len(cs) == 2 && cs[0].UUID == second.UUID
	})

	op, err = alice.DeleteContainer(ctx, second.UUID)
	require.NoError(t, err)
	require.NoError(t, op.Wait(ctx))
	eventually(t, func() bool {
		cs := bob.Containers()
		return len(cs) == 1 && cs[0].UUID == first.UUID
	})

	snap, err := bob.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Containers, 1)
	assert.Equal(t, uint64(4), snap.Seq)

	board, err := bob.MarshalBoard()
	require.NoError(t, err)
	assert.Contains(t, string(board), first.UUID)
}
