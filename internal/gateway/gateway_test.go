package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flashing/seafile/internal/bus"
	"github.com/flashing/seafile/internal/clone"
	"github.com/flashing/seafile/internal/clone/clonetest"
	"github.com/flashing/seafile/internal/gateway"
	"github.com/flashing/seafile/internal/persistence"
)

var (
	testRepoID = strings.Repeat("a", 36)
	testPeerID = strings.Repeat("b", 40)
)

func startGateway(t *testing.T, token string) (*gateway.Gateway, *clone.Manager, string) {
	t.Helper()
	dir := t.TempDir()

	b := bus.New()
	store, err := persistence.Open(filepath.Join(dir, "clone.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mgr, err := clone.NewManager(clone.Config{
		Store:         store,
		Bus:           b,
		Repos:         clonetest.NewRepoStore(),
		Commits:       clonetest.NewCommits(),
		Branches:      clonetest.NewBranches(),
		Indexes:       &clonetest.Indexes{},
		Merger:        &clonetest.Merger{},
		Indexer:       &clonetest.Indexer{RootID: strings.Repeat("1", 40)},
		Checkout:      &clonetest.Checkout{Bus: b},
		Transfer:      &clonetest.Transfer{Bus: b},
		Peers:         clonetest.NewPeers(),
		CheckInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	mgr.Start(context.Background())
	t.Cleanup(mgr.Stop)

	g := gateway.New(gateway.Config{
		Addr:    "127.0.0.1:0",
		Token:   token,
		Manager: mgr,
	})
	if err := g.Start(); err != nil {
		t.Fatalf("start gateway: %v", err)
	}
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })

	return g, mgr, "http://" + g.Addr()
}

func addTask(t *testing.T, mgr *clone.Manager, dir string) {
	t.Helper()
	_, err := mgr.AddTask(context.Background(), clone.AddTaskRequest{
		RepoID:   testRepoID,
		PeerID:   testPeerID,
		RepoName: "docs",
		Token:    "tok",
		Worktree: filepath.Join(dir, "docs"),
		PeerAddr: "relay.example.com",
		PeerPort: "10001",
		Email:    "user@example.com",
	})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	_, _, base := startGateway(t, "")
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}

func TestListAndGetTasks(t *testing.T) {
	_, mgr, base := startGateway(t, "")
	addTask(t, mgr, t.TempDir())

	resp, err := http.Get(base + "/v1/clone/tasks")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	defer resp.Body.Close()
	var tasks []clone.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 1 || tasks[0].RepoID != testRepoID {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	// The peer is unknown, so the task waits on connectivity.
	if tasks[0].State != "connect" {
		t.Fatalf("unexpected state %q", tasks[0].State)
	}

	resp2, err := http.Get(base + "/v1/clone/tasks/" + testRepoID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("get task status %d", resp2.StatusCode)
	}

	resp3, err := http.Get(base + "/v1/clone/tasks/" + strings.Repeat("9", 36))
	if err != nil {
		t.Fatalf("get missing task: %v", err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task status %d", resp3.StatusCode)
	}
}

func TestCancelEndpoint(t *testing.T) {
	_, mgr, base := startGateway(t, "")
	addTask(t, mgr, t.TempDir())

	req, _ := http.NewRequest(http.MethodPost, base+"/v1/clone/tasks/"+testRepoID+"/cancel", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d", resp.StatusCode)
	}

	snap := mgr.GetTask(testRepoID)
	if snap.State != "canceled" {
		t.Fatalf("expected canceled, got %q", snap.State)
	}

	// Unknown task.
	req2, _ := http.NewRequest(http.MethodPost, base+"/v1/clone/tasks/"+strings.Repeat("9", 36)+"/cancel", nil)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("cancel missing: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel missing status %d", resp2.StatusCode)
	}
}

func TestBearerAuth(t *testing.T) {
	_, _, base := startGateway(t, "sekrit")

	// /healthz stays open.
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	resp2, err := http.Get(base + "/v1/clone/tasks")
	if err != nil {
		t.Fatalf("unauthenticated list: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp2.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/v1/clone/tasks", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated list: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp3.StatusCode)
	}
}
