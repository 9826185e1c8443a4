package history

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

var (
	contentV1 = []byte(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"v1"}]}]}`)
	contentV2 = []byte(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"v2"}]}]}`)
	stateV1   = []byte(`{"version":1}`)
	stateV2   = []byte(`{"version":2}`)
)

func TestRepoLifecycle(t *testing.T) {
	svc := New(t.TempDir())

	if err := svc.EnsureRepo("doc-1", contentV1, stateV1, "tester"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}

	commit, err := svc.CommitSnapshot("doc-1", contentV2, stateV2, "user_input", "tester")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if commit.Author != "tester" {
		t.Fatalf("commit author = %q", commit.Author)
	}

	content, state, head, err := svc.HeadSnapshot("doc-1")
	if err != nil {
		t.Fatalf("HeadSnapshot() error = %v", err)
	}
	if head.Hash != commit.Hash {
		t.Fatalf("head hash = %s, want %s", head.Hash, commit.Hash)
	}
	if !bytes.Contains(content, []byte("v2")) {
		t.Fatalf("head content = %s", content)
	}
	if !bytes.Contains(state, []byte(`"version":2`)) {
		t.Fatalf("head state = %s", state)
	}
}

func TestEnsureRepoIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)

	if err := svc.EnsureRepo("doc-1", contentV1, stateV1, "tester"); err != nil {
		t.Fatalf("first EnsureRepo() error = %v", err)
	}
	if _, err := svc.CommitSnapshot("doc-1", contentV2, stateV2, "manual", "tester"); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	// A second ensure must not reset the repo to the seed snapshot.
	if err := svc.EnsureRepo("doc-1", contentV1, stateV1, "tester"); err != nil {
		t.Fatalf("second EnsureRepo() error = %v", err)
	}
	content, _, _, err := svc.HeadSnapshot("doc-1")
	if err != nil {
		t.Fatalf("HeadSnapshot() error = %v", err)
	}
	if !bytes.Contains(content, []byte("v2")) {
		t.Fatalf("ensure reset repo: head content = %s", content)
	}

	if _, err := os.Stat(filepath.Join(dir, "doc-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
}

func TestHistoryListsNewestFirstWithLimit(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("doc-1", contentV1, stateV1, "tester"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}

	var last CommitInfo
	for i := 0; i < 3; i++ {
		commit, err := svc.CommitSnapshot("doc-1", contentV2, stateV2, "periodic", "tester")
		if err != nil {
			t.Fatalf("CommitSnapshot() error = %v", err)
		}
		last = commit
	}

	commits, err := svc.History("doc-1", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("got %d commits, want 2", len(commits))
	}
	if commits[0].Hash != last.Hash {
		t.Fatalf("newest commit = %s, want %s", commits[0].Hash, last.Hash)
	}

	all, err := svc.History("doc-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	// Three snapshot commits plus the baseline.
	if len(all) < 4 {
		t.Fatalf("got %d commits, want at least 4", len(all))
	}
}

func TestSnapshotByHash(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("doc-1", contentV1, stateV1, "tester"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}
	first, err := svc.CommitSnapshot("doc-1", contentV2, stateV2, "manual", "tester")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if _, err := svc.CommitSnapshot("doc-1", contentV1, stateV1, "manual", "tester"); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	content, err := svc.SnapshotByHash("doc-1", first.Hash)
	if err != nil {
		t.Fatalf("SnapshotByHash() error = %v", err)
	}
	if !bytes.Contains(content, []byte("v2")) {
		t.Fatalf("snapshot content = %s", content)
	}

	if _, err := svc.SnapshotByHash("doc-1", "0000000000000000000000000000000000000000"); err == nil {
		t.Fatal("expected error for unknown hash")
	}
}

func TestTagVersion(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("doc-1", contentV1, stateV1, "tester"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}
	if err := svc.TagVersion("doc-1", "draft-1"); err != nil {
		t.Fatalf("TagVersion() error = %v", err)
	}
	// Re-tagging the same name is tolerated.
	if err := svc.TagVersion("doc-1", "draft-1"); err != nil {
		t.Fatalf("repeat TagVersion() error = %v", err)
	}
}

func TestConcurrentCommitsSerialize(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("doc-1", contentV1, stateV1, "tester"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CommitSnapshot("doc-1", contentV2, stateV2, "user_input", "tester"); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent CommitSnapshot() error = %v", err)
	}

	commits, err := svc.History("doc-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(commits) < 9 {
		t.Fatalf("got %d commits, want at least 9", len(commits))
	}
}
