// Package history persists document snapshots as git commits, one
// repository per document. Every committed autosave becomes a commit;
// named versions become tags.
package history

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	contentFile = "content.json"
	stateFile   = "state.json"
	mainBranch  = "main"
)

// CommitInfo describes one save in a document's history.
type CommitInfo struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Service manages per-document snapshot repositories under a base
// directory, serializing access to each with a per-document lock.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureRepo initializes the document's repository with a baseline commit
// of the given snapshot. Existing repositories are left untouched.
func (s *Service) EnsureRepo(documentID string, content, state []byte, author string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := writeSnapshotFiles(path, content, state); err != nil {
		return err
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return fmt.Errorf("git add content: %w", err)
	}
	if _, err := worktree.Add(stateFile); err != nil {
		return fmt.Errorf("git add state: %w", err)
	}
	hash, err := worktree.Commit("Document baseline", &git.CommitOptions{
		Author: signatureFor(author),
	})
	if err != nil {
		return fmt.Errorf("commit baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitSnapshot records a save as a commit on main. The trigger is
// embedded in the commit message so history explains why each save ran.
func (s *Service) CommitSnapshot(documentID string, content, state []byte, trigger, author string) (CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	message := fmt.Sprintf("Autosave\n\ntrigger=%s", trigger)
	hash, err := s.commit(repo, content, state, author, message)
	if err != nil {
		return CommitInfo{}, err
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// HeadSnapshot returns the latest committed content and state.
func (s *Service) HeadSnapshot(documentID string) ([]byte, []byte, CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, nil, CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, nil, CommitInfo{}, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, nil, CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}
	content, state, err := readSnapshotFromCommit(commitObj)
	if err != nil {
		return nil, nil, CommitInfo{}, err
	}
	return content, state, toCommitInfo(commitObj), nil
}

// SnapshotByHash returns the content committed at the given (possibly
// abbreviated) hash.
func (s *Service) SnapshotByHash(documentID, hash string) ([]byte, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	content, _, err := readSnapshotFromCommit(commitObj)
	return content, err
}

// History lists the most recent commits, newest first.
func (s *Service) History(documentID string, limit int) ([]CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// TagVersion marks the head commit as a named version. Re-tagging an
// existing name is a no-op.
func (s *Service) TagVersion(documentID, name string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	_, err = repo.CreateTag(name, ref.Hash(), &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "Redline",
			Email: "redline@localhost",
			When:  time.Now(),
		},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, content, state []byte, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	if err := checkoutMain(repo, worktree); err != nil {
		return plumbing.ZeroHash, err
	}

	repoRoot := worktree.Filesystem.Root()
	if err := writeSnapshotFiles(repoRoot, content, state); err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}
	if _, err := worktree.Add(stateFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add state: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		// The periodic trigger already gates on content equality, but a
		// state-only change may still produce an identical tree.
		AllowEmptyCommits: true,
		Author:            signatureFor(author),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func checkoutMain(repo *git.Repository, worktree *git.Worktree) error {
	branchRef := plumbing.NewBranchReferenceName(mainBranch)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
				return fmt.Errorf("create branch checkout %s: %w", mainBranch, err)
			}
			return nil
		}
		return fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", mainBranch, err)
	}
	return nil
}

func writeSnapshotFiles(dir string, content, state []byte) error {
	if err := os.WriteFile(filepath.Join(dir, contentFile), normalized(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", contentFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, stateFile), normalized(state), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", stateFile, err)
	}
	return nil
}

func normalized(payload []byte) []byte {
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		return append(append([]byte{}, payload...), '\n')
	}
	return payload
}

func readSnapshotFromCommit(commitObj *object.Commit) ([]byte, []byte, error) {
	content, err := readCommitFile(commitObj, contentFile)
	if err != nil {
		return nil, nil, err
	}
	state, err := readCommitFile(commitObj, stateFile)
	if err != nil {
		return nil, nil, err
	}
	return content, state, nil
}

func readCommitFile(commitObj *object.Commit, name string) ([]byte, error) {
	file, err := commitObj.File(name)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", name, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s reader: %w", name, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s bytes: %w", name, err)
	}
	return data, nil
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve revision %s: %w", hash, err)
	}
	return *resolved, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:    commitObj.Hash.String(),
		Message: commitObj.Message,
		Author:  commitObj.Author.Name,
		When:    commitObj.Author.When,
	}
}

func signatureFor(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.redline.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(author string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == '.', r == '-', r == '_':
			return r
		case r == ' ':
			return '.'
		default:
			return -1
		}
	}, author)
	if cleaned == "" {
		return "editor"
	}
	return cleaned
}
