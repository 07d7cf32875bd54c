// Package gitrepo keeps one git repository per project holding the accepted
// content of its sections. Every accepted revision is a commit on main.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"akademik/api/internal/diff"
	"akademik/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	snapshotFile = "project.json"
	mainBranch   = "main"
)

// ErrNoArchive is returned when a project has no repository yet.
var ErrNoArchive = errors.New("project has no revision archive")

type SectionSnapshot struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
	Content string `json:"content"`
}

// Snapshot is the archived state of a project at one commit.
type Snapshot struct {
	ProjectTitle string            `json:"projectTitle"`
	Sections     []SectionSnapshot `json:"sections"`
}

func (s Snapshot) Section(id string) (SectionSnapshot, bool) {
	for _, sec := range s.Sections {
		if sec.ID == id {
			return sec, true
		}
	}
	return SectionSnapshot{}, false
}

func (s *Snapshot) upsert(section SectionSnapshot) {
	replaced := false
	for i := range s.Sections {
		if s.Sections[i].ID == section.ID {
			s.Sections[i] = section
			replaced = true
			break
		}
	}
	if !replaced {
		s.Sections = append(s.Sections, section)
	}
	sort.SliceStable(s.Sections, func(i, j int) bool {
		if s.Sections[i].Order != s.Sections[j].Order {
			return s.Sections[i].Order < s.Sections[j].Order
		}
		return s.Sections[i].ID < s.Sections[j].ID
	})
}

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

// EnsureProjectRepo creates the repository with an initial snapshot commit.
// It is a no-op when the repository already exists.
func (s *Service) EnsureProjectRepo(projectID string, initial Snapshot, author string) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.ensureRepo(projectID, initial, author)
	return err
}

func (s *Service) ensureRepo(projectID string, initial Snapshot, author string) (*git.Repository, error) {
	path := s.repoPath(projectID)
	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, fmt.Errorf("open repo: %w", err)
		}
		return repo, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	if err := writeSnapshot(path, initial); err != nil {
		return nil, err
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return nil, fmt.Errorf("git add initial snapshot: %w", err)
	}
	hash, err := worktree.Commit("Proje oluşturuldu", &git.CommitOptions{Author: signature(author)})
	if err != nil {
		return nil, fmt.Errorf("commit initial snapshot: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
		return nil, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

// CommitSection records the accepted content of one section. A missing
// repository is created first with an empty snapshot.
func (s *Service) CommitSection(projectID, projectTitle string, section SectionSnapshot, author, message string) (store.CommitInfo, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(projectID, Snapshot{ProjectTitle: projectTitle}, author)
	if err != nil {
		return store.CommitInfo{}, err
	}

	head, err := headCommit(repo)
	if err != nil {
		return store.CommitInfo{}, err
	}
	snapshot, err := readSnapshot(head)
	if err != nil {
		return store.CommitInfo{}, err
	}
	before := snapshot

	if projectTitle != "" {
		snapshot.ProjectTitle = projectTitle
	}
	snapshot.Sections = append([]SectionSnapshot(nil), snapshot.Sections...)
	snapshot.upsert(section)

	hash, err := s.commit(repo, snapshot, author, message)
	if err != nil {
		return store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj, summarize(before, snapshot)), nil
}

// History lists commits on main, newest first, each with the number of
// characters inserted and deleted relative to its parent.
func (s *Service) History(projectID string, limit int) ([]store.CommitInfo, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openRepo(projectID)
	if errors.Is(err, ErrNoArchive) {
		return []store.CommitInfo{}, nil
	}
	if err != nil {
		return nil, err
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

	items := make([]store.CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		current, err := readSnapshot(commitObj)
		if err != nil {
			return err
		}
		var previous Snapshot
		if commitObj.NumParents() > 0 {
			parent, err := commitObj.Parent(0)
			if err != nil {
				return fmt.Errorf("load parent of %s: %w", commitObj.Hash, err)
			}
			if previous, err = readSnapshot(parent); err != nil {
				return err
			}
		}
		items = append(items, toCommitInfo(commitObj, summarize(previous, current)))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt returns the archived project state at a full or abbreviated
// commit hash.
func (s *Service) SnapshotAt(projectID, hash string) (Snapshot, store.CommitInfo, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openRepo(projectID)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	snapshot, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	return snapshot, toCommitInfo(commitObj, diff.Summary{}), nil
}

// DeleteProject removes a project's repository from disk.
func (s *Service) DeleteProject(projectID string) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(projectID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) openRepo(projectID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoArchive
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID)
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[projectID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, snapshot Snapshot, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(mainBranch), Force: true}); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("checkout %s: %w", mainBranch, err)
	}

	if err := writeSnapshot(worktree.Filesystem.Root(), snapshot); err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}

	// Re-accepting identical content still records the acceptance.
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

func writeSnapshot(dir string, snapshot Snapshot) error {
	if snapshot.Sections == nil {
		snapshot.Sections = []SectionSnapshot{}
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	return nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

// summarize totals the character changes of every section between two
// snapshots. Sections missing on one side count as empty.
func summarize(from, to Snapshot) diff.Summary {
	var total diff.Summary
	seen := make(map[string]bool, len(to.Sections))
	for _, sec := range to.Sections {
		seen[sec.ID] = true
		before, _ := from.Section(sec.ID)
		sum := diff.Summarize(diff.Compute(before.Content, sec.Content))
		total.Inserted += sum.Inserted
		total.Deleted += sum.Deleted
	}
	for _, sec := range from.Sections {
		if seen[sec.ID] {
			continue
		}
		total.Deleted += diff.Summarize(diff.Compute(sec.Content, "")).Deleted
	}
	return total
}

func toCommitInfo(commitObj *object.Commit, sum diff.Summary) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
		Added:     sum.Inserted,
		Removed:   sum.Deleted,
	}
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@akademik.local", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
