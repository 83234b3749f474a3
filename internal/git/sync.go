package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"git.home.luguber.info/inful/coursebuilder/internal/config"
	"git.home.luguber.info/inful/coursebuilder/internal/fsutil"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
)

// Synchronizer brings a course working tree up to date with its origin.
type Synchronizer struct {
	cfg config.GitConfig
}

func NewSynchronizer(cfg config.GitConfig) *Synchronizer {
	return &Synchronizer{cfg: cfg}
}

// Request describes one synchronization.
type Request struct {
	Dir    string
	Origin string // empty: copy LocalSource instead
	Branch string
	// LastCommit is the commit of the last successful build, if any.
	LastCommit  string
	LocalSource string
}

// Result of a synchronization. Changed is meaningful only when Known is true.
type Result struct {
	OK      bool
	Changed []string
	Known   bool
}

// Sync clones or updates req.Dir. Failures are written to log and reported
// through Result.OK; only diagnostics go to the process logger.
func (s *Synchronizer) Sync(ctx context.Context, log *slog.Logger, req Request) Result {
	if req.Origin == "" {
		return syncLocal(log, req)
	}

	if _, err := os.Stat(filepath.Join(req.Dir, ".git")); err != nil {
		if err := s.clone(ctx, req); err != nil {
			log.Error("Failed to clone repository", logfields.URL(req.Origin), logfields.Branch(req.Branch), logfields.Error(err))
			return Result{}
		}
		log.Info("Cloned repository", logfields.URL(req.Origin), logfields.Branch(req.Branch))
		s.logMetadata(log, req.Dir)
		return Result{OK: true}
	}

	if err := s.checkout(ctx, req); err != nil {
		log.Error("Failed to checkout repository", logfields.URL(req.Origin), logfields.Branch(req.Branch), logfields.Error(err))
		return Result{}
	}

	res := Result{OK: true}
	if req.LastCommit != "" {
		changed, err := DiffNames(req.Dir, req.LastCommit)
		if err != nil {
			log.Warn("Could not compute changed files", logfields.Commit(req.LastCommit), logfields.Error(err))
		} else {
			res.Changed, res.Known = changed, true
		}
	}
	s.logMetadata(log, req.Dir)
	return res
}

func (s *Synchronizer) logMetadata(log *slog.Logger, dir string) {
	meta, err := CommitMetadata(dir)
	if err != nil {
		log.Error("Failed to get commit metadata", logfields.Error(err))
		return
	}
	log.Info(meta)
}

func (s *Synchronizer) clone(ctx context.Context, req Request) error {
	if err := os.RemoveAll(req.Dir); err != nil {
		return fmt.Errorf("failed to remove existing directory: %w", err)
	}
	auth, err := authFor(s.cfg, req.Origin)
	if err != nil {
		return err
	}
	opts := &git.CloneOptions{URL: req.Origin, Auth: auth, Tags: git.NoTags}
	if req.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(req.Branch)
		opts.SingleBranch = true
	}
	if _, err := git.PlainCloneContext(ctx, req.Dir, false, opts); err != nil {
		_ = os.RemoveAll(req.Dir)
		return fmt.Errorf("clone %s: %w", req.Origin, err)
	}
	return nil
}

// checkout fetches origin and force-resets the working tree to origin/<branch>.
func (s *Synchronizer) checkout(ctx context.Context, req Request) error {
	repo, err := git.PlainOpen(req.Dir)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	if err := ensureOrigin(repo, req.Origin); err != nil {
		return err
	}
	auth, err := authFor(s.cfg, req.Origin)
	if err != nil {
		return err
	}
	branch := req.Branch
	if branch == "" {
		branch = "master"
	}
	refSpec := ggitcfg.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", branch, branch))
	err = repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin", RefSpecs: []ggitcfg.RefSpec{refSpec}, Auth: auth, Tags: git.NoTags, Force: true})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch: %w", err)
	}
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return fmt.Errorf("remote ref: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	local := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(local, true); err != nil {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(local, remoteRef.Hash())); err != nil {
			return fmt.Errorf("create branch: %w", err)
		}
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: local, Force: true}); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("hard reset: %w", err)
	}
	return nil
}

// ensureOrigin points the origin remote at url, replacing a stale URL.
func ensureOrigin(repo *git.Repository, url string) error {
	remote, err := repo.Remote("origin")
	if err == nil && len(remote.Config().URLs) > 0 && remote.Config().URLs[0] == url {
		return nil
	}
	if err == nil {
		if err := repo.DeleteRemote("origin"); err != nil {
			return fmt.Errorf("delete origin: %w", err)
		}
	}
	if _, err := repo.CreateRemote(&ggitcfg.RemoteConfig{Name: "origin", URLs: []string{url}}); err != nil {
		return fmt.Errorf("create origin: %w", err)
	}
	return nil
}

func syncLocal(log *slog.Logger, req Request) Result {
	if req.LocalSource == "" {
		log.Error("Course has no git origin and no local source directory is configured")
		return Result{}
	}
	if _, err := os.Stat(req.LocalSource); errors.Is(err, fs.ErrNotExist) {
		log.Error("Local course source does not exist", logfields.Path(req.LocalSource))
		return Result{}
	}
	if err := os.RemoveAll(req.Dir); err != nil {
		log.Error("Failed to clear build directory", logfields.Path(req.Dir), logfields.Error(err))
		return Result{}
	}
	if err := fsutil.CopyTree(req.LocalSource, req.Dir, ".git"); err != nil {
		log.Error("Failed to copy local course source", logfields.Path(req.LocalSource), logfields.Error(err))
		return Result{}
	}
	log.Info("Copied course from local source", logfields.Path(req.LocalSource))
	return Result{OK: true}
}
