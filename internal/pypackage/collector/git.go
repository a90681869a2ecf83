package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/open-edge-platform/bundlr/internal/utils/archive"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
)

// CloneRepo checks out repoURL at ref (a commit, tag or branch; empty for
// the default branch) into dir.
var CloneRepo = func(repoURL, ref, dir string) error {
	log := logger.Logger()
	log.Infof("cloning %s", repoURL)

	opts := &git.CloneOptions{URL: repoURL}
	if ref == "" {
		opts.Depth = 1
		opts.SingleBranch = true
	}
	repo, err := git.PlainClone(dir, false, opts)
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	if ref == "" {
		return nil
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return fmt.Errorf("resolving %s: %w", ref, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
		return fmt.Errorf("checking out %s: %w", ref, err)
	}
	log.Debugf("checked out %s at %s", repoURL, hash.String())
	return nil
}

// splitGitSource turns "git+https://host/repo.git@ref" into the clone URL
// and the ref.
func splitGitSource(source string) (repoURL, ref string) {
	s := strings.TrimPrefix(source, "git+")
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}
	if at := strings.LastIndex(s, "@"); at > strings.LastIndex(s, "/") {
		return s[:at], s[at+1:]
	}
	return s, ""
}

// sourceFromGit clones the package repository and packs the tree as a
// source archive at dest.
func (c *Collector) sourceFromGit(source, stem, dest string) error {
	repoURL, ref := splitGitSource(source)

	scratch, err := os.MkdirTemp(c.ScratchDir, "git-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	checkout := filepath.Join(scratch, "src")
	if err := CloneRepo(repoURL, ref, checkout); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(checkout, ".git")); err != nil {
		return err
	}
	return archive.CreateTarGz(checkout, dest, stem)
}
