// Package gitops supplies git context for prompts: working-tree diffs and
// recent history. Diff text comes from the git binary — plumbing output is
// stable and the tool already assumes a developer workstation — while
// repository discovery and the commit log go through go-git.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

const (
	// NoUnstagedChanges and NothingStaged are the sentinel strings callers
	// key off; they are rendered verbatim, never parsed as diffs.
	NoUnstagedChanges = "(no unstaged changes)"
	NothingStaged     = "(nothing staged)"
	noCommits         = "(no commits)"

	gitTimeout = 10 * time.Second
)

// Repo provides diff and log text for one repository. All methods return
// displayable strings: real output, a sentinel, or an "Error: …" line.
type Repo struct {
	dir  string
	repo *git.Repository
}

// Open discovers the repository containing path (walking up, as git does).
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repo at %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}
	return &Repo{dir: wt.Filesystem.Root(), repo: repo}, nil
}

// Root returns the worktree root directory.
func (r *Repo) Root() string { return r.dir }

// UnstagedDiff returns the working tree's unstaged changes.
func (r *Repo) UnstagedDiff() string {
	return r.diff(NoUnstagedChanges)
}

// StagedDiff returns the index's staged changes.
func (r *Repo) StagedDiff() string {
	return r.diff(NothingStaged, "--cached")
}

func (r *Repo) diff(empty string, args ...string) string {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"diff"}, args...)...)
	cmd.Dir = r.dir
	out, err := cmd.Output()
	if err != nil {
		return fmt.Sprintf("Error: git diff: %v", err)
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return empty
	}
	return string(out)
}

// RecentLog returns up to n commits, one "<short-hash> <subject>" per line.
func (r *Repo) RecentLog(n int) string {
	iter, err := r.repo.Log(&git.LogOptions{})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return noCommits
		}
		return fmt.Sprintf("Error: reading log: %v", err)
	}
	defer iter.Close()

	var lines []string
	for len(lines) < n {
		commit, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(commit.Message, "\n")
		lines = append(lines, fmt.Sprintf("%s %s", commit.Hash.String()[:7], subject))
	}
	if len(lines) == 0 {
		return noCommits
	}
	return strings.Join(lines, "\n")
}
