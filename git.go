package main

import (
	"fmt"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitService lists files tracked by a repository so `scan --git` skips build output
// and vendored trees that are not committed.
type GitService struct{}

// Open an existing repo, searching parent directories for .git.
func (g *GitService) Open(path string) (*git.Repository, string, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, "", err
	}
	w, err := repo.Worktree()
	if err != nil {
		return nil, "", fmt.Errorf("repository has no worktree: %w", err)
	}
	return repo, w.Filesystem.Root(), nil
}

// TrackedFiles returns absolute paths of the files at HEAD whose base name matches pattern.
func (g *GitService) TrackedFiles(repo *git.Repository, root, pattern string) ([]string, error) {
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	var out []string
	err = tree.Files().ForEach(func(f *object.File) error {
		ok, err := filepath.Match(pattern, filepath.Base(f.Name))
		if err != nil {
			return err
		}
		if ok {
			out = append(out, filepath.Join(root, filepath.FromSlash(f.Name)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
