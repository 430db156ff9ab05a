// Package git maintains one mirror clone per project and materializes
// detached working checkouts from it. Callers serialize access to a mirror
// with the project's lock.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	samson "github.com/zendesk/samson-sub001"
)

// Repository is the cached mirror of a project's repository.
type Repository struct {
	// URL is the remote to mirror.
	URL string
	// Path is the mirror directory.
	Path string
	// Binary is the git executable. Defaults to "git".
	Binary string
}

// New returns the Repository for projectID cached under cacheDir.
func New(url, cacheDir, projectID string) *Repository {
	return &Repository{
		URL:    url,
		Path:   filepath.Join(cacheDir, projectID+".git"),
		Binary: "git",
	}
}

// Exists reports whether the mirror has been cloned.
func (r *Repository) Exists() bool {
	_, err := os.Stat(filepath.Join(r.Path, "HEAD"))
	return err == nil
}

// Update clones the mirror on first use and fetches it afterwards. git's
// progress output goes to out.
func (r *Repository) Update(ctx context.Context, out io.Writer) error {
	if r.Exists() {
		if err := r.run(ctx, out, "-C", r.Path, "fetch", "--prune", "--tags", "origin"); err != nil {
			return fmt.Errorf("git: fetch %s: %w", r.URL, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o755); err != nil {
		return fmt.Errorf("git: create cache dir: %w", err)
	}
	if err := r.run(ctx, out, "clone", "--mirror", "--", r.URL, r.Path); err != nil {
		_ = os.RemoveAll(r.Path)
		return fmt.Errorf("git: clone %s: %w", r.URL, err)
	}
	return nil
}

// Resolve returns the commit ref points to and, when one points exactly at
// that commit, a tag name. Unknown references yield
// samson.ErrReferenceNotFound.
func (r *Repository) Resolve(ctx context.Context, ref string) (commit, tag string, err error) {
	if ref == "" || strings.HasPrefix(ref, "-") {
		return "", "", fmt.Errorf("git: invalid reference %q: %w", ref, samson.ErrReferenceNotFound)
	}
	commit, err = r.output(ctx, "-C", r.Path, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return "", "", fmt.Errorf("git: resolve %q: %w", ref, samson.ErrReferenceNotFound)
	}
	// No exact tag is not an error.
	tag, _ = r.output(ctx, "-C", r.Path, "describe", "--tags", "--exact-match", commit)
	return commit, tag, nil
}

// Checkout materializes a detached worktree of commit at dir.
func (r *Repository) Checkout(ctx context.Context, dir, commit string, out io.Writer) error {
	_ = r.run(ctx, io.Discard, "-C", r.Path, "worktree", "prune")
	if err := r.run(ctx, out, "-C", r.Path, "worktree", "add", "--force", "--detach", dir, commit); err != nil {
		return fmt.Errorf("git: checkout %s: %w", commit, err)
	}
	return nil
}

// RemoveCheckout deletes a worktree created by Checkout.
func (r *Repository) RemoveCheckout(ctx context.Context, dir string) error {
	if err := r.run(ctx, io.Discard, "-C", r.Path, "worktree", "remove", "--force", dir); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return errors.Join(err, rmErr)
		}
		_ = r.run(ctx, io.Discard, "-C", r.Path, "worktree", "prune")
	}
	return nil
}

func (r *Repository) binary() string {
	if r.Binary == "" {
		return "git"
	}
	return r.Binary
}

func (r *Repository) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.binary(), args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd
}

func (r *Repository) run(ctx context.Context, out io.Writer, args ...string) error {
	cmd := r.command(ctx, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

func (r *Repository) output(ctx context.Context, args ...string) (string, error) {
	var stdout bytes.Buffer
	cmd := r.command(ctx, args...)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}
