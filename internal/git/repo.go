package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gitsight/go-vcsurl"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/autopatch-dev/autopatch/internal/findings"
	"github.com/autopatch-dev/autopatch/internal/ledger"
	sharedErrors "github.com/autopatch-dev/autopatch/pkg/shared/errors"
	log "github.com/autopatch-dev/autopatch/pkg/shared/logger"
)

// Repository is a checked-out clone of a change request branch.
type Repository struct {
	client *Client
	repo   *gogit.Repository
	Path   string
	Branch string
}

// Clone fetches the branch into targetFolder and checks it out. The clone
// URL is validated up front so malformed webhook payloads fail here rather
// than inside the transport.
func (c *Client) Clone(ctx context.Context, cloneURL, branch, targetFolder string) (*Repository, error) {
	info, err := vcsurl.Parse(cloneURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse clone URL %q: %w", cloneURL, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	output := log.GetLoggerOutput(c.logger)
	c.logger.Debug("cloning repository", "repository", info.Name, "branch", branch, "targetFolder", targetFolder)

	repo, err := gogit.PlainCloneContext(ctx, targetFolder, false, &gogit.CloneOptions{
		Auth:          c.auth,
		URL:           cloneURL,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Progress:      output,
	})
	if err != nil {
		return nil, fmt.Errorf("error occurred during clone: %w", err)
	}

	c.logger.Info("repository cloned", "repository", info.Name, "branch", branch)
	return &Repository{client: c, repo: repo, Path: targetFolder, Branch: branch}, nil
}

// HeadCommit returns the most recent commit on the checked-out branch in the
// form the loop prevention check consumes.
func (r *Repository) HeadCommit() (ledger.HeadCommit, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return ledger.HeadCommit{}, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return ledger.HeadCommit{}, fmt.Errorf("failed to load head commit: %w", err)
	}
	return ledger.HeadCommit{
		SHA:        commit.Hash.String(),
		Message:    commit.Message,
		AuthorName: commit.Author.Name,
	}, nil
}

// ReadFileLines reads a worktree file as lines without terminators.
func (r *Repository) ReadFileLines(relPath string) ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(r.Path, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", relPath, err)
	}
	s := strings.TrimSuffix(string(raw), "\n")
	if s == "" {
		return nil, nil
	}
	return strings.Split(s, "\n"), nil
}

// ChangedFiles lists the paths touched between baseSHA and the branch head.
// Deleted paths are excluded; the pipeline only patches files that still
// exist at head.
func (r *Repository) ChangedFiles(baseSHA string) ([]string, error) {
	headRef, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	headCommit, err := r.repo.CommitObject(headRef.Hash())
	if err != nil {
		return nil, err
	}
	baseCommit, err := r.repo.CommitObject(plumbing.NewHash(baseSHA))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base commit %q: %w", baseSHA, err)
	}

	baseTree, err := baseCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load base tree: %w", err)
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load head tree: %w", err)
	}

	changes, err := baseTree.Diff(headTree)
	if err != nil {
		return nil, fmt.Errorf("failed to compute diff: %w", err)
	}

	var paths []string
	seen := make(map[string]struct{})
	for _, change := range changes {
		path := change.To.Name
		if path == "" {
			// deletion
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}
	return paths, nil
}

// CommitAndPush writes the patched file contents into the worktree, creates
// a single commit carrying the run marker and trailer, and pushes it to the
// branch. A rejected push surfaces as PushRejectedError.
func (r *Repository) CommitAndPush(ctx context.Context, patched map[string][]string, summary, runID string) (string, error) {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("error accessing worktree: %w", err)
	}

	for relPath, lines := range patched {
		target := filepath.Join(r.Path, filepath.FromSlash(relPath))
		content := strings.Join(lines, "\n") + "\n"
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("failed to write %q: %w", relPath, err)
		}
		if _, err := worktree.Add(relPath); err != nil {
			return "", fmt.Errorf("failed to stage %q: %w", relPath, err)
		}
	}

	message := fmt.Sprintf("%s %s\n\n%s %s\n", ledger.CommitMarker, summary, ledger.RunTrailer, runID)
	commitHash, err := worktree.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  ledger.BotLogin,
			Email: ledger.BotLogin + "@users.noreply.github.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	pushCtx, cancel := context.WithTimeout(ctx, r.client.timeout)
	defer cancel()

	if err := r.repo.PushContext(pushCtx, &gogit.PushOptions{
		Auth:     r.client.auth,
		Progress: log.GetLoggerOutput(r.client.logger),
	}); err != nil && err != gogit.NoErrAlreadyUpToDate {
		return "", sharedErrors.NewPushRejectedError(r.Branch, err)
	}

	r.client.logger.Info("fix commit pushed", "branch", r.Branch, "commit", commitHash.String())
	return commitHash.String(), nil
}

// ApplyPatches applies every patch for each file against the current
// worktree contents and returns the patched line sets keyed by path. The
// worktree itself is untouched until CommitAndPush.
func (r *Repository) ApplyPatches(patches []findings.Patch) (map[string][]string, error) {
	byFile := make(map[string][]findings.Patch)
	for _, p := range patches {
		byFile[p.FilePath] = append(byFile[p.FilePath], p)
	}

	patched := make(map[string][]string, len(byFile))
	for relPath, filePatches := range byFile {
		lines, err := r.ReadFileLines(relPath)
		if err != nil {
			return nil, err
		}
		lines, err = findings.ApplyAll(lines, filePatches)
		if err != nil {
			return nil, fmt.Errorf("failed to apply patches to %q: %w", relPath, err)
		}
		patched[relPath] = lines
	}
	return patched, nil
}
