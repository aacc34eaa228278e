package rail

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/autopatch-dev/autopatch/internal/findings"
	sharedErrors "github.com/autopatch-dev/autopatch/pkg/shared/errors"
)

// maxVerifyOutput bounds how much command output is kept for reporting.
const maxVerifyOutput = 8 * 1024

// Verify applies the batch to a scratch copy of the repository and runs the
// configured test command there. The working tree is never touched. A
// non-zero exit returns VerificationFailedError with the command output.
func (r *Rail) Verify(ctx context.Context, repoPath string, patches []findings.Patch) error {
	if !r.cfg.TestBeforeCommit || r.cfg.TestCommand == "" {
		return nil
	}

	scratch, err := os.MkdirTemp("", "autopatch-verify-*")
	if err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := copyTree(repoPath, scratch); err != nil {
		return fmt.Errorf("failed to populate scratch copy: %w", err)
	}
	if err := applyToTree(scratch, patches); err != nil {
		return err
	}

	// The command runs through the shell so quoted arguments survive,
	// e.g. pytest -k 'not slow'.
	cmd := exec.CommandContext(ctx, "sh", "-c", r.cfg.TestCommand)
	cmd.Dir = scratch
	out, err := cmd.CombinedOutput()
	if len(out) > maxVerifyOutput {
		out = out[len(out)-maxVerifyOutput:]
	}
	if err != nil {
		r.record(Decision{Rule: "verification", Allowed: false, Detail: r.cfg.TestCommand})
		return sharedErrors.NewVerificationFailedError(r.cfg.TestCommand, string(out))
	}
	r.record(Decision{Rule: "verification", Allowed: true})
	return nil
}

// applyToTree rewrites the patched files inside root.
func applyToTree(root string, patches []findings.Patch) error {
	byFile := make(map[string][]findings.Patch)
	for _, p := range patches {
		byFile[p.FilePath] = append(byFile[p.FilePath], p)
	}
	for rel, filePatches := range byFile {
		target := filepath.Join(root, filepath.FromSlash(rel))
		raw, err := os.ReadFile(target)
		if err != nil {
			return fmt.Errorf("failed to read %q in scratch copy: %w", rel, err)
		}
		lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
		lines, err = findings.ApplyAll(lines, filePatches)
		if err != nil {
			return fmt.Errorf("failed to apply patches to %q: %w", rel, err)
		}
		content := strings.Join(lines, "\n") + "\n"
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %q in scratch copy: %w", rel, err)
		}
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(p, filepath.Join(dst, rel), info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
