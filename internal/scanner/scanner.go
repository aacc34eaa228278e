// Package scanner is the boundary to the external static analyzer. The
// pipeline never parses source for detection itself; it hands the analyzer a
// file set and consumes the SARIF report it writes.
package scanner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/autopatch-dev/autopatch/internal/sarif"
	sharedErrors "github.com/autopatch-dev/autopatch/pkg/shared/errors"
)

// Scanner produces a SARIF report for a set of files inside a repository.
type Scanner interface {
	Scan(ctx context.Context, repoPath string, files []string) (*sarif.Report, error)
}

// ExecScanner shells out to a configured analyzer command. The command is
// invoked with the target files appended and must write SARIF to the path
// substituted for the {output} placeholder, or to stdout when the template
// carries no placeholder.
type ExecScanner struct {
	// Command is the analyzer invocation template, split on whitespace.
	// Defaults to a semgrep invocation when empty.
	Command string
	Logger  hclog.Logger
}

const defaultCommand = "semgrep scan --config auto --sarif --output {output}"

// Scan runs the analyzer under the caller's context deadline. Analyzer
// start or decode failures surface as ScannerUnavailableError; a non-zero
// exit with a readable report is not an error, scanners signal findings
// that way.
func (s *ExecScanner) Scan(ctx context.Context, repoPath string, files []string) (*sarif.Report, error) {
	command := s.Command
	if command == "" {
		command = defaultCommand
	}

	outDir, err := os.MkdirTemp("", "autopatch-scan-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scan output dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	outPath := filepath.Join(outDir, "report.sarif")

	toStdout := !strings.Contains(command, "{output}")
	command = strings.ReplaceAll(command, "{output}", outPath)

	args := strings.Fields(command)
	args = append(args, files...)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = repoPath

	if toStdout {
		out, err := os.Create(outPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create scan output file: %w", err)
		}
		cmd.Stdout = out
		defer out.Close()
	}

	s.Logger.Debug("running scanner", "command", args[0], "files", len(files))
	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, sharedErrors.NewScannerUnavailableError(ctx.Err())
	}

	report, readErr := sarif.ReadReport(outPath, s.Logger)
	if readErr != nil {
		if runErr != nil {
			return nil, sharedErrors.NewScannerUnavailableError(runErr)
		}
		return nil, sharedErrors.NewScannerUnavailableError(readErr)
	}
	if runErr != nil {
		// Analyzers exit non-zero when findings exist; the report decides.
		s.Logger.Debug("scanner exited non-zero with readable report", "error", runErr)
	}
	return report, nil
}
