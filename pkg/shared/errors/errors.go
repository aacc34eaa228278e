package errors

import "fmt"

// IngestionRejectedError is fatal to a run before any pipeline work: bad
// signature, disallowed event, replayed delivery, or a rate-limited key.
type IngestionRejectedError struct {
	Reason string
}

func (e *IngestionRejectedError) Error() string {
	return fmt.Sprintf("ingestion rejected: %s", e.Reason)
}

// NewIngestionRejectedError creates a new IngestionRejectedError instance.
func NewIngestionRejectedError(reason string) error {
	return &IngestionRejectedError{Reason: reason}
}

// ScannerUnavailableError indicates the scanner collaborator could not
// produce findings for a run.
type ScannerUnavailableError struct {
	Cause error
}

func (e *ScannerUnavailableError) Error() string {
	return fmt.Sprintf("scanner unavailable: %v", e.Cause)
}

func (e *ScannerUnavailableError) Unwrap() error { return e.Cause }

// NewScannerUnavailableError wraps a scanner invocation failure.
func NewScannerUnavailableError(cause error) error {
	return &ScannerUnavailableError{Cause: cause}
}

// DiffBudgetError rejects the whole batch when aggregate size exceeds
// configured ceilings.
type DiffBudgetError struct {
	TotalLines   int
	FilesTouched int
	MaxLines     int
	MaxFiles     int
}

func (e *DiffBudgetError) Error() string {
	return fmt.Sprintf("diff budget exceeded: %d lines across %d files (limits: %d lines, %d files)",
		e.TotalLines, e.FilesTouched, e.MaxLines, e.MaxFiles)
}

// NewDiffBudgetError creates a new DiffBudgetError instance.
func NewDiffBudgetError(totalLines, filesTouched, maxLines, maxFiles int) error {
	return &DiffBudgetError{
		TotalLines:   totalLines,
		FilesTouched: filesTouched,
		MaxLines:     maxLines,
		MaxFiles:     maxFiles,
	}
}

// VerificationFailedError rejects the batch when the pre-commit verification
// command exits non-zero on a scratch copy.
type VerificationFailedError struct {
	Command string
	Output  string
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("verification command %q failed: %s", e.Command, e.Output)
}

// NewVerificationFailedError creates a new VerificationFailedError instance.
func NewVerificationFailedError(command, output string) error {
	return &VerificationFailedError{Command: command, Output: output}
}

// PushRejectedError is raised when the hosting service refuses the fix
// commit, e.g. branch protection. It must surface as an actionable comment.
type PushRejectedError struct {
	Branch string
	Cause  error
}

func (e *PushRejectedError) Error() string {
	return fmt.Sprintf("push to %q rejected: %v", e.Branch, e.Cause)
}

func (e *PushRejectedError) Unwrap() error { return e.Cause }

// NewPushRejectedError wraps a push failure for the given branch.
func NewPushRejectedError(branch string, cause error) error {
	return &PushRejectedError{Branch: branch, Cause: cause}
}

// UnparseableSourceError marks a single file whose findings are skipped while
// the rest of the run continues.
type UnparseableSourceError struct {
	Path  string
	Cause error
}

func (e *UnparseableSourceError) Error() string {
	return fmt.Sprintf("unparseable source %q: %v", e.Path, e.Cause)
}

func (e *UnparseableSourceError) Unwrap() error { return e.Cause }

// NewUnparseableSourceError wraps a parse failure for one file.
func NewUnparseableSourceError(path string, cause error) error {
	return &UnparseableSourceError{Path: path, Cause: cause}
}
