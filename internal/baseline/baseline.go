// Package baseline persists the set of finding fingerprints that predate
// adoption. Findings matching the baseline are suppressed until the snapshot
// expires, so the first run against a legacy codebase does not flood it with
// fixes.
package baseline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

// SnapshotFileName is the snapshot location at the repository root.
const SnapshotFileName = ".autopatch-baseline.json"

// Snapshot records the fingerprints present at a known-good commit.
type Snapshot struct {
	Commit       string    `json:"commit"`
	CreatedAt    time.Time `json:"created_at"`
	Fingerprints []string  `json:"fingerprints"`

	index map[string]struct{}
}

// New builds a snapshot from the findings present at the given commit.
func New(commit string, fs []findings.Finding, now time.Time) *Snapshot {
	s := &Snapshot{
		Commit:    commit,
		CreatedAt: now.UTC(),
		index:     make(map[string]struct{}),
	}
	for _, f := range fs {
		fp := f.Fingerprint()
		if _, seen := s.index[fp]; seen {
			continue
		}
		s.index[fp] = struct{}{}
		s.Fingerprints = append(s.Fingerprints, fp)
	}
	return s
}

// Load reads the snapshot file from the repository root. A missing file
// yields (nil, nil): no baseline means nothing is suppressed.
func Load(repoPath string) (*Snapshot, error) {
	raw, err := os.ReadFile(filepath.Join(repoPath, SnapshotFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read baseline snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse baseline snapshot: %w", err)
	}
	s.index = make(map[string]struct{}, len(s.Fingerprints))
	for _, fp := range s.Fingerprints {
		s.index[fp] = struct{}{}
	}
	return &s, nil
}

// Save writes the snapshot to the repository root.
func (s *Snapshot) Save(repoPath string) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode baseline snapshot: %w", err)
	}
	path := filepath.Join(repoPath, SnapshotFileName)
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write baseline snapshot: %w", err)
	}
	return nil
}

// Contains reports whether the finding's fingerprint is part of the baseline.
func (s *Snapshot) Contains(f findings.Finding) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[f.Fingerprint()]
	return ok
}

// Expired reports whether the snapshot is older than maxAgeDays. A zero
// maxAgeDays means the snapshot never expires.
func (s *Snapshot) Expired(now time.Time, maxAgeDays int) bool {
	if s == nil || maxAgeDays <= 0 {
		return false
	}
	return now.Sub(s.CreatedAt) > time.Duration(maxAgeDays)*24*time.Hour
}
