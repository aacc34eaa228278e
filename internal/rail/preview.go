package rail

import (
	"bytes"
	"fmt"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

// RenderPreview produces a unified diff for one patch against the original
// file lines, suitable for fenced diff blocks in comments.
func RenderPreview(original []string, p findings.Patch) (string, error) {
	fd := &diff.FileDiff{
		OrigName: "a/" + p.FilePath,
		NewName:  "b/" + p.FilePath,
	}

	for _, h := range p.Hunks {
		if h.Start < 0 || h.End > len(original) || h.Start > h.End {
			return "", fmt.Errorf("hunk [%d,%d) out of range for %q", h.Start, h.End, p.FilePath)
		}
		var body bytes.Buffer
		for _, line := range original[h.Start:h.End] {
			body.WriteString("-" + line + "\n")
		}
		for _, line := range h.Lines {
			body.WriteString("+" + line + "\n")
		}
		origStart := int32(h.Start + 1)
		if h.End == h.Start {
			// Insertions anchor to the preceding line in unified diff headers.
			origStart = int32(h.Start)
		}
		fd.Hunks = append(fd.Hunks, &diff.Hunk{
			OrigStartLine: origStart,
			OrigLines:     int32(h.End - h.Start),
			NewStartLine:  origStart,
			NewLines:      int32(len(h.Lines)),
			Body:          body.Bytes(),
		})
	}

	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("failed to render diff for %q: %w", p.FilePath, err)
	}
	return string(out), nil
}
