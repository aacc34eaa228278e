package ledger

import "strings"

// Commit markers used to recognize our own pushes. Every commit the
// pipeline creates carries the subject prefix and the run trailer.
const (
	CommitMarker = "[autopatch]"
	RunTrailer   = "Autopatch-Run:"
	BotLogin     = "autopatch-bot"
)

// HeadCommit is the minimal view of the most recent commit on a change
// request head, as reported by the hosting provider.
type HeadCommit struct {
	SHA         string
	Message     string
	AuthorLogin string
	AuthorName  string
}

// IsOwnCommit reports whether the head commit was produced by the pipeline
// itself. Only the most recent commit is consulted: a human commit on top of
// a bot commit re-opens the change request for fixing.
func IsOwnCommit(c HeadCommit) bool {
	if strings.HasPrefix(strings.TrimSpace(c.Message), CommitMarker) {
		return true
	}
	if strings.Contains(c.Message, RunTrailer) {
		return true
	}
	login := strings.ToLower(c.AuthorLogin)
	name := strings.ToLower(c.AuthorName)
	return login == BotLogin || name == BotLogin
}
