package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	gitlab "github.com/xanzy/go-gitlab"
	"golang.org/x/time/rate"
)

// GitLabReporter publishes merge request notes and commit statuses.
type GitLabReporter struct {
	client  *gitlab.Client
	limiter *rate.Limiter
	logger  hclog.Logger
}

// NewGitLabReporter builds a reporter authenticated with a token. baseURL
// overrides the API endpoint for self-hosted instances.
func NewGitLabReporter(token, baseURL string, logger hclog.Logger) (*GitLabReporter, error) {
	var opts []gitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build gitlab client: %w", err)
	}
	return &GitLabReporter{
		client:  client,
		limiter: rate.NewLimiter(apiRate, 4),
		logger:  logger,
	}, nil
}

func (r *GitLabReporter) project(target Target) string {
	return target.Owner + "/" + target.Repo
}

func (r *GitLabReporter) UpsertComment(ctx context.Context, target Target, body string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	marker := CommentMarkerFor(target.HeadSHA)
	project := r.project(target)

	opt := &gitlab.ListMergeRequestNotesOptions{ListOptions: gitlab.ListOptions{PerPage: 100}}
	for {
		notes, resp, err := r.client.Notes.ListMergeRequestNotes(project, target.ChangeRequest, opt, gitlab.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("failed to list notes on !%d: %w", target.ChangeRequest, err)
		}
		for _, note := range notes {
			if !strings.Contains(note.Body, marker) {
				continue
			}
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
			_, _, err = r.client.Notes.UpdateMergeRequestNote(project, target.ChangeRequest, note.ID,
				&gitlab.UpdateMergeRequestNoteOptions{Body: &body}, gitlab.WithContext(ctx))
			if err != nil {
				return fmt.Errorf("failed to update note %d: %w", note.ID, err)
			}
			r.logger.Debug("updated existing run note", "note_id", note.ID, "head", target.HeadSHA)
			return nil
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	_, _, err := r.client.Notes.CreateMergeRequestNote(project, target.ChangeRequest,
		&gitlab.CreateMergeRequestNoteOptions{Body: &body}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create note on !%d: %w", target.ChangeRequest, err)
	}
	return nil
}

func (r *GitLabReporter) SetStatus(ctx context.Context, target Target, status Status, description string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	state := gitlab.Success
	switch status {
	case StatusPending:
		state = gitlab.Pending
	case StatusFailure, StatusError:
		state = gitlab.Failed
	}

	name := StatusContext
	_, _, err := r.client.Commits.SetCommitStatus(r.project(target), target.HeadSHA, &gitlab.SetCommitStatusOptions{
		State:       state,
		Name:        &name,
		Description: &description,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to set commit status on %s: %w", target.HeadSHA, err)
	}
	return nil
}
