package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v47/github"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// apiRate bounds hosting API calls. GitHub's secondary limits punish bursts
// from bots, so reporting paces itself instead of retrying after 403s.
var apiRate = rate.Limit(2)

// GitHubReporter publishes comments and statuses through the GitHub API.
type GitHubReporter struct {
	client  *github.Client
	limiter *rate.Limiter
	logger  hclog.Logger
}

// NewGitHubReporter builds a reporter authenticated with a token. baseURL
// overrides the API endpoint for GitHub Enterprise; empty means github.com.
func NewGitHubReporter(ctx context.Context, token, baseURL string, logger hclog.Logger) (*GitHubReporter, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)

	client := github.NewClient(httpClient)
	if baseURL != "" {
		var err error
		client, err = github.NewEnterpriseClient(baseURL, baseURL, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to build enterprise client for %q: %w", baseURL, err)
		}
	}

	return &GitHubReporter{
		client:  client,
		limiter: rate.NewLimiter(apiRate, 4),
		logger:  logger,
	}, nil
}

func (r *GitHubReporter) UpsertComment(ctx context.Context, target Target, body string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	marker := CommentMarkerFor(target.HeadSHA)
	existing, err := r.findComment(ctx, target, marker)
	if err != nil {
		return err
	}

	if existing != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		_, _, err = r.client.Issues.EditComment(ctx, target.Owner, target.Repo, existing.GetID(), &github.IssueComment{Body: &body})
		if err != nil {
			return fmt.Errorf("failed to update comment %d: %w", existing.GetID(), err)
		}
		r.logger.Debug("updated existing run comment", "comment_id", existing.GetID(), "head", target.HeadSHA)
		return nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	_, _, err = r.client.Issues.CreateComment(ctx, target.Owner, target.Repo, target.ChangeRequest, &github.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("failed to create comment on #%d: %w", target.ChangeRequest, err)
	}
	r.logger.Debug("created run comment", "change_request", target.ChangeRequest, "head", target.HeadSHA)
	return nil
}

func (r *GitHubReporter) findComment(ctx context.Context, target Target, marker string) (*github.IssueComment, error) {
	opt := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := r.client.Issues.ListComments(ctx, target.Owner, target.Repo, target.ChangeRequest, opt)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments on #%d: %w", target.ChangeRequest, err)
		}
		for _, c := range comments {
			if strings.Contains(c.GetBody(), marker) {
				return c, nil
			}
		}
		if resp.NextPage == 0 {
			return nil, nil
		}
		opt.Page = resp.NextPage
	}
}

func (r *GitHubReporter) SetStatus(ctx context.Context, target Target, status Status, description string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	state := string(status)
	statusContext := StatusContext
	_, _, err := r.client.Repositories.CreateStatus(ctx, target.Owner, target.Repo, target.HeadSHA, &github.RepoStatus{
		State:       &state,
		Context:     &statusContext,
		Description: &description,
	})
	if err != nil {
		return fmt.Errorf("failed to set commit status on %s: %w", target.HeadSHA, err)
	}
	return nil
}
