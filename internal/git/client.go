// Package git owns every interaction with the target repository clone:
// fetching the change request branch, reading file contents at head,
// applying patch batches to the worktree, and pushing the fix commit.
package git

import (
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/hashicorp/go-hclog"
)

const defaultTimeout = 10 * time.Minute

// Client carries authentication and limits shared by repository operations.
type Client struct {
	logger  hclog.Logger
	auth    transport.AuthMethod
	timeout time.Duration
}

// NewClient builds a Client using token authentication over HTTPS. An empty
// token produces an unauthenticated client for public repositories.
func NewClient(logger hclog.Logger, token string, timeout time.Duration) *Client {
	var auth transport.AuthMethod
	if token != "" {
		auth = &http.BasicAuth{
			Username: "x-access-token",
			Password: token,
		}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{logger: logger, auth: auth, timeout: timeout}
}
