// Package ingest authenticates and filters incoming webhook deliveries
// before any repository work starts. Signature verification runs over the
// raw body; only allowlisted event/action pairs pass.
package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	sharedErrors "github.com/autopatch-dev/autopatch/pkg/shared/errors"
)

// Header names follow the GitHub webhook convention.
const (
	SignatureHeader = "X-Hub-Signature-256"
	EventHeader     = "X-GitHub-Event"
	DeliveryHeader  = "X-GitHub-Delivery"
)

// allowedActions lists the pull_request actions that trigger a run.
var allowedActions = map[string]struct{}{
	"opened":      {},
	"synchronize": {},
}

// Event is the compact decoded payload the pipeline consumes.
type Event struct {
	DeliveryID    string
	Owner         string
	Repo          string
	ChangeRequest int
	HeadSHA       string
	BaseSHA       string
	Branch        string
	CloneURL      string
}

// Repository returns the owner/name form used for rate keys and export.
func (e Event) Repository() string {
	return e.Owner + "/" + e.Repo
}

// VerifySignature checks the HMAC-SHA256 signature over the raw body using
// a constant-time compare. The header value carries a "sha256=" prefix.
func VerifySignature(secret, signature string, body []byte) error {
	if secret == "" {
		return sharedErrors.NewIngestionRejectedError("webhook secret is not configured")
	}
	expected, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || expected == "" {
		return sharedErrors.NewIngestionRejectedError("missing or malformed signature header")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(strings.ToLower(expected))) {
		return sharedErrors.NewIngestionRejectedError("signature mismatch")
	}
	return nil
}

// payload mirrors the subset of the pull_request event the pipeline needs.
type payload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int `json:"number"`
		Head   struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			SHA string `json:"sha"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository struct {
		Name     string `json:"name"`
		CloneURL string `json:"clone_url"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// Decode parses an event payload into an Event, rejecting event types and
// actions outside the allowlist. Every delivery must carry an identifier;
// without one replay protection cannot hold.
func Decode(eventType, deliveryID string, body []byte) (Event, error) {
	if deliveryID == "" {
		return Event{}, sharedErrors.NewIngestionRejectedError("missing delivery identifier")
	}
	if eventType != "pull_request" {
		return Event{}, sharedErrors.NewIngestionRejectedError(fmt.Sprintf("event type %q is not handled", eventType))
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, sharedErrors.NewIngestionRejectedError(fmt.Sprintf("malformed payload: %v", err))
	}

	if _, ok := allowedActions[p.Action]; !ok {
		return Event{}, sharedErrors.NewIngestionRejectedError(fmt.Sprintf("action %q is not handled", p.Action))
	}

	event := Event{
		DeliveryID:    deliveryID,
		Owner:         p.Repository.Owner.Login,
		Repo:          p.Repository.Name,
		ChangeRequest: p.PullRequest.Number,
		HeadSHA:       p.PullRequest.Head.SHA,
		BaseSHA:       p.PullRequest.Base.SHA,
		Branch:        p.PullRequest.Head.Ref,
		CloneURL:      p.Repository.CloneURL,
	}
	if event.Owner == "" || event.Repo == "" || event.ChangeRequest == 0 || event.HeadSHA == "" {
		return Event{}, sharedErrors.NewIngestionRejectedError("payload is missing required fields")
	}
	return event, nil
}
