// Package ledger tracks which deliveries and findings have already been
// handled. Three concerns share the underlying key store: delivery replay
// detection, per-finding idempotency, and the per-repository fix rate
// window.
package ledger

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

// Default windows. Replay and idempotency entries expire after a day; the
// rate window admits at most RateLimit fix runs per RateWindow.
const (
	ReplayTTL      = 24 * time.Hour
	IdempotencyTTL = 24 * time.Hour
	RateLimit      = 10
	RateWindow     = 60 * time.Second
)

// Ledger wraps a Store with the pipeline's bookkeeping operations.
type Ledger struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
	logger hclog.Logger
}

// New builds a Ledger over the given store with the default rate window.
func New(store Store, logger hclog.Logger) *Ledger {
	return &Ledger{store: store, limit: RateLimit, window: RateWindow, now: time.Now, logger: logger}
}

// MarkDelivery records a webhook delivery ID. It returns false when the same
// delivery was already seen inside the replay window, in which case the
// event must be acknowledged without processing. A delivery without an ID
// cannot be replay-checked and is rejected outright.
func (l *Ledger) MarkDelivery(deliveryID string) bool {
	if deliveryID == "" {
		l.logger.Warn("delivery without an identifier rejected")
		return false
	}
	fresh := l.store.CompareAndInsert("delivery:"+deliveryID, "seen", ReplayTTL)
	if !fresh {
		l.logger.Warn("duplicate webhook delivery ignored", "delivery_id", deliveryID)
	}
	return fresh
}

// ClaimFinding records an idempotency key for a finding at a specific change
// request head. It returns false when the same finding at the same head was
// already fixed or attempted, so reruns against an unchanged head are no-ops.
func (l *Ledger) ClaimFinding(changeRequestID int, headSHA string, f findings.Finding) bool {
	key := findings.IdempotencyKey(changeRequestID, headSHA, f.Fingerprint())
	return l.store.CompareAndInsert("finding:"+key, "claimed", IdempotencyTTL)
}

// ReleaseFinding removes a previously claimed idempotency key, used when a
// claimed fix was rolled back before commit so a later run may retry it.
func (l *Ledger) ReleaseFinding(changeRequestID int, headSHA string, f findings.Finding) {
	key := findings.IdempotencyKey(changeRequestID, headSHA, f.Fingerprint())
	l.store.Delete("finding:" + key)
}

// AllowRun consumes one slot from the repository's fixed rate window. The
// window is anchored to wall-clock boundaries: the call after a window rolls
// over starts a fresh count.
func (l *Ledger) AllowRun(repo string) bool {
	windowStart := l.now().Unix() / int64(l.window/time.Second)
	key := fmt.Sprintf("rate:%s:%d", repo, windowStart)
	count := l.store.Increment(key, l.window)
	if count > l.limit {
		l.logger.Warn("rate window exhausted", "repo", repo, "count", count, "limit", l.limit)
		return false
	}
	return true
}
