package thread

import (
	"log"
	"time"

	"github.com/opendesk/threadsync/internal/core"
	"github.com/opendesk/threadsync/internal/types"
)

// MergeResult summarizes one reconciliation pass.
type MergeResult struct {
	Added    int `json:"added"`
	Replaced int `json:"replaced"`
	Skipped  int `json:"skipped"`
}

// Reconciler folds server-confirmed entries into a store without
// duplicating optimistic entries already shown. Matching is by identity and
// content, never by arrival order, so interleaved poll responses and send
// confirmations stay correct regardless of which resolves first.
type Reconciler struct {
	store  *Store
	window time.Duration
	logger *log.Logger
}

// NewReconciler creates a reconciler over the given store. window bounds
// the fallback text-match heuristic.
func NewReconciler(store *Store, window time.Duration, logger *log.Logger) *Reconciler {
	if window <= 0 {
		window = 2 * time.Minute
	}
	return &Reconciler{store: store, window: window, logger: logger}
}

// Merge applies a batch of server-confirmed entries. For each entry:
// an id already present is a no-op; an entry whose client_ref names an
// outstanding optimistic entry replaces it; an entry matching the oldest
// unmatched optimistic entry by content within the window replaces that;
// anything else is appended at its CreatedAt position. When the fallback
// heuristic is ambiguous the entry is appended rather than guessed onto an
// optimistic entry, so a user's message is never silently deleted.
func (r *Reconciler) Merge(batch []types.Message) MergeResult {
	var result MergeResult
	for _, entry := range batch {
		if entry.Origin != types.OriginConfirmed {
			result.Skipped++
			continue
		}
		switch r.mergeOne(entry) {
		case mergeAdded:
			result.Added++
		case mergeReplaced:
			result.Replaced++
		default:
			result.Skipped++
		}
	}
	return result
}

type mergeAction int

const (
	mergeSkipped mergeAction = iota
	mergeAdded
	mergeReplaced
)

func (r *Reconciler) mergeOne(entry types.Message) mergeAction {
	if r.store.Has(entry.ID) {
		return mergeSkipped
	}

	// Primary match: the temporary id carried through the request.
	if entry.ClientRef != "" && core.IsTempID(entry.ClientRef) {
		if current, ok := r.store.Get(entry.ClientRef); ok {
			if err := r.store.Replace(current.ID, entry); err == nil {
				return mergeReplaced
			}
		}
	}

	// Fallback: oldest unmatched optimistic entry with equal content
	// inside the time window.
	if id := r.fallbackMatch(entry); id != "" {
		if err := r.store.Replace(id, entry); err == nil {
			return mergeReplaced
		}
	}

	if err := r.store.Append(entry); err != nil {
		r.logf("reconcile: append %s: %v", entry.ID, err)
		return mergeSkipped
	}
	return mergeAdded
}

func (r *Reconciler) fallbackMatch(entry types.Message) string {
	// Optimistic entries are always the local user's own sends, so only a
	// self-authored confirmation can correspond to one. A counterpart
	// comment with the same text must append, not swallow the user's entry.
	if entry.Sender != types.SenderSelf {
		return ""
	}
	// Snapshot is CreatedAt-ordered, so the first hit is the oldest
	// outstanding optimistic entry (first-in-first-matched).
	for _, candidate := range r.store.Snapshot() {
		if candidate.Origin != types.OriginOptimistic {
			continue
		}
		if !withinWindow(candidate.CreatedAt, entry.CreatedAt, r.window) {
			continue
		}
		if !contentEqual(candidate, entry) {
			continue
		}
		return candidate.ID
	}
	return ""
}

func contentEqual(optimistic, confirmed types.Message) bool {
	if (optimistic.Attachment == nil) != (confirmed.Attachment == nil) {
		return false
	}
	if optimistic.Attachment != nil {
		return optimistic.Attachment.Name == confirmed.Attachment.Name
	}
	return optimistic.Text != "" && optimistic.Text == confirmed.Text
}

func withinWindow(a, b int64, window time.Duration) bool {
	delta := a - b
	if delta < 0 {
		delta = -delta
	}
	return delta <= window.Milliseconds()
}

func (r *Reconciler) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}
