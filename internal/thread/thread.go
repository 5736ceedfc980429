package thread

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opendesk/threadsync/internal/core"
	"github.com/opendesk/threadsync/internal/deskapi"
	"github.com/opendesk/threadsync/internal/presence"
	"github.com/opendesk/threadsync/internal/types"
)

// Config holds thread tuning knobs.
type Config struct {
	FetchInterval    time.Duration
	PresenceInterval time.Duration
	TypingExpiry     time.Duration
	ReconcileWindow  time.Duration
	Debug            bool
}

// DefaultConfig returns the intervals used against production backends.
func DefaultConfig() Config {
	return Config{
		FetchInterval:    10 * time.Second,
		PresenceInterval: 2 * time.Second,
		TypingExpiry:     3 * time.Second,
		ReconcileWindow:  2 * time.Minute,
	}
}

// API is the backend surface a thread polls and posts to. Satisfied by
// *deskapi.Client. Kept narrow so a push-based transport could substitute
// for polling without touching the reconciler.
type API interface {
	Ticket(ctx context.Context, ticketRef string) (deskapi.TicketResponse, error)
	PostComment(ctx context.Context, ticketID string, req deskapi.CommentRequest) (deskapi.Comment, error)
	PostAttachment(ctx context.Context, ticketID string, req deskapi.AttachmentRequest) (deskapi.Comment, error)
	TypingStatus(ctx context.Context, ticketID, excludingUserID string) (*deskapi.TypingReply, error)
	SetTyping(ctx context.Context, req deskapi.TypingRequest) error
}

// Cache is the durable mirror a thread writes through to. Satisfied by
// *cache.Store. May be nil; the thread then runs purely in memory.
type Cache interface {
	Load(ticketID string) ([]types.Message, error)
	Save(ticketID string, messages []types.Message) error
	StageBlob(ticketID, fileName, mimeType string, data []byte) (string, error)
	DiscardBlob(stagingID string) error
	DiscardTicketBlobs(ticketID string) error
}

// Thread owns the conversation state for one ticket: the message store,
// the reconciler, and both pollers. Created by Open, torn down by Close.
type Thread struct {
	ticketID string
	identity core.Identity
	api      API
	cache    Cache
	cfg      Config
	logger   *log.Logger

	store      *Store
	reconciler *Reconciler
	presence   *presence.Monitor

	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
	sendWG sync.WaitGroup
	closed atomic.Bool
}

// Open creates the thread for a ticket, seeds the store from the cache,
// runs an immediate fetch, and starts the fetch and presence pollers.
// The returned thread must be Closed to stop the pollers.
func Open(ctx context.Context, ticketID string, identity core.Identity, api API, cache Cache, cfg Config, logger *log.Logger) (*Thread, error) {
	defaults := DefaultConfig()
	if cfg.FetchInterval <= 0 {
		cfg.FetchInterval = defaults.FetchInterval
	}
	if cfg.PresenceInterval <= 0 {
		cfg.PresenceInterval = defaults.PresenceInterval
	}
	if cfg.TypingExpiry <= 0 {
		cfg.TypingExpiry = defaults.TypingExpiry
	}
	if cfg.ReconcileWindow <= 0 {
		cfg.ReconcileWindow = defaults.ReconcileWindow
	}

	t := &Thread{
		ticketID: ticketID,
		identity: identity,
		api:      api,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		store:    NewStore(),
		stopCh:   make(chan struct{}),
	}
	t.reconciler = NewReconciler(t.store, cfg.ReconcileWindow, logger)
	t.presence = presence.NewMonitor(api, ticketID, identity, cfg.TypingExpiry, logger)

	// Seed from the cache before installing write-through, so loading does
	// not immediately save the same rows back. Cache failures are
	// non-fatal: the in-memory store is authoritative for the session.
	if cache != nil {
		cached, err := cache.Load(ticketID)
		if err != nil {
			t.logf("cache load for ticket %s: %v", ticketID, err)
		}
		for _, msg := range cached {
			if err := t.store.Append(msg); err != nil {
				t.logf("cache seed %s: %v", msg.ID, err)
			}
		}
	}
	t.store.SetWriteThrough(t.persist)

	pollCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.fetchOnce(pollCtx)

	t.wg.Add(2)
	go t.fetchLoop(pollCtx)
	go t.presenceLoop(pollCtx)

	return t, nil
}

// Close cancels both pollers and waits for them, clears the local typing
// signal, and drops staged upload payloads. In-flight send confirmations
// are not cancelled; their results are discarded when they arrive.
func (t *Thread) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()
	close(t.stopCh)
	t.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	t.presence.StopLocal(ctx)

	if t.cache != nil {
		if err := t.cache.DiscardTicketBlobs(t.ticketID); err != nil {
			t.logf("discard staged blobs: %v", err)
		}
	}
	return nil
}

// Snapshot returns the ordered conversation for rendering.
func (t *Thread) Snapshot() []types.Message {
	return t.store.Snapshot()
}

// Typing returns the active "X is typing" indicator, or nil.
func (t *Thread) Typing() *types.TypingStatus {
	return t.presence.Current()
}

// NotifyTyping records local input for the typing-presence signal.
func (t *Thread) NotifyTyping(ctx context.Context) {
	if t.closed.Load() {
		return
	}
	t.presence.TouchLocal(ctx)
}

// StopTyping explicitly clears the local typing signal (blur).
func (t *Thread) StopTyping(ctx context.Context) {
	t.presence.StopLocal(ctx)
}

// TicketID returns the ticket this thread is scoped to.
func (t *Thread) TicketID() string {
	return t.ticketID
}

// Wait blocks until in-flight send confirmations have settled. Mostly
// useful for one-shot callers and tests.
func (t *Thread) Wait() {
	t.sendWG.Wait()
}

func (t *Thread) fetchLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.FetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.fetchOnce(ctx)
		}
	}
}

// fetchOnce retrieves the canonical comment list and merges anything not
// yet known. A failed fetch is logged and silently retried next interval;
// it never clears existing state.
func (t *Thread) fetchOnce(ctx context.Context) {
	resp, err := t.api.Ticket(ctx, t.ticketID)
	if err != nil {
		t.logf("fetch ticket %s: %v", t.ticketID, err)
		return
	}

	batch := make([]types.Message, 0, len(resp.Comments))
	for _, comment := range resp.Comments {
		if comment.IsInternal {
			continue
		}
		msg := comment.ToMessage(t.identity)
		if t.store.Has(msg.ID) {
			continue
		}
		batch = append(batch, msg)
	}
	if len(batch) == 0 || t.closed.Load() {
		return
	}

	result := t.reconciler.Merge(batch)
	t.debugf("fetch ticket %s: %d added, %d replaced, %d skipped",
		t.ticketID, result.Added, result.Replaced, result.Skipped)
}

func (t *Thread) presenceLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			if err := t.presence.Poll(ctx); err != nil {
				t.debugf("presence poll: %v", err)
			}
		}
	}
}

// persist is the store's write-through hook. Failures are logged only; the
// in-memory store remains authoritative.
func (t *Thread) persist(messages []types.Message) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Save(t.ticketID, messages); err != nil {
		t.logf("cache save for ticket %s: %v", t.ticketID, err)
	}
}

func (t *Thread) logf(format string, args ...any) {
	if t.logger == nil {
		return
	}
	t.logger.Printf(format, args...)
}

func (t *Thread) debugf(format string, args ...any) {
	if !t.cfg.Debug || t.logger == nil {
		return
	}
	t.logger.Printf(format, args...)
}
