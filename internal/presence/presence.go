package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/opendesk/threadsync/internal/core"
	"github.com/opendesk/threadsync/internal/deskapi"
	"github.com/opendesk/threadsync/internal/types"
)

// API is the typing-status surface the monitor depends on.
type API interface {
	TypingStatus(ctx context.Context, ticketID, excludingUserID string) (*deskapi.TypingReply, error)
	SetTyping(ctx context.Context, req deskapi.TypingRequest) error
}

// Monitor owns the typing-presence state for one ticket: the polled remote
// indicator and the debounced local "I am typing" signal. Nothing here is
// persisted; the remote indicator decays on its own when positive polls
// stop arriving.
type Monitor struct {
	api      API
	ticketID string
	identity core.Identity
	expiry   time.Duration
	logger   *log.Logger

	mu          sync.Mutex
	current     *types.TypingStatus
	localTyping bool
	stopTimer   *time.Timer
}

// NewMonitor creates a presence monitor for a ticket. expiry controls both
// how long a positive remote signal is shown without renewal and how long
// local typing persists after the last keystroke.
func NewMonitor(api API, ticketID string, identity core.Identity, expiry time.Duration, logger *log.Logger) *Monitor {
	if expiry <= 0 {
		expiry = 3 * time.Second
	}
	return &Monitor{
		api:      api,
		ticketID: ticketID,
		identity: identity,
		expiry:   expiry,
		logger:   logger,
	}
}

// Poll queries the backend for another participant's typing flag and folds
// the reply into the current indicator.
func (m *Monitor) Poll(ctx context.Context) error {
	reply, err := m.api.TypingStatus(ctx, m.ticketID, m.identity.UserID)
	if err != nil {
		return err
	}
	m.Observe(reply)
	return nil
}

// Observe applies one typing-status reply. A positive reply arms (or
// extends) the indicator deadline; a nil reply lets the existing deadline
// run out on its own. The local user's own signal is never surfaced.
func (m *Monitor) Observe(reply *deskapi.TypingReply) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reply == nil || !reply.IsTyping {
		return
	}
	if reply.UserID != "" && reply.UserID == m.identity.UserID {
		return
	}

	m.current = &types.TypingStatus{
		TicketID:  m.ticketID,
		UserID:    reply.UserID,
		UserName:  reply.UserName,
		IsTyping:  true,
		ExpiresAt: time.Now().Add(m.expiry).UnixMilli(),
	}
}

// Current returns the active "X is typing" indicator, or nil once it has
// expired.
func (m *Monitor) Current() *types.TypingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	if time.Now().UnixMilli() >= m.current.ExpiresAt {
		m.current = nil
		return nil
	}
	status := *m.current
	return &status
}

// TouchLocal records local input: pushes "I am typing" on the first
// keystroke of a burst and re-arms the auto-expiry timer on every call.
func (m *Monitor) TouchLocal(ctx context.Context) {
	m.mu.Lock()
	wasTyping := m.localTyping
	m.localTyping = true
	if m.stopTimer != nil {
		m.stopTimer.Stop()
	}
	m.stopTimer = time.AfterFunc(m.expiry, func() {
		m.StopLocal(context.Background())
	})
	m.mu.Unlock()

	if wasTyping {
		return
	}
	if err := m.push(ctx, true); err != nil {
		m.logf("presence: push typing=true: %v", err)
	}
}

// StopLocal clears the local typing signal. Called explicitly on blur or
// send, and by the auto-expiry timer after inactivity.
func (m *Monitor) StopLocal(ctx context.Context) {
	m.mu.Lock()
	wasTyping := m.localTyping
	m.localTyping = false
	if m.stopTimer != nil {
		m.stopTimer.Stop()
		m.stopTimer = nil
	}
	m.mu.Unlock()

	if !wasTyping {
		return
	}
	if err := m.push(ctx, false); err != nil {
		m.logf("presence: push typing=false: %v", err)
	}
}

// LocalTyping reports whether the local signal is currently raised.
func (m *Monitor) LocalTyping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localTyping
}

func (m *Monitor) push(ctx context.Context, isTyping bool) error {
	return m.api.SetTyping(ctx, deskapi.TypingRequest{
		TicketID: m.ticketID,
		IsTyping: isTyping,
		UserID:   m.identity.UserID,
		UserName: m.identity.UserName,
	})
}

func (m *Monitor) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}
