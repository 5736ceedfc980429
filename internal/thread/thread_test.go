package thread

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opendesk/threadsync/internal/cache"
	"github.com/opendesk/threadsync/internal/core"
	"github.com/opendesk/threadsync/internal/deskapi"
	"github.com/opendesk/threadsync/internal/types"
)

// fakeBackend simulates the help-desk API for one ticket.
type fakeBackend struct {
	mu          sync.Mutex
	comments    []deskapi.Comment
	nextID      int64
	failPosts   bool
	postDelay   time.Duration
	postCount   int
	ticketGets  int
	typing      *deskapi.TypingReply
	typingPosts []deskapi.TypingRequest

	server *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{nextID: 500}

	mux := http.NewServeMux()
	mux.HandleFunc("/typing-status", b.handleTyping)
	mux.HandleFunc("/tickets/", b.handleTickets)
	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) handleTyping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodPost {
		var req deskapi.TypingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.typingPosts = append(b.typingPosts, req)
		b.mu.Unlock()
		io.WriteString(w, `{"ok": true}`)
		return
	}

	b.mu.Lock()
	reply := b.typing
	b.mu.Unlock()
	if reply == nil {
		io.WriteString(w, `{"is_typing": false}`)
		return
	}
	_ = json.NewEncoder(w).Encode(reply)
}

func (b *fakeBackend) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/comments") {
		b.handlePostComment(w, r)
		return
	}

	b.mu.Lock()
	b.ticketGets++
	resp := deskapi.TicketResponse{
		ID:       42,
		Comments: append([]deskapi.Comment(nil), b.comments...),
	}
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (b *fakeBackend) handlePostComment(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.postCount++
	delay := b.postDelay
	fail := b.failPosts
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error": "server_error", "message": "boom"}`)
		return
	}

	var comment deskapi.Comment
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		_, header, err := r.FormFile("attachment")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		comment = deskapi.Comment{
			Comment:        r.FormValue("comment"),
			ClientRef:      r.FormValue("client_ref"),
			Attachment:     "https://cdn.example.com/" + header.Filename,
			AttachmentName: header.Filename,
			AttachmentType: r.FormValue("attachment_type"),
		}
	} else {
		var req deskapi.CommentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		comment = deskapi.Comment{Comment: req.Comment, ClientRef: req.ClientRef}
	}

	b.mu.Lock()
	b.nextID++
	comment.ID = b.nextID
	comment.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	comment.User = &deskapi.User{ID: 7, FirstName: "Sam"}
	b.comments = append(b.comments, comment)
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(comment)
}

func (b *fakeBackend) addAgentComment(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.comments = append(b.comments, deskapi.Comment{
		ID:        b.nextID,
		Comment:   text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		User:      &deskapi.User{ID: 9, Role: "agent", FirstName: "Riley"},
	})
}

func (b *fakeBackend) addInternalComment(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.comments = append(b.comments, deskapi.Comment{
		ID:         b.nextID,
		Comment:    text,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		User:       &deskapi.User{ID: 9, Role: "agent"},
		IsInternal: true,
	})
}

func (b *fakeBackend) gets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ticketGets
}

func (b *fakeBackend) posts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.postCount
}

func (b *fakeBackend) setTyping(reply *deskapi.TypingReply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typing = reply
}

func (b *fakeBackend) setFailPosts(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPosts = fail
}

func (b *fakeBackend) setPostDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.postDelay = d
}

func (b *fakeBackend) recordedTypingPosts() []deskapi.TypingRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]deskapi.TypingRequest, len(b.typingPosts))
	copy(out, b.typingPosts)
	return out
}

var testIdentity = core.Identity{UserID: "7", UserName: "Sam"}

func testConfig() Config {
	return Config{
		FetchInterval:    20 * time.Millisecond,
		PresenceInterval: 15 * time.Millisecond,
		TypingExpiry:     60 * time.Millisecond,
		ReconcileWindow:  2 * time.Minute,
	}
}

func openTestThread(t *testing.T, b *fakeBackend, c Cache) *Thread {
	t.Helper()

	client, err := deskapi.NewClient(b.server.URL, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	th, err := Open(context.Background(), "42", testIdentity, client, c, testConfig(), nil)
	if err != nil {
		t.Fatalf("open thread: %v", err)
	}
	t.Cleanup(func() {
		_ = th.Close()
	})
	return th
}

func setupCache(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), nil)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOptimisticSendVisibleBeforeConfirmation(t *testing.T) {
	b := newFakeBackend(t)
	b.setPostDelay(150 * time.Millisecond)
	th := openTestThread(t, b, nil)

	msg, err := th.SendText(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Visible synchronously, before any network round trip completes.
	snapshot := th.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 entry immediately, got %d", len(snapshot))
	}
	if snapshot[0].ID != msg.ID || snapshot[0].Origin != types.OriginOptimistic {
		t.Fatalf("unexpected optimistic entry: %+v", snapshot[0])
	}
	if snapshot[0].Sender != types.SenderSelf || snapshot[0].Text != "Hello" {
		t.Fatalf("unexpected entry content: %+v", snapshot[0])
	}

	th.Wait()
	waitFor(t, time.Second, "confirmation", func() bool {
		snap := th.Snapshot()
		return len(snap) == 1 && snap[0].Origin == types.OriginConfirmed
	})

	snap := th.Snapshot()
	if snap[0].ID != "501" {
		t.Fatalf("expected server id 501, got %q", snap[0].ID)
	}

	// Several poll cycles later the confirmed entry must not duplicate.
	time.Sleep(100 * time.Millisecond)
	if got := len(th.Snapshot()); got != 1 {
		t.Fatalf("poll duplicated the confirmed send: %d entries", got)
	}
}

func TestPollPicksUpRemoteComments(t *testing.T) {
	b := newFakeBackend(t)
	b.addAgentComment("how can I help?")
	th := openTestThread(t, b, nil)

	waitFor(t, time.Second, "remote comment", func() bool {
		return th.store.Len() == 1
	})
	snap := th.Snapshot()
	if snap[0].Sender != types.SenderCounterpart || snap[0].Origin != types.OriginConfirmed {
		t.Fatalf("unexpected remote entry: %+v", snap[0])
	}
}

func TestPollingIsIdempotent(t *testing.T) {
	b := newFakeBackend(t)
	for i := 0; i < 5; i++ {
		b.addAgentComment("msg")
	}
	th := openTestThread(t, b, nil)

	waitFor(t, time.Second, "initial fetch", func() bool {
		return th.store.Len() == 5
	})

	// Let several polls run against the unchanged comment list.
	time.Sleep(100 * time.Millisecond)
	if got := th.store.Len(); got != 5 {
		t.Fatalf("store grew to %d on an unchanged remote list", got)
	}
}

func TestInternalCommentsAreFiltered(t *testing.T) {
	b := newFakeBackend(t)
	b.addAgentComment("public reply")
	b.addInternalComment("internal note")
	th := openTestThread(t, b, nil)

	waitFor(t, time.Second, "public comment", func() bool {
		return th.store.Len() >= 1
	})
	time.Sleep(60 * time.Millisecond)

	snap := th.Snapshot()
	if len(snap) != 1 || snap[0].Text != "public reply" {
		t.Fatalf("internal comment leaked: %+v", snap)
	}
}

func TestSendFailureMarksEntryAndKeepsIt(t *testing.T) {
	b := newFakeBackend(t)
	b.setFailPosts(true)
	th := openTestThread(t, b, nil)

	msg, err := th.SendText(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	th.Wait()

	snap := th.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("failed entry vanished: %d entries", len(snap))
	}
	if !snap[0].Failed || snap[0].ID != msg.ID {
		t.Fatalf("entry not marked failed: %+v", snap[0])
	}

	// No automatic retry.
	posts := b.posts()
	time.Sleep(100 * time.Millisecond)
	if b.posts() != posts {
		t.Fatalf("failed send was retried automatically")
	}
}

func TestAttachmentUploadFailure(t *testing.T) {
	b := newFakeBackend(t)
	b.setFailPosts(true)
	th := openTestThread(t, b, nil)

	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	msg, err := th.SendAttachment(context.Background(), path, "")
	if err != nil {
		t.Fatalf("send attachment: %v", err)
	}
	if msg.Attachment == nil || msg.Attachment.UploadState != types.UploadStateUploading {
		t.Fatalf("optimistic entry not uploading: %+v", msg.Attachment)
	}
	if msg.Attachment.LocalPath != path {
		t.Fatalf("image attachment should carry a local preview path: %+v", msg.Attachment)
	}

	th.Wait()
	snap := th.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("errored entry vanished: %d entries", len(snap))
	}
	if snap[0].Attachment.UploadState != types.UploadStateError {
		t.Fatalf("upload state %q, want error", snap[0].Attachment.UploadState)
	}
}

func TestNonImageAttachmentHasNoPreview(t *testing.T) {
	b := newFakeBackend(t)
	b.setPostDelay(100 * time.Millisecond)
	th := openTestThread(t, b, nil)

	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	msg, err := th.SendAttachment(context.Background(), path, "see attached")
	if err != nil {
		t.Fatalf("send attachment: %v", err)
	}
	if msg.Attachment.LocalPath != "" {
		t.Fatalf("non-image attachment got a preview path: %+v", msg.Attachment)
	}
}

func TestAttachmentUploadSuccessDiscardsBlob(t *testing.T) {
	b := newFakeBackend(t)
	store := setupCache(t)
	th := openTestThread(t, b, store)

	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	msg, err := th.SendAttachment(context.Background(), path, "")
	if err != nil {
		t.Fatalf("send attachment: %v", err)
	}
	stagingID := msg.Attachment.StagingID
	if stagingID == "" {
		t.Fatal("attachment was not staged")
	}

	th.Wait()
	waitFor(t, time.Second, "upload confirmation", func() bool {
		snap := th.Snapshot()
		return len(snap) == 1 && snap[0].Origin == types.OriginConfirmed
	})

	snap := th.Snapshot()
	if snap[0].Attachment.URL == "" || snap[0].Attachment.UploadState != types.UploadStateDone {
		t.Fatalf("confirmed attachment not finalized: %+v", snap[0].Attachment)
	}

	if _, err := store.TakeBlob(stagingID); !errors.Is(err, cache.ErrBlobNotFound) {
		t.Fatalf("staged blob kept after successful upload: %v", err)
	}
}

func TestCacheSeedsThreadAfterReload(t *testing.T) {
	b := newFakeBackend(t)
	b.addAgentComment("hello from the past")
	store := setupCache(t)

	first := openTestThread(t, b, store)
	waitFor(t, time.Second, "first session fetch", func() bool {
		return first.store.Len() == 1
	})
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Second session against an unreachable backend still renders the
	// cached conversation.
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	client, err := deskapi.NewClient(dead.URL, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	second, err := Open(context.Background(), "42", testIdentity, client, store, testConfig(), nil)
	if err != nil {
		t.Fatalf("reopen thread: %v", err)
	}
	defer second.Close()

	snap := second.Snapshot()
	if len(snap) != 1 || snap[0].Text != "hello from the past" {
		t.Fatalf("cache did not seed the reloaded thread: %+v", snap)
	}
}

func TestCloseStopsPolling(t *testing.T) {
	b := newFakeBackend(t)
	th := openTestThread(t, b, nil)

	waitFor(t, time.Second, "polling to start", func() bool {
		return b.gets() >= 2
	})
	if err := th.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	settled := b.gets()
	time.Sleep(100 * time.Millisecond)
	if b.gets() != settled {
		t.Fatal("poller still fetching after close")
	}
}

func TestTypingIndicatorLifecycle(t *testing.T) {
	b := newFakeBackend(t)
	b.setTyping(&deskapi.TypingReply{IsTyping: true, UserID: "9", UserName: "Riley"})
	th := openTestThread(t, b, nil)

	waitFor(t, time.Second, "typing indicator", func() bool {
		status := th.Typing()
		return status != nil && status.UserName == "Riley"
	})

	// Scenario: the other side pauses; the indicator decays without an
	// explicit stop signal.
	b.setTyping(nil)
	waitFor(t, time.Second, "indicator decay", func() bool {
		return th.Typing() == nil
	})
}

func TestSendClearsLocalTypingSignal(t *testing.T) {
	b := newFakeBackend(t)
	th := openTestThread(t, b, nil)

	th.NotifyTyping(context.Background())
	waitFor(t, time.Second, "typing push", func() bool {
		return len(b.recordedTypingPosts()) >= 1
	})

	if _, err := th.SendText(context.Background(), "done typing"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, time.Second, "stop push", func() bool {
		posts := b.recordedTypingPosts()
		return len(posts) >= 2 && !posts[len(posts)-1].IsTyping
	})
}

func TestSendOnClosedThread(t *testing.T) {
	b := newFakeBackend(t)
	th := openTestThread(t, b, nil)
	if err := th.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := th.SendText(context.Background(), "too late"); !errors.Is(err, ErrThreadClosed) {
		t.Fatalf("expected ErrThreadClosed, got %v", err)
	}
}

func TestLateConfirmationDiscardedAfterClose(t *testing.T) {
	b := newFakeBackend(t)
	b.setPostDelay(100 * time.Millisecond)
	th := openTestThread(t, b, nil)

	msg, err := th.SendText(context.Background(), "mid-flight")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := th.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	th.Wait()
	snap := th.Snapshot()
	if len(snap) != 1 || snap[0].ID != msg.ID || snap[0].Origin != types.OriginOptimistic {
		t.Fatalf("late confirmation mutated a closed thread: %+v", snap)
	}
}
