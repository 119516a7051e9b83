// Package testutil provides fakes and assertions shared by OutlineBot tests.
package testutil

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/OutlineBot/internal/models"
)

// TB is the subset of testing.TB the assertions use.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertBodyContains checks that a recorded response body contains want.
func AssertBodyContains(t TB, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	if !strings.Contains(rr.Body.String(), want) {
		t.Errorf("response body %q does not contain %q", rr.Body.String(), want)
	}
}

// FakeClock is a manually advanced time source.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts the clock at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// CompletionCall records one FakeCompleter invocation.
type CompletionCall struct {
	Preamble string
	History  []models.Turn
	UserText string
}

// FakeCompleter returns a canned reply, or Err when set.
type FakeCompleter struct {
	mu    sync.Mutex
	Reply string
	Err   error
	// Block, when non-nil, is received from before replying.
	Block chan struct{}
	calls []CompletionCall
}

// Generate records the call and returns the canned result.
func (f *FakeCompleter) Generate(ctx context.Context, preamble string, history []models.Turn, userText string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, CompletionCall{Preamble: preamble, History: history, UserText: userText})
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Reply, f.Err
}

// Calls returns a copy of the recorded calls.
func (f *FakeCompleter) Calls() []CompletionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CompletionCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// FakeService is an in-memory messaging.Service.
type FakeService struct {
	mu         sync.Mutex
	messages   chan models.InboundMessage
	updates    chan models.ConnectionUpdate
	StartErr   error
	starts     int
	reconnects int
	stopped    bool
	sent       []string
}

// NewFakeService returns a FakeService with buffered channels.
func NewFakeService() *FakeService {
	return &FakeService{
		messages: make(chan models.InboundMessage, 16),
		updates:  make(chan models.ConnectionUpdate, 16),
	}
}

func (f *FakeService) SendMessage(ctx context.Context, to string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+"|"+body)
	return nil
}

func (f *FakeService) SendPresence(ctx context.Context, to string, state models.PresenceState) error {
	return nil
}

func (f *FakeService) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.StartErr
}

func (f *FakeService) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *FakeService) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *FakeService) Messages() <-chan models.InboundMessage {
	return f.messages
}

func (f *FakeService) Updates() <-chan models.ConnectionUpdate {
	return f.updates
}

// Deliver queues an inbound message.
func (f *FakeService) Deliver(msg models.InboundMessage) {
	f.messages <- msg
}

// Emit queues a connection update.
func (f *FakeService) Emit(u models.ConnectionUpdate) {
	f.updates <- u
}

// Sent returns "to|body" for every message sent.
func (f *FakeService) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// Reconnects returns how many times Reconnect was called.
func (f *FakeService) Reconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}
