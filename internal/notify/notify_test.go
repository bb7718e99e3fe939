package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/porterline/internal/eventbus"
)

// mockClient records PostMessage calls and can fail the first N of them.
type mockClient struct {
	mu       sync.Mutex
	calls    []string // channel IDs
	failNext int
	failWith error
}

func (m *mockClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return "", "", m.failWith
	}
	m.calls = append(m.calls, channelID)
	return channelID, "ts", nil
}

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{Channel: "C1"}); err == nil {
		t.Error("missing token accepted")
	}
	if _, err := New(Opts{Token: "xoxb-x"}); err == nil {
		t.Error("missing channel accepted")
	}
	if _, err := New(Opts{Client: &mockClient{}, Channel: "C1"}); err != nil {
		t.Errorf("injected client rejected: %v", err)
	}
}

func waitForCalls(t *testing.T, m *mockClient, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.callCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("posted %d messages, want %d", m.callCount(), want)
}

func TestRun_ForwardsAlertsOnly(t *testing.T) {
	mock := &mockClient{}
	n, err := New(Opts{Client: mock, Channel: "C1"})
	if err != nil {
		t.Fatal(err)
	}

	bus := eventbus.NewFanout()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx, bus)
		close(done)
	}()
	// Give the subscriber a moment to attach.
	time.Sleep(20 * time.Millisecond)

	// State-change chatter is not forwarded.
	bus.Publish(eventbus.JobCreated{RequestID: "tr-1"})
	bus.Publish(eventbus.JobStatusChanged{RequestID: "tr-1", From: "pending", To: "assigned"})

	bus.Publish(eventbus.TimeoutAlert{RequestID: "tr-1", WorkerID: "w1", ElapsedSeconds: 130})
	bus.Publish(eventbus.BreakAlert{WorkerID: "w2", MinutesOnBreak: 41})
	bus.Publish(eventbus.WorkerOffline{WorkerID: "w3", LastSeen: time.Now()})
	bus.Publish(eventbus.CycleTimeAlert{RequestID: "tr-1", Phase: "pickup", ElapsedSeconds: 900, BaselineSeconds: 600, Mode: "manual"})
	bus.Publish(eventbus.AutoAssignTimeout{RequestID: "tr-1", OldWorkerID: "w1", NewWorkerID: "w4", Reason: "primary floor"})

	waitForCalls(t, mock, 5)
	if got := mock.callCount(); got != 5 {
		t.Errorf("posts = %d, want exactly the 5 alerts", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Run did not stop on context cancel")
	}
}

func TestRun_StopsWhenBusCloses(t *testing.T) {
	mock := &mockClient{}
	n, err := New(Opts{Client: mock, Channel: "C1"})
	if err != nil {
		t.Fatal(err)
	}

	bus := eventbus.NewFanout()
	done := make(chan struct{})
	go func() {
		n.Run(context.Background(), bus)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	bus.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Run did not stop when the bus closed")
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	mock := &mockClient{
		failNext: 1,
		failWith: &slackapi.RateLimitedError{RetryAfter: 10 * time.Millisecond},
	}
	n, err := New(Opts{Client: mock, Channel: "C1"})
	if err != nil {
		t.Fatal(err)
	}

	att, _ := format(eventbus.BreakAlert{WorkerID: "w1", MinutesOnBreak: 35})
	if err := n.post(context.Background(), att); err != nil {
		t.Fatalf("post after rate limit: %v", err)
	}
	if mock.callCount() != 1 {
		t.Errorf("posts = %d, want 1 successful retry", mock.callCount())
	}
}

func TestPost_NonRateLimitErrorNotRetried(t *testing.T) {
	mock := &mockClient{
		failNext: 1,
		failWith: errors.New("channel_not_found"),
	}
	n, err := New(Opts{Client: mock, Channel: "C1"})
	if err != nil {
		t.Fatal(err)
	}

	att, _ := format(eventbus.BreakAlert{WorkerID: "w1", MinutesOnBreak: 35})
	if err := n.post(context.Background(), att); err == nil {
		t.Error("hard error should propagate")
	}
	if mock.callCount() != 0 {
		t.Errorf("posts = %d, want 0", mock.callCount())
	}
}

func TestFormat_CoversAlertTypes(t *testing.T) {
	alerts := []eventbus.Event{
		eventbus.TimeoutAlert{},
		eventbus.AutoAssignTimeout{},
		eventbus.CycleTimeAlert{},
		eventbus.BreakAlert{},
		eventbus.WorkerOffline{},
	}
	for _, e := range alerts {
		att, ok := format(e)
		if !ok {
			t.Errorf("%T not treated as an alert", e)
		}
		if att.Title == "" || att.Fallback == "" {
			t.Errorf("%T attachment missing title/fallback", e)
		}
	}
	if _, ok := format(eventbus.JobCreated{}); ok {
		t.Error("job_created treated as an alert")
	}
}
