package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPoller_StopsWhenDone(t *testing.T) {
	clock := newMockClock()
	notifier := &mockNotifier{}
	poller := NewPoller(clock, notifier, &mockReporter{})

	calls := 0
	err := poller.Poll(context.Background(), 600, NewManifest("command", "deploy"), func(ctx context.Context, i int) (bool, error) {
		if i != calls {
			t.Errorf("Expected iteration index %d, got %d", calls, i)
		}
		calls++
		return i == 4, nil
	})

	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if calls != 5 {
		t.Errorf("Expected tick to be called 5 times, got %d", calls)
	}
	if len(notifier.notifications) != 0 {
		t.Errorf("Expected no notifications, got %d", len(notifier.notifications))
	}
	if len(clock.sleeps) != 4 {
		t.Errorf("Expected 4 sleeps, got %d", len(clock.sleeps))
	}
	for _, d := range clock.sleeps {
		if d != time.Second {
			t.Errorf("Expected fixed 1s interval, got %v", d)
		}
	}
}

func TestPoller_Heartbeat(t *testing.T) {
	poller := NewPoller(newMockClock(), &mockNotifier{}, &mockReporter{})

	beats := 0
	poller.SetHeartbeat(func(ctx context.Context) error {
		beats++
		return nil
	})
	err := poller.Poll(context.Background(), 600, NewManifest(), func(ctx context.Context, i int) (bool, error) {
		return i == 130, nil
	})
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if beats != 2 {
		t.Errorf("Expected 2 heartbeats, got %d", beats)
	}

	lost := errors.New("lease lost")
	poller.SetHeartbeat(func(ctx context.Context) error { return lost })
	calls := 0
	err = poller.Poll(context.Background(), 600, NewManifest(), func(ctx context.Context, i int) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, lost) {
		t.Fatalf("Poll() error = %v, want heartbeat error", err)
	}
	if calls != 61 {
		t.Errorf("Expected polling to stop at the first minute mark, got %d ticks", calls)
	}

	poller.SetHeartbeat(nil)
	if err := poller.Poll(context.Background(), 600, NewManifest(), func(ctx context.Context, i int) (bool, error) {
		return i == 70, nil
	}); err != nil {
		t.Fatalf("Poll() without heartbeat error = %v", err)
	}
}

func TestPoller_Timeout(t *testing.T) {
	clock := newMockClock()
	notifier := &mockNotifier{}
	poller := NewPoller(clock, notifier, &mockReporter{})

	calls := 0
	err := poller.Poll(context.Background(), 3, NewManifest("command", "add instance"), func(ctx context.Context, i int) (bool, error) {
		calls++
		return false, nil
	})

	if !IsKind(err, KindTimeout) {
		t.Fatalf("Expected timeout error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected tick to be called 3 times, got %d", calls)
	}
	if len(notifier.notifications) != 1 {
		t.Fatalf("Expected exactly one notification, got %d", len(notifier.notifications))
	}

	n := notifier.notifications[0]
	if n.Status != StatusFailure {
		t.Errorf("Expected failure status, got %s", n.Status)
	}
	if _, ok := n.Manifest.Get("failed_at"); !ok {
		t.Error("Expected failed_at in manifest")
	}
	if v, _ := n.Manifest.Get("command"); v != "add instance" {
		t.Errorf("Expected original manifest fields to be kept, got %v", v)
	}
	if len(clock.sleeps) != 2 {
		t.Errorf("Expected 2 sleeps, got %d", len(clock.sleeps))
	}
}

func TestPoller_TickError(t *testing.T) {
	notifier := &mockNotifier{}
	poller := NewPoller(newMockClock(), notifier, &mockReporter{})
	boom := errors.New("boom")

	err := poller.Poll(context.Background(), 10, nil, func(ctx context.Context, i int) (bool, error) {
		return false, boom
	})

	if !errors.Is(err, boom) {
		t.Errorf("Expected tick error, got %v", err)
	}
	if len(notifier.notifications) != 0 {
		t.Error("Expected no timeout notification on tick error")
	}
}

func TestPoller_MinuteMarkers(t *testing.T) {
	reporter := &mockReporter{}
	poller := NewPoller(newMockClock(), &mockNotifier{}, reporter)

	_ = poller.Poll(context.Background(), 200, nil, func(ctx context.Context, i int) (bool, error) {
		return i == 150, nil
	})

	out := reporter.out.String()
	if strings.Count(out, "minute(s)") != 2 {
		t.Errorf("Expected 2 minute markers, got output %q", out)
	}
	if !strings.Contains(out, " 1 minute(s) ") || !strings.Contains(out, " 2 minute(s) ") {
		t.Errorf("Expected markers for minutes 1 and 2, got %q", out)
	}
}

func TestIsMinuteMark(t *testing.T) {
	tests := []struct {
		i    int
		want bool
	}{
		{0, false},
		{1, false},
		{59, false},
		{60, true},
		{61, false},
		{120, true},
	}
	for _, tt := range tests {
		if got := IsMinuteMark(tt.i); got != tt.want {
			t.Errorf("IsMinuteMark(%d) = %v, want %v", tt.i, got, tt.want)
		}
	}
}

func TestPoller_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	poller := NewPoller(SystemClock{}, &mockNotifier{}, &mockReporter{})
	err := poller.Poll(ctx, 5, nil, func(ctx context.Context, i int) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
