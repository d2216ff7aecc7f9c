package netmon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProbe struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (p *fakeProbe) probe(ctx context.Context) error {
	p.calls.Add(1)
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestIsOnline_EmitsOnlyOnChange(t *testing.T) {
	p := &fakeProbe{}
	m := New(p.probe, time.Hour, time.Second, nil)
	ctx := context.Background()

	if m.Online() {
		t.Fatal("Online() got = true before any probe")
	}

	steps := []struct {
		down       bool
		wantOnline bool
		wantEvent  bool
	}{
		{false, true, true},
		{false, true, false},
		{true, false, true},
		{true, false, false},
		{false, true, true},
	}
	for i, step := range steps {
		p.down.Store(step.down)
		if got := m.IsOnline(ctx); got != step.wantOnline {
			t.Fatalf("step %d: IsOnline() got = %v, want %v", i, got, step.wantOnline)
		}

		select {
		case tr := <-m.Transitions():
			if !step.wantEvent {
				t.Fatalf("step %d: unexpected transition %+v", i, tr)
			}
			if tr.Online != step.wantOnline {
				t.Errorf("step %d: transition Online got = %v, want %v", i, tr.Online, step.wantOnline)
			}
		default:
			if step.wantEvent {
				t.Fatalf("step %d: missing transition", i)
			}
		}
	}
}

func TestPublish_KeepsLatestWhenConsumerLags(t *testing.T) {
	p := &fakeProbe{}
	m := New(p.probe, time.Hour, time.Second, nil)
	ctx := context.Background()

	m.IsOnline(ctx)
	p.down.Store(true)
	m.IsOnline(ctx)

	tr := <-m.Transitions()
	if tr.Online {
		t.Errorf("pending transition got = online, want the latest (offline)")
	}
	select {
	case extra := <-m.Transitions():
		t.Errorf("unexpected extra transition %+v", extra)
	default:
	}
}

func TestRun_ProbesUntilCancelled(t *testing.T) {
	p := &fakeProbe{}
	m := New(p.probe, 5*time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case tr := <-m.Transitions():
		if !tr.Online {
			t.Errorf("first transition got = offline, want online")
		}
	case <-time.After(time.Second):
		t.Fatal("no transition from Run")
	}

	deadline := time.Now().Add(time.Second)
	for p.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if p.calls.Load() < 3 {
		t.Errorf("probe calls got = %d, want at least 3", p.calls.Load())
	}
}

func TestCheck_AppliesTimeout(t *testing.T) {
	m := New(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, time.Hour, 10*time.Millisecond, nil)

	start := time.Now()
	if m.IsOnline(context.Background()) {
		t.Error("IsOnline() got = true for a hanging probe")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("IsOnline() took %v, want the probe timeout to apply", elapsed)
	}
}
