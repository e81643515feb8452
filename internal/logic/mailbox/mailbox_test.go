package mailbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SpectGo/internal/logic/queue"
)

func TestMailbox_PublishTake(t *testing.T) {
	m := New(time.Second, 512)
	reply := queue.New(3, 512)
	if err := m.Publish(context.Background(), Command{Text: "DX+", Reply: reply}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	cmd, ok := m.TryTake()
	if !ok {
		t.Fatal("TryTake found nothing")
	}
	if cmd.Text != "DX+" || cmd.Reply != reply {
		t.Errorf("took %+v", cmd)
	}
	if _, ok := m.TryTake(); ok {
		t.Error("slot should be empty after take")
	}
}

func TestMailbox_Truncates(t *testing.T) {
	m := New(time.Second, 3)
	_ = m.Publish(context.Background(), Command{Text: "S12345"})
	cmd, _ := m.TryTake()
	if cmd.Text != "S12" {
		t.Errorf("Text = %q, want S12", cmd.Text)
	}
}

func TestMailbox_BusyTimeout(t *testing.T) {
	m := New(10*time.Millisecond, 0)
	_ = m.Publish(context.Background(), Command{Text: "G"})

	start := time.Now()
	err := m.Publish(context.Background(), Command{Text: "E"})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Publish on full slot = %v, want ErrBusy", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("Publish gave up before the timeout")
	}
	if cmd, _ := m.TryTake(); cmd.Text != "G" {
		t.Errorf("first command overwritten: %q", cmd.Text)
	}
}

func TestMailbox_ContextCancel(t *testing.T) {
	m := New(time.Minute, 0)
	_ = m.Publish(context.Background(), Command{Text: "G"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Publish(ctx, Command{Text: "E"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Publish = %v, want context.Canceled", err)
	}
}

// Two publishers and one consumer: every command is delivered exactly once
// and no command replaces another still in the slot.
func TestMailbox_TwoPublishersDeliverAll(t *testing.T) {
	m := New(5*time.Second, 0)
	ctx := context.Background()

	const perPublisher = 50
	var wg sync.WaitGroup
	for _, prefix := range []string{"A", "B"} {
		wg.Add(1)
		go func(prefix string) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				if err := m.Publish(ctx, Command{Text: prefix}); err != nil {
					t.Errorf("Publish(%s): %v", prefix, err)
					return
				}
			}
		}(prefix)
	}

	counts := map[string]int{}
	deadline := time.After(5 * time.Second)
	for counts["A"]+counts["B"] < 2*perPublisher {
		select {
		case <-deadline:
			t.Fatalf("timed out, got %v", counts)
		default:
		}
		if cmd, ok := m.TryTake(); ok {
			counts[cmd.Text]++
		} else {
			time.Sleep(10 * time.Microsecond)
		}
	}
	wg.Wait()

	if counts["A"] != perPublisher || counts["B"] != perPublisher {
		t.Errorf("delivered %v, want %d each", counts, perPublisher)
	}
	if m.Pending() {
		t.Error("slot should be empty")
	}
}

func TestMailbox_WaiterWakesOnTake(t *testing.T) {
	m := New(time.Second, 0)
	_ = m.Publish(context.Background(), Command{Text: "first"})

	done := make(chan error, 1)
	go func() { done <- m.Publish(context.Background(), Command{Text: "second"}) }()

	time.Sleep(5 * time.Millisecond)
	m.TryTake()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("waiting publisher was not woken")
	}
	if cmd, _ := m.TryTake(); cmd.Text != "second" {
		t.Errorf("Text = %q, want second", cmd.Text)
	}
}
