package queue

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := New(3, 512)
	for _, s := range []string{"a", "b", "c"} {
		if !q.Push(s) {
			t.Fatalf("Push(%q) dropped", s)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Errorf("Pop() = %q, %v; want %q", got, ok, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop on empty queue should report false")
	}
}

func TestQueue_DropNewestWhenFull(t *testing.T) {
	q := New(3, 512)
	for i := 1; i <= 4; i++ {
		q.Push(fmt.Sprintf("m%d", i))
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	var got []string
	for {
		s, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, s)
	}
	if strings.Join(got, ",") != "m1,m2,m3" {
		t.Errorf("drained %v, want [m1 m2 m3]", got)
	}
}

func TestQueue_WrapAround(t *testing.T) {
	q := New(3, 0)
	q.Push("a")
	q.Push("b")
	q.Pop()
	q.Push("c")
	q.Push("d")
	if q.Push("e") {
		t.Error("fourth line should be dropped")
	}
	for _, want := range []string{"b", "c", "d"} {
		if got, _ := q.Pop(); got != want {
			t.Errorf("Pop() = %q, want %q", got, want)
		}
	}
}

func TestQueue_Truncates(t *testing.T) {
	q := New(3, 4)
	q.Push("abcdefgh")
	if got, _ := q.Pop(); got != "abcd" {
		t.Errorf("Pop() = %q, want abcd", got)
	}
}

func TestQueue_ConcurrentPushNeverExceedsCapacity(t *testing.T) {
	q := New(3, 0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	stored := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if q.Push(fmt.Sprint(i)) {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if stored != 3 || q.Len() != 3 {
		t.Errorf("stored %d, Len %d; want 3", stored, q.Len())
	}
}
