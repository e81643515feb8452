// Package queue provides the bounded message queue used for outbound lines.
package queue

import "sync"

// Queue is a fixed-capacity FIFO of text lines. Push never blocks: when the
// queue is full the new line is dropped and already queued lines are kept.
type Queue struct {
	mu     sync.Mutex
	lines  []string
	head   int // index of the oldest line
	count  int
	maxLen int
}

// New returns a queue holding at most capacity lines of at most maxLen bytes.
// maxLen <= 0 disables truncation.
func New(capacity, maxLen int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{lines: make([]string, capacity), maxLen: maxLen}
}

// Push appends line and reports whether it was stored.
func (q *Queue) Push(line string) bool {
	if q.maxLen > 0 && len(line) > q.maxLen {
		line = line[:q.maxLen]
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == len(q.lines) {
		return false
	}
	q.lines[(q.head+q.count)%len(q.lines)] = line
	q.count++
	return true
}

// Pop removes and returns the oldest line.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return "", false
	}
	line := q.lines[q.head]
	q.lines[q.head] = ""
	q.head = (q.head + 1) % len(q.lines)
	q.count--
	return line, true
}

// Len returns the number of queued lines.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.lines)
}
